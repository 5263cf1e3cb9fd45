// Package transcribe wraps the speech-to-text service. It only fixes the
// request and response shape; the engine itself lives upstream.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var ErrEmptyTranscript = errors.New("transcription returned no text")

// maxAudioBytes bounds audio fetched from a URL.
const maxAudioBytes = 25 << 20

// AudioRef points at audio either by URL or by inline bytes.
type AudioRef struct {
	URL  string
	Data []byte
}

func (a AudioRef) Empty() bool {
	return a.URL == "" && len(a.Data) == 0
}

type Result struct {
	Text            string  `json:"text"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"duration"`
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio AudioRef, mimeType string) (Result, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// WhisperClient talks to an OpenAI-compatible /audio/transcriptions endpoint.
type WhisperClient struct {
	cfg    Config
	client *http.Client
}

func NewWhisperClient(cfg Config) (*WhisperClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("transcription API key not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &WhisperClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

func (c *WhisperClient) Transcribe(ctx context.Context, audio AudioRef, mimeType string) (Result, error) {
	data := audio.Data
	if len(data) == 0 {
		if audio.URL == "" {
			return Result{}, fmt.Errorf("no audio supplied")
		}
		fetched, err := c.fetch(ctx, audio.URL)
		if err != nil {
			return Result{}, err
		}
		data = fetched
	}

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	fileWriter, err := writer.CreateFormFile("file", "audio."+Extension(mimeType))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(data); err != nil {
		return Result{}, fmt.Errorf("failed to copy audio data: %w", err)
	}
	writer.WriteField("model", c.cfg.Model)
	writer.WriteField("response_format", "verbose_json")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/audio/transcriptions", &requestBody)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var vr verboseResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return Result{}, fmt.Errorf("failed to parse response: %w", err)
	}
	text := strings.TrimSpace(vr.Text)
	if text == "" {
		return Result{}, ErrEmptyTranscript
	}

	return Result{
		Text:            text,
		Language:        LanguageCode(vr.Language),
		DurationSeconds: vr.Duration,
	}, nil
}

func (c *WhisperClient) fetch(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("unsupported audio url scheme: %s", url)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch audio: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("audio exceeds %d bytes", maxAudioBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("audio at %s is empty", url)
	}
	return data, nil
}

// LanguageCode normalises what the upstream reports ("english", "en",
// "pt-BR") to a BCP-47 base code. Unknown names pass through lowercased.
func LanguageCode(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if tag, err := language.Parse(s); err == nil {
		base, _ := tag.Base()
		return base.String()
	}
	namer := display.English.Languages()
	for _, tag := range display.Supported.Tags() {
		if strings.EqualFold(namer.Name(tag), s) {
			base, _ := tag.Base()
			return base.String()
		}
	}
	return strings.ToLower(s)
}
