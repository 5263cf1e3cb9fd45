package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"voicenote-processor/pkg/models"
	"voicenote-processor/pkg/storage"
	"voicenote-processor/pkg/transcribe"
)

const (
	KindMultipart = "multipart/form-data"
	KindJSON      = "application/json"
)

// RawInput is a decoded request body, whatever its encoding was.
type RawInput struct {
	ContentKind string

	AudioURL          string `json:"audioUrl"`
	AudioBase64       string `json:"audioBase64"`
	MimeType          string `json:"mimeType"`
	SourceRecordingID string `json:"sourceRecordingId"`
	RecordingID       string `json:"recordingId"`
	Transcription     string `json:"transcription"`
	AISummary         string `json:"aiSummary"`

	AudioFile     []byte `json:"-"`
	AudioFileName string `json:"-"`
	AudioFileType string `json:"-"`
}

type Mode string

const (
	ModeAudio      Mode = "audio"
	ModeTranscript Mode = "transcription"
)

// Input is what the rest of the pipeline consumes: either audio to transcribe
// or a transcript the user already edited.
type Input struct {
	Mode        Mode
	Audio       transcribe.AudioRef
	MimeType    string
	Transcript  string
	UserSummary string
	RecordingID string
}

type Normalizer struct {
	recordings storage.RecordingStore
}

func NewNormalizer(recordings storage.RecordingStore) *Normalizer {
	return &Normalizer{recordings: recordings}
}

func (n *Normalizer) Normalize(ctx context.Context, userID string, raw RawInput) (Input, error) {
	if raw.ContentKind != KindMultipart && raw.ContentKind != KindJSON {
		return Input{}, ErrUnsupportedContentType
	}

	in := Input{
		RecordingID: firstNonEmpty(raw.RecordingID, raw.SourceRecordingID),
		UserSummary: raw.AISummary,
	}

	if text := strings.TrimSpace(raw.Transcription); text != "" {
		if in.RecordingID != "" {
			if _, err := n.ownedRecording(ctx, userID, in.RecordingID); err != nil {
				return Input{}, err
			}
		}
		in.Mode = ModeTranscript
		in.Transcript = raw.Transcription
		return in, nil
	}

	in.Mode = ModeAudio
	switch {
	case len(raw.AudioFile) > 0:
		in.Audio = transcribe.AudioRef{Data: raw.AudioFile}
		in.MimeType = transcribe.InferMimeType(firstNonEmpty(raw.MimeType, raw.AudioFileType), raw.AudioFileName)
	case strings.TrimSpace(raw.AudioURL) != "":
		url := strings.TrimSpace(raw.AudioURL)
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return Input{}, validationError("audioUrl must be an http(s) URL")
		}
		in.Audio = transcribe.AudioRef{URL: url}
		in.MimeType = transcribe.InferMimeType(raw.MimeType, url)
	case strings.TrimSpace(raw.AudioBase64) != "":
		data, declared, err := decodeBase64Audio(raw.AudioBase64)
		if err != nil {
			return Input{}, validationError(fmt.Sprintf("audioBase64 is not valid base64: %v", err))
		}
		in.Audio = transcribe.AudioRef{Data: data}
		in.MimeType = transcribe.InferMimeType(firstNonEmpty(raw.MimeType, declared), "")
	case in.RecordingID != "":
		rec, err := n.ownedRecording(ctx, userID, in.RecordingID)
		if err != nil {
			return Input{}, err
		}
		if strings.TrimSpace(rec.AudioURL) == "" {
			return Input{}, ErrAudioNotReady
		}
		in.Audio = transcribe.AudioRef{URL: rec.AudioURL}
		in.MimeType = transcribe.InferMimeType(raw.MimeType, rec.AudioURL)
		return in, nil
	default:
		return Input{}, ErrMissingInput
	}

	if in.RecordingID != "" {
		if _, err := n.ownedRecording(ctx, userID, in.RecordingID); err != nil {
			return Input{}, err
		}
	}
	return in, nil
}

func (n *Normalizer) ownedRecording(ctx context.Context, userID, id string) (*models.VoiceRecording, error) {
	rec, err := n.recordings.GetRecording(ctx, id)
	if errors.Is(err, storage.ErrRecordingNotFound) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, wrap(ErrInternal, err)
	}
	if rec.UserID != userID {
		return nil, ErrRecordingNotFound
	}
	return rec, nil
}

// decodeBase64Audio accepts bare base64 or a data URI and returns the bytes
// plus any MIME type the data URI declared.
func decodeBase64Audio(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var declared string
	if strings.HasPrefix(s, "data:") {
		header, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, "", fmt.Errorf("malformed data URI")
		}
		declared = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty audio")
	}
	return data, declared, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
