package transcribe

import (
	"path"
	"strings"
)

const DefaultMimeType = "audio/webm"

var mimeHints = []struct {
	hints []string
	mime  string
	ext   string
}{
	{[]string{"webm"}, "audio/webm", "webm"},
	{[]string{"mpeg", "mp3"}, "audio/mpeg", "mp3"},
	{[]string{"mp4", "m4a"}, "audio/mp4", "m4a"},
	{[]string{"wav", "wave"}, "audio/wav", "wav"},
	{[]string{"ogg", "oga", "opus"}, "audio/ogg", "ogg"},
	{[]string{"flac"}, "audio/flac", "flac"},
}

// InferMimeType resolves the audio MIME type from a declared content type,
// then from the extension of name (a filename or URL). Unrecognised input
// falls back to webm.
func InferMimeType(declared, name string) string {
	if m := matchMime(strings.ToLower(declared)); m != "" {
		return m
	}
	if name != "" {
		if i := strings.IndexAny(name, "?#"); i >= 0 {
			name = name[:i]
		}
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
		if m := matchMime(ext); m != "" {
			return m
		}
	}
	return DefaultMimeType
}

func matchMime(s string) string {
	if s == "" {
		return ""
	}
	for _, h := range mimeHints {
		for _, hint := range h.hints {
			if strings.Contains(s, hint) {
				return h.mime
			}
		}
	}
	return ""
}

// Extension returns the file extension the upstream expects for mimeType.
func Extension(mimeType string) string {
	for _, h := range mimeHints {
		if h.mime == mimeType {
			return h.ext
		}
	}
	return "webm"
}
