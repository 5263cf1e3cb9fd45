package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures by who has to act on them.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindUpstream   ErrorKind = "upstream"
	KindInternal   ErrorKind = "internal"
)

// Error is returned by every stage that short-circuits a run.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so wrapped copies of the sentinels below compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUnauthenticated = &Error{Kind: KindAuth, Code: "unauthenticated", Message: "Unauthorized"}
	ErrMissingInput    = &Error{
		Kind:    KindValidation,
		Code:    "missing_input",
		Message: "Either transcription (for transcription mode) or audioUrl/audioBase64 (for audio mode) is required",
	}
	ErrUnsupportedContentType = &Error{
		Kind:    KindValidation,
		Code:    "unsupported_content_type",
		Message: "Content-Type must be multipart/form-data or application/json",
	}
	ErrRecordingNotFound = &Error{Kind: KindNotFound, Code: "recording_not_found", Message: "Recording not found or access denied"}
	ErrAudioNotReady     = &Error{Kind: KindNotFound, Code: "audio_not_ready", Message: "Recording audio not yet uploaded"}
	ErrTranscriptionFail = &Error{Kind: KindUpstream, Code: "transcription_failed", Message: "Transcription failed"}
	ErrInternal          = &Error{Kind: KindInternal, Code: "internal", Message: "Internal server error"}
)

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_input", Message: msg}
}

func wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for anything untyped.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// PublicMessage is what a client may see for err. Internal details never leak.
func PublicMessage(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind != KindInternal {
		return pe.Message
	}
	return ErrInternal.Message
}
