// Package dialogue talks to the hosted dialogue-management backend that turns
// user text into answers. The relay never interprets intent itself.
package dialogue

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned when the backend no longer recognises a
// session id, typically after an inactivity timeout.
var ErrSessionNotFound = errors.New("dialogue: session not found")

// ResponseKind tags one generic response element.
type ResponseKind string

const (
	KindText  ResponseKind = "text"
	KindAudio ResponseKind = "audio"
	KindVideo ResponseKind = "video"
	KindImage ResponseKind = "image"
)

// IsMedia reports whether the element carries a media source URL.
func (k ResponseKind) IsMedia() bool {
	switch k {
	case KindAudio, KindVideo, KindImage:
		return true
	}
	return false
}

// Response is one element of a backend answer.
type Response struct {
	Kind   ResponseKind
	Text   string
	Source string
}

// TurnResult is everything a backend returns for one turn.
type TurnResult struct {
	Responses []Response
	// Features are user-defined context variables to persist on the transcript.
	Features map[string]any
}

// Backend is a session-scoped dialogue engine.
type Backend interface {
	CreateSession(ctx context.Context) (string, error)
	SendTurn(ctx context.Context, sessionID, text string) (*TurnResult, error)
}
