// Package relay runs one conversational turn end to end: session resolution,
// transcript logging, the dialogue backend call and answer delivery.
package relay

import "time"

// PayloadKind names the shape of an inbound message.
type PayloadKind string

const (
	PayloadText        PayloadKind = "text"
	PayloadAudio       PayloadKind = "audio"
	PayloadUnsupported PayloadKind = "unsupported_media"
)

// Payload is the normalized content of an inbound message. The set of
// implementations is closed.
type Payload interface {
	Kind() PayloadKind
	isPayload()
}

// TextPayload is a plain text message.
type TextPayload struct {
	Text string
}

// AudioPayload is a voice note already stored and transcribed.
type AudioPayload struct {
	URL        string
	Transcript string
}

// UnsupportedMediaPayload is a stored media file the backend cannot consume.
type UnsupportedMediaPayload struct {
	URL string
}

func (TextPayload) Kind() PayloadKind             { return PayloadText }
func (AudioPayload) Kind() PayloadKind            { return PayloadAudio }
func (UnsupportedMediaPayload) Kind() PayloadKind { return PayloadUnsupported }

func (TextPayload) isPayload()             {}
func (AudioPayload) isPayload()            {}
func (UnsupportedMediaPayload) isPayload() {}

// InboundEvent is one user message as handed over by a channel adapter.
type InboundEvent struct {
	Channel   string
	UserToken string
	Timestamp time.Time
	Payload   Payload
}
