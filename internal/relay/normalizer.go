package relay

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wolfman30/chatbot-relay/internal/conversation"
)

// Message is a payload reduced to what gets logged and what the dialogue
// backend sees.
type Message struct {
	Logged       conversation.Utterance
	DialogueText string
	Kind         PayloadKind
}

// ShortCircuit reports whether the turn must skip the dialogue backend.
func (m Message) ShortCircuit() bool {
	return m.Kind == PayloadUnsupported
}

// Normalize converts a payload into its logged and dialogue forms.
func Normalize(p Payload) Message {
	switch v := p.(type) {
	case UnsupportedMediaPayload:
		return Message{Logged: conversation.Text(v.URL), Kind: PayloadUnsupported}
	case AudioPayload:
		transcript := Capitalize(strings.TrimSpace(v.Transcript))
		return Message{
			Logged:       conversation.Parts(v.URL, transcript),
			DialogueText: transcript,
			Kind:         PayloadAudio,
		}
	case TextPayload:
		text := Capitalize(flatten(v.Text))
		return Message{Logged: conversation.Text(text), DialogueText: text, Kind: PayloadText}
	}
	return Message{Logged: conversation.Text(""), Kind: PayloadText}
}

// Capitalize upper-cases the first letter of s and lower-cases the rest,
// so "HELLO World" becomes "Hello world".
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// speechText strips markup the synthesizer would read aloud.
func speechText(s string) string {
	s = strings.NewReplacer("_", "", "*", "", "\n", " ").Replace(s)
	return strings.TrimSpace(s)
}
