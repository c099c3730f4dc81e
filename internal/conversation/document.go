package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Speaker identifies who produced a shift.
type Speaker string

const (
	SpeakerUser    Speaker = "user"
	SpeakerChatbot Speaker = "chatbot"
)

// Reserved top-level document keys. Features may never shadow them.
const (
	keyID           = "id"
	keyConversation = "conversation"
	keyRevision     = "revision"
)

// IsReservedKey reports whether key belongs to the document envelope.
func IsReservedKey(key string) bool {
	switch key {
	case keyID, keyConversation, keyRevision:
		return true
	}
	return false
}

// Utterance is the payload of a shift: a single string or an ordered list of
// strings. The shape survives persistence.
type Utterance struct {
	parts []string
	list  bool
}

// Text builds a single-string utterance.
func Text(s string) Utterance {
	return Utterance{parts: []string{s}}
}

// Parts builds a list utterance, even when only one part is given.
func Parts(parts ...string) Utterance {
	cp := make([]string, len(parts))
	copy(cp, parts)
	return Utterance{parts: cp, list: true}
}

// IsList reports whether the utterance is a list.
func (u Utterance) IsList() bool { return u.list }

// Strings returns a copy of the utterance parts.
func (u Utterance) Strings() []string {
	cp := make([]string, len(u.parts))
	copy(cp, u.parts)
	return cp
}

// String returns the single string, or the parts joined by a space.
func (u Utterance) String() string {
	if !u.list && len(u.parts) == 1 {
		return u.parts[0]
	}
	var buf bytes.Buffer
	for i, p := range u.parts {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(p)
	}
	return buf.String()
}

// MarshalJSON emits a bare string or an array.
func (u Utterance) MarshalJSON() ([]byte, error) {
	if u.list {
		if u.parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(u.parts)
	}
	if len(u.parts) == 0 {
		return json.Marshal("")
	}
	return json.Marshal(u.parts[0])
}

// UnmarshalJSON accepts a string or an array of strings.
func (u *Utterance) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var parts []string
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return fmt.Errorf("conversation: decode utterance list: %w", err)
		}
		*u = Parts(parts...)
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return fmt.Errorf("conversation: decode utterance: %w", err)
	}
	*u = Text(s)
	return nil
}

// MarshalDynamoDBAttributeValue stores a string as S and a list as L of S.
func (u Utterance) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	if !u.list {
		s := ""
		if len(u.parts) > 0 {
			s = u.parts[0]
		}
		return &types.AttributeValueMemberS{Value: s}, nil
	}
	items := make([]types.AttributeValue, 0, len(u.parts))
	for _, p := range u.parts {
		items = append(items, &types.AttributeValueMemberS{Value: p})
	}
	return &types.AttributeValueMemberL{Value: items}, nil
}

// UnmarshalDynamoDBAttributeValue reverses MarshalDynamoDBAttributeValue.
func (u *Utterance) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		*u = Text(v.Value)
	case *types.AttributeValueMemberL:
		parts := make([]string, 0, len(v.Value))
		for _, item := range v.Value {
			s, ok := item.(*types.AttributeValueMemberS)
			if !ok {
				return errors.New("conversation: utterance list holds a non-string element")
			}
			parts = append(parts, s.Value)
		}
		*u = Parts(parts...)
	case *types.AttributeValueMemberNULL:
		*u = Text("")
	default:
		return fmt.Errorf("conversation: unsupported utterance attribute %T", av)
	}
	return nil
}

// Shift is one utterance by one speaker.
type Shift struct {
	Speaker   Speaker   `json:"speaker" dynamodbav:"speaker"`
	Message   Utterance `json:"message" dynamodbav:"message"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// Session groups the shifts exchanged under one dialogue-backend session id.
type Session struct {
	SessionID    string    `json:"session_id" dynamodbav:"session_id"`
	Timestamp    time.Time `json:"timestamp" dynamodbav:"timestamp"`
	Conversation []Shift   `json:"conversation" dynamodbav:"conversation"`
}

// Document is the per-user transcript. Features are stored as top-level keys
// next to the envelope fields.
type Document struct {
	ID           string         `json:"-" dynamodbav:"id"`
	Conversation []Session      `json:"-" dynamodbav:"conversation"`
	Revision     int64          `json:"-" dynamodbav:"revision"`
	Features     map[string]any `json:"-" dynamodbav:"-"`
}

// LastSessionID returns the most recently opened session id, or "".
func (d *Document) LastSessionID() string {
	if d == nil || len(d.Conversation) == 0 {
		return ""
	}
	return d.Conversation[len(d.Conversation)-1].SessionID
}

// Session returns the session with the given id.
func (d *Document) Session(sessionID string) (*Session, bool) {
	for i := range d.Conversation {
		if d.Conversation[i].SessionID == sessionID {
			return &d.Conversation[i], true
		}
	}
	return nil, false
}

// LastTimestamp returns the newest timestamp recorded anywhere in the document.
func (d *Document) LastTimestamp() time.Time {
	var last time.Time
	for _, s := range d.Conversation {
		if s.Timestamp.After(last) {
			last = s.Timestamp
		}
		for _, shift := range s.Conversation {
			if shift.Timestamp.After(last) {
				last = shift.Timestamp
			}
		}
	}
	return last
}

// Clone returns a copy that shares no slices with d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{ID: d.ID, Revision: d.Revision}
	if d.Conversation != nil {
		out.Conversation = make([]Session, len(d.Conversation))
		for i, s := range d.Conversation {
			cp := s
			if s.Conversation != nil {
				cp.Conversation = make([]Shift, len(s.Conversation))
				for j, shift := range s.Conversation {
					shift.Message = Utterance{parts: shift.Message.Strings(), list: shift.Message.list}
					cp.Conversation[j] = shift
				}
			}
			out.Conversation[i] = cp
		}
	}
	if d.Features != nil {
		out.Features = make(map[string]any, len(d.Features))
		for k, v := range d.Features {
			out.Features[k] = v
		}
	}
	return out
}

// MarshalJSON flattens features next to id, conversation and revision.
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Features)+3)
	for k, v := range d.Features {
		if IsReservedKey(k) {
			continue
		}
		out[k] = v
	}
	conv := d.Conversation
	if conv == nil {
		conv = []Session{}
	}
	out[keyID] = d.ID
	out[keyConversation] = conv
	out[keyRevision] = d.Revision
	return json.Marshal(out)
}

// UnmarshalJSON collects every non-envelope key into Features.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("conversation: decode document: %w", err)
	}
	var envelope struct {
		ID           string    `json:"id"`
		Conversation []Session `json:"conversation"`
		Revision     int64     `json:"revision"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("conversation: decode document envelope: %w", err)
	}
	d.ID = envelope.ID
	d.Conversation = envelope.Conversation
	d.Revision = envelope.Revision
	d.Features = nil
	for k, v := range raw {
		if IsReservedKey(k) {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("conversation: decode feature %q: %w", k, err)
		}
		if d.Features == nil {
			d.Features = make(map[string]any)
		}
		d.Features[k] = val
	}
	return nil
}
