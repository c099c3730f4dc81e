package media

import "strings"

// Kind is how an answer element is delivered.
type Kind string

const (
	KindText  Kind = "text"
	KindPhoto Kind = "photo"
	KindAudio Kind = "audio"
)

// Classifier decides media kind from the file extension of an answer element.
// Any element ending in a known extension counts as media, even prose.
type Classifier struct {
	photo map[string]struct{}
	audio map[string]struct{}
}

func newClassifier(photo, audio []string) Classifier {
	c := Classifier{photo: make(map[string]struct{}), audio: make(map[string]struct{})}
	for _, ext := range photo {
		c.photo[ext] = struct{}{}
	}
	for _, ext := range audio {
		c.audio[ext] = struct{}{}
	}
	return c
}

var (
	// DefaultClassifier serves chat channels with native photo and audio messages.
	DefaultClassifier = newClassifier(
		[]string{"jpg", "jpeg", "png"},
		[]string{"mp3", "wav", "ogg", "mp4", "opus"},
	)
	// WhatsAppClassifier also treats aac as audio.
	WhatsAppClassifier = newClassifier(
		[]string{"jpg", "jpeg", "png"},
		[]string{"mp3", "wav", "ogg", "mp4", "opus", "aac"},
	)
)

// Classify returns the delivery kind for element.
func (c Classifier) Classify(element string) Kind {
	ext := Extension(element)
	if ext == "" {
		return KindText
	}
	if _, ok := c.photo[ext]; ok {
		return KindPhoto
	}
	if _, ok := c.audio[ext]; ok {
		return KindAudio
	}
	return KindText
}

// IsMedia reports whether element is delivered as a file.
func (c Classifier) IsMedia(element string) bool {
	return c.Classify(element) != KindText
}

// Extension returns the lowercase extension of the last path segment of s,
// ignoring any query string or fragment.
func Extension(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	i := strings.LastIndex(s, ".")
	if i < 0 || i == len(s)-1 {
		return ""
	}
	return strings.ToLower(s[i+1:])
}

// ExtensionForContentType maps a MIME type to a file extension by taking its
// subtype, e.g. image/jpeg -> jpeg.
func ExtensionForContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	if i := strings.LastIndex(contentType, "/"); i >= 0 {
		contentType = contentType[i+1:]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
