package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/chatbot-relay/internal/media"
)

type sentMessage struct {
	kind string
	to   string
	body string
}

type fakeSender struct {
	sent   []sentMessage
	failOn string
}

func (f *fakeSender) record(kind, to, body string) error {
	if f.failOn == kind {
		return errors.New(kind + " rejected")
	}
	f.sent = append(f.sent, sentMessage{kind: kind, to: to, body: body})
	return nil
}

func (f *fakeSender) SendText(_ context.Context, to, text string) error {
	return f.record("text", to, text)
}

func (f *fakeSender) SendPhoto(_ context.Context, to, url string) error {
	return f.record("photo", to, url)
}

func (f *fakeSender) SendAudio(_ context.Context, to, url string) error {
	return f.record("audio", to, url)
}

func TestDispatcher_RoutesByExtension(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher("telegram", sender, media.DefaultClassifier, strings.ToUpper, nil, nil)

	err := d.Deliver(context.Background(), "42", Multi(
		"hello",
		"https://x/y.PNG",
		"https://x/a.ogg?sig=1",
		"https://x/b.aac",
	))
	require.NoError(t, err)

	assert.Equal(t, []sentMessage{
		{kind: "text", to: "42", body: "HELLO"},
		{kind: "photo", to: "42", body: "https://x/y.PNG"},
		{kind: "audio", to: "42", body: "https://x/a.ogg?sig=1"},
		{kind: "text", to: "42", body: "HTTPS://X/B.AAC"},
	}, sender.sent)
}

func TestDispatcher_WhatsAppTreatsAACAsAudio(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher("whatsapp", sender, media.WhatsAppClassifier, nil, nil, nil)

	require.NoError(t, d.Deliver(context.Background(), "+1555", Single("https://x/b.aac")))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "audio", sender.sent[0].kind)
}

func TestDispatcher_StopsAtFirstFailure(t *testing.T) {
	sender := &fakeSender{failOn: "photo"}
	d := NewDispatcher("telegram", sender, media.DefaultClassifier, nil, nil, nil)

	err := d.Deliver(context.Background(), "42", Multi("one", "https://x/y.jpg", "three"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "photo rejected")
	assert.Len(t, sender.sent, 1)
}

func TestDispatcher_RejectsEmptyAnswer(t *testing.T) {
	d := NewDispatcher("telegram", &fakeSender{}, media.DefaultClassifier, nil, nil, nil)
	assert.Error(t, d.Deliver(context.Background(), "42", Answer{}))
}

type fakeFetcher struct {
	data        []byte
	contentType string
	err         error
	urls        []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, string, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, f.contentType, nil
}

type fakeTranscriber struct {
	transcript  string
	err         error
	contentType string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, contentType string) (string, error) {
	f.contentType = contentType
	return f.transcript, f.err
}

var ingestTime = time.Date(2024, 3, 9, 14, 5, 7, 123456000, time.UTC)

func TestIngestor_Audio(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("ogg"), contentType: "audio/ogg"}
	blobs := &fakeBlobs{}
	stt := &fakeTranscriber{transcript: "hello there"}
	in := NewIngestor(fetcher, blobs, stt, time.Second, nil)

	payload, err := in.Audio(context.Background(), "tok", ingestTime, "https://api.telegram.org/file/voice.oga")
	require.NoError(t, err)

	assert.Equal(t, "https://blobs.example/tok_09-03-2024_14:05:07:123456_UTC.ogg", payload.URL)
	assert.Equal(t, "hello there", payload.Transcript)
	assert.Equal(t, "audio/ogg", stt.contentType)
	require.Len(t, blobs.stored, 1)
	assert.Equal(t, "audio/ogg", blobs.stored[0].contentType)
}

func TestIngestor_AudioTranscriptionErrorSurfaces(t *testing.T) {
	in := NewIngestor(&fakeFetcher{data: []byte("ogg")}, &fakeBlobs{}, &fakeTranscriber{err: errors.New("stt 500")}, time.Second, nil)

	_, err := in.Audio(context.Background(), "tok", ingestTime, "https://m/v.ogg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stt 500")
}

func TestIngestor_AudioWithoutTranscriber(t *testing.T) {
	fetcher := &fakeFetcher{}
	in := NewIngestor(fetcher, &fakeBlobs{}, nil, time.Second, nil)

	_, err := in.Audio(context.Background(), "tok", ingestTime, "https://m/v.ogg")
	require.Error(t, err)
	assert.Empty(t, fetcher.urls)
}

func TestIngestor_Unsupported(t *testing.T) {
	blobs := &fakeBlobs{}
	in := NewIngestor(&fakeFetcher{data: []byte("jpg"), contentType: "image/jpeg"}, blobs, nil, time.Second, nil)

	payload, err := in.Unsupported(context.Background(), "tok", ingestTime, "https://m/photo", "jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example/tok_09-03-2024_14:05:07:123456_UTC_user.jpg", payload.URL)
	assert.Equal(t, "image/jpeg", blobs.stored[0].contentType)

	payload, err = in.Unsupported(context.Background(), "tok", ingestTime, "https://m/doc.pdf", "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(payload.URL, "_user.pdf"))
}

func TestIngestor_DownloadFailure(t *testing.T) {
	blobs := &fakeBlobs{}
	in := NewIngestor(&fakeFetcher{err: errors.New("403")}, blobs, nil, time.Second, nil)

	_, err := in.Unsupported(context.Background(), "tok", ingestTime, "https://m/x.png", "png")
	require.Error(t, err)
	assert.Empty(t, blobs.stored)
}
