package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/chatbot-relay/internal/identity"
	"github.com/wolfman30/chatbot-relay/internal/relay"
)

type fakeBot struct {
	messages []*telego.SendMessageParams
	photos   []*telego.SendPhotoParams
	audios   []*telego.SendAudioParams
	files    map[string]string
	err      error
}

func (f *fakeBot) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	f.messages = append(f.messages, p)
	return &telego.Message{}, f.err
}

func (f *fakeBot) SendPhoto(_ context.Context, p *telego.SendPhotoParams) (*telego.Message, error) {
	f.photos = append(f.photos, p)
	return &telego.Message{}, f.err
}

func (f *fakeBot) SendAudio(_ context.Context, p *telego.SendAudioParams) (*telego.Message, error) {
	f.audios = append(f.audios, p)
	return &telego.Message{}, f.err
}

func (f *fakeBot) GetFile(_ context.Context, p *telego.GetFileParams) (*telego.File, error) {
	filePath, ok := f.files[p.FileID]
	if !ok {
		return nil, errors.New("file not found")
	}
	return &telego.File{FileID: p.FileID, FilePath: filePath}, nil
}

func (f *fakeBot) FileDownloadURL(filePath string) string {
	return "https://api.telegram.org/file/botTOKEN/" + filePath
}

func TestClient_Send(t *testing.T) {
	bot := &fakeBot{}
	c := NewClient(bot)
	ctx := context.Background()

	require.NoError(t, c.SendText(ctx, "-100200", "hi\\!"))
	require.NoError(t, c.SendPhoto(ctx, "7", "https://x/y.png"))
	require.NoError(t, c.SendAudio(ctx, "7", "https://x/a.mp3"))

	require.Len(t, bot.messages, 1)
	assert.Equal(t, int64(-100200), bot.messages[0].ChatID.ID)
	assert.Equal(t, telego.ModeMarkdownV2, bot.messages[0].ParseMode)
	require.Len(t, bot.photos, 1)
	assert.Equal(t, "https://x/y.png", bot.photos[0].Photo.URL)
	require.Len(t, bot.audios, 1)
	assert.Equal(t, "https://x/a.mp3", bot.audios[0].Audio.URL)
}

func TestClient_InvalidChatID(t *testing.T) {
	c := NewClient(&fakeBot{})
	assert.Error(t, c.SendText(context.Background(), "not-a-number", "hi"))
}

func TestClient_FileURL(t *testing.T) {
	c := NewClient(&fakeBot{files: map[string]string{"f1": "voice/file_1.oga"}})

	url, err := c.FileURL(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "https://api.telegram.org/file/botTOKEN/voice/file_1.oga", url)

	_, err = c.FileURL(context.Background(), "missing")
	assert.Error(t, err)
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello.", `Hello\.`},
		{"*bold* and _it_", "*bold* and _it_"},
		{"a-b (c) [d] {e}", `a\-b \(c\) \[d\] \{e\}`},
		{`x\y`, `x\\y`},
		{"1+1=2! #tag > ~x~ |p| `c`", "1\\+1\\=2\\! \\#tag \\> \\~x\\~ \\|p\\| \\`c\\`"},
	}
	for _, tt := range tests {
		if got := EscapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("EscapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakePipeline struct {
	events []relay.InboundEvent
	answer relay.Answer
	err    error
}

func (f *fakePipeline) HandleEvent(_ context.Context, ev relay.InboundEvent) (relay.Answer, error) {
	f.events = append(f.events, ev)
	return f.answer, f.err
}

func (f *fakePipeline) ResetKeyword() string { return "break" }

type fakeIngest struct {
	audioURL       string
	unsupportedURL string
	ext            string
	err            error
}

func (f *fakeIngest) Audio(_ context.Context, _ string, _ time.Time, sourceURL string) (relay.AudioPayload, error) {
	f.audioURL = sourceURL
	if f.err != nil {
		return relay.AudioPayload{}, f.err
	}
	return relay.AudioPayload{URL: "https://blobs/v.ogg", Transcript: "hello"}, nil
}

func (f *fakeIngest) Unsupported(_ context.Context, _ string, _ time.Time, sourceURL, ext string) (relay.UnsupportedMediaPayload, error) {
	f.unsupportedURL = sourceURL
	f.ext = ext
	return relay.UnsupportedMediaPayload{URL: "https://blobs/p." + ext}, f.err
}

type delivery struct {
	to     string
	answer relay.Answer
}

type fakeDeliverer struct {
	deliveries []delivery
	err        error
}

func (f *fakeDeliverer) Deliver(_ context.Context, to string, answer relay.Answer) error {
	f.deliveries = append(f.deliveries, delivery{to: to, answer: answer})
	return f.err
}

type webhookFixture struct {
	pipeline *fakePipeline
	ingest   *fakeIngest
	deliver  *fakeDeliverer
	handler  *WebhookHandler
}

func newWebhookFixture(secret string) *webhookFixture {
	f := &webhookFixture{
		pipeline: &fakePipeline{answer: relay.Single("Hi there")},
		ingest:   &fakeIngest{},
		deliver:  &fakeDeliverer{},
	}
	files := NewClient(&fakeBot{files: map[string]string{"voice-1": "voice/1.oga", "photo-big": "photos/big.jpg", "doc-1": "docs/1.pdf"}})
	f.handler = NewWebhookHandler(files, f.pipeline, f.ingest, f.deliver, WebhookConfig{Secret: secret, HelpMessage: "Help text"}, nil, nil)
	return f
}

func (f *webhookFixture) post(t *testing.T, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(secretHeader, secret)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_TextMessage(t *testing.T) {
	f := newWebhookFixture("")

	rec := f.post(t, `{"update_id":1,"message":{"message_id":5,"date":1700000000,"chat":{"id":42,"type":"private"},"from":{"id":42,"is_bot":false,"first_name":"A"},"text":"hello"}}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.pipeline.events, 1)
	ev := f.pipeline.events[0]
	assert.Equal(t, Channel, ev.Channel)
	assert.Equal(t, identity.Token("42"), ev.UserToken)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.Timestamp)
	assert.Equal(t, relay.TextPayload{Text: "hello"}, ev.Payload)

	require.Len(t, f.deliver.deliveries, 1)
	assert.Equal(t, "42", f.deliver.deliveries[0].to)
	assert.Equal(t, relay.Single("Hi there"), f.deliver.deliveries[0].answer)
}

func TestWebhook_GroupMembersShareChatToken(t *testing.T) {
	f := newWebhookFixture("")

	for _, from := range []string{"7", "8"} {
		rec := f.post(t, `{"update_id":1,"message":{"message_id":1,"date":1,"chat":{"id":-100200,"type":"group"},"from":{"id":`+from+`,"is_bot":false,"first_name":"A"},"text":"hi"}}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Len(t, f.pipeline.events, 2)
	assert.Equal(t, identity.Token("-100200"), f.pipeline.events[0].UserToken)
	assert.Equal(t, f.pipeline.events[0].UserToken, f.pipeline.events[1].UserToken)
	require.Len(t, f.deliver.deliveries, 2)
	assert.Equal(t, "-100200", f.deliver.deliveries[1].to)
}

func TestWebhook_StartCommandResets(t *testing.T) {
	f := newWebhookFixture("")

	rec := f.post(t, `{"update_id":2,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"text":"/start"}}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.pipeline.events, 1)
	assert.Equal(t, relay.TextPayload{Text: "break"}, f.pipeline.events[0].Payload)
}

func TestWebhook_HelpSkipsTurn(t *testing.T) {
	f := newWebhookFixture("")

	rec := f.post(t, `{"update_id":3,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"text":"/help@relay_bot"}}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.pipeline.events)
	require.Len(t, f.deliver.deliveries, 1)
	assert.Equal(t, relay.Single("Help text"), f.deliver.deliveries[0].answer)
}

func TestWebhook_VoiceMessage(t *testing.T) {
	f := newWebhookFixture("")

	rec := f.post(t, `{"update_id":4,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"voice":{"file_id":"voice-1","file_unique_id":"u","duration":2}}}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://api.telegram.org/file/botTOKEN/voice/1.oga", f.ingest.audioURL)
	require.Len(t, f.pipeline.events, 1)
	assert.Equal(t, relay.AudioPayload{URL: "https://blobs/v.ogg", Transcript: "hello"}, f.pipeline.events[0].Payload)
}

func TestWebhook_PhotoIsUnsupported(t *testing.T) {
	f := newWebhookFixture("")

	rec := f.post(t, `{"update_id":5,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"photo":[{"file_id":"photo-small","file_unique_id":"s","width":90,"height":90},{"file_id":"photo-big","file_unique_id":"b","width":800,"height":800}]}}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://api.telegram.org/file/botTOKEN/photos/big.jpg", f.ingest.unsupportedURL)
	assert.Equal(t, "jpg", f.ingest.ext)
	require.Len(t, f.pipeline.events, 1)
	assert.Equal(t, relay.UnsupportedMediaPayload{URL: "https://blobs/p.jpg"}, f.pipeline.events[0].Payload)
}

func TestWebhook_DocumentExtension(t *testing.T) {
	f := newWebhookFixture("")

	rec := f.post(t, `{"update_id":6,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"document":{"file_id":"doc-1","file_unique_id":"d","file_name":"Report.PDF","mime_type":"application/pdf"}}}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pdf", f.ingest.ext)
}

func TestWebhook_SecretToken(t *testing.T) {
	f := newWebhookFixture("s3cret")
	body := `{"update_id":7,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"text":"hi"}}`

	assert.Equal(t, http.StatusUnauthorized, f.post(t, body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.post(t, body, "wrong").Code)
	assert.Empty(t, f.pipeline.events)
	assert.Equal(t, http.StatusOK, f.post(t, body, "s3cret").Code)
	assert.Len(t, f.pipeline.events, 1)
}

func TestWebhook_Failures(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		f := newWebhookFixture("")
		assert.Equal(t, http.StatusBadRequest, f.post(t, `{not json`, "").Code)
	})

	t.Run("non-message update", func(t *testing.T) {
		f := newWebhookFixture("")
		assert.Equal(t, http.StatusOK, f.post(t, `{"update_id":8}`, "").Code)
		assert.Empty(t, f.pipeline.events)
	})

	t.Run("turn error", func(t *testing.T) {
		f := newWebhookFixture("")
		f.pipeline.err = errors.New("backend down")
		rec := f.post(t, `{"update_id":9,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"text":"hi"}}`, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Empty(t, f.deliver.deliveries)
	})

	t.Run("ingest error", func(t *testing.T) {
		f := newWebhookFixture("")
		f.ingest.err = errors.New("download failed")
		rec := f.post(t, `{"update_id":10,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"voice":{"file_id":"voice-1","file_unique_id":"u","duration":1}}}`, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Empty(t, f.pipeline.events)
	})

	t.Run("delivery error still acknowledged", func(t *testing.T) {
		f := newWebhookFixture("")
		f.deliver.err = errors.New("blocked by user")
		rec := f.post(t, `{"update_id":11,"message":{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"text":"hi"}}`, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestIsCommand(t *testing.T) {
	assert.True(t, isCommand("/start", "start"))
	assert.True(t, isCommand(" /START extra", "start"))
	assert.True(t, isCommand("/start@my_bot", "start"))
	assert.False(t, isCommand("start", "start"))
	assert.False(t, isCommand("/started", "start"))
}
