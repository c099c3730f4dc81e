package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/chatbot-relay/internal/audit"
	"github.com/wolfman30/chatbot-relay/internal/conversation"
	"github.com/wolfman30/chatbot-relay/internal/dialogue"
	"github.com/wolfman30/chatbot-relay/internal/media"
	"github.com/wolfman30/chatbot-relay/internal/observability/metrics"
	"github.com/wolfman30/chatbot-relay/internal/speech"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var relayTracer = otel.Tracer("chatbot-relay.internal.relay")

const (
	defaultCallTimeout  = 15 * time.Second
	DefaultErrorMessage = "Sorry, something went wrong. Please try again later."
)

// Transcript is the slice of the conversation gateway the relay writes to.
type Transcript interface {
	AppendShift(ctx context.Context, userID, sessionID string, speaker conversation.Speaker, msg conversation.Utterance) error
	UpsertFeatures(ctx context.Context, userID string, features map[string]any) error
}

// SessionAdopter records a replacement session minted mid-turn.
type SessionAdopter interface {
	Adopt(ctx context.Context, userID, sessionID string) error
}

// Turn is the orchestrator input.
type Turn struct {
	Channel   string
	UserToken string
	SessionID string
	Text      string
	Audio     bool
}

// TurnOutcome is a composed and logged answer.
type TurnOutcome struct {
	Answer    Answer
	Logged    conversation.Utterance
	SessionID string
	// Retried is set when the resolved session had expired.
	Retried      bool
	DefaultError bool
}

// Orchestrator drives the dialogue backend for one turn and composes the
// answer.
type Orchestrator struct {
	backend    dialogue.Backend
	transcript Transcript
	sessions   SessionAdopter
	synth      speech.Synthesizer
	blobs      media.BlobStore
	logger     *logging.Logger

	cfg orchestratorConfig
}

type orchestratorConfig struct {
	callTimeout  time.Duration
	defaultError string
	now          func() time.Time
	metrics      *metrics.RelayMetrics
	audit        *audit.Service
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*orchestratorConfig)

// WithCallTimeout bounds every backend, synthesis and upload call.
func WithCallTimeout(d time.Duration) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		if d > 0 {
			cfg.callTimeout = d
		}
	}
}

// WithDefaultErrorMessage overrides the fallback answer.
func WithDefaultErrorMessage(msg string) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		if strings.TrimSpace(msg) != "" {
			cfg.defaultError = msg
		}
	}
}

// WithOrchestratorClock overrides the clock used to name synthesized audio.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithOrchestratorMetrics records session retries.
func WithOrchestratorMetrics(m *metrics.RelayMetrics) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		cfg.metrics = m
	}
}

// WithOrchestratorAudit records retries and fallback answers.
func WithOrchestratorAudit(a *audit.Service) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		cfg.audit = a
	}
}

// NewOrchestrator wires the turn collaborators. synth and blobs are only
// needed for audio turns.
func NewOrchestrator(backend dialogue.Backend, transcript Transcript, sessions SessionAdopter, synth speech.Synthesizer, blobs media.BlobStore, logger *logging.Logger, opts ...OrchestratorOption) *Orchestrator {
	if backend == nil {
		panic("relay: dialogue backend cannot be nil")
	}
	if transcript == nil {
		panic("relay: transcript cannot be nil")
	}
	if sessions == nil {
		panic("relay: session adopter cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := orchestratorConfig{
		callTimeout:  defaultCallTimeout,
		defaultError: DefaultErrorMessage,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Orchestrator{
		backend:    backend,
		transcript: transcript,
		sessions:   sessions,
		synth:      synth,
		blobs:      blobs,
		logger:     logger,
		cfg:        cfg,
	}
}

// DefaultError returns the configured fallback answer.
func (o *Orchestrator) DefaultError() string {
	return o.cfg.defaultError
}

// Converse sends the turn to the backend, persists any features, composes
// the answer and appends it as the chatbot shift. A session that expired on
// the backend is replaced once; composition is all or nothing.
func (o *Orchestrator) Converse(ctx context.Context, turn Turn) (*TurnOutcome, error) {
	ctx, span := relayTracer.Start(ctx, "relay.converse", trace.WithAttributes(
		attribute.String("relay.channel", turn.Channel),
		attribute.String("relay.session_id", turn.SessionID),
		attribute.Bool("relay.audio", turn.Audio),
	))
	defer span.End()

	sessionID := turn.SessionID
	result, err := o.send(ctx, sessionID, turn.Text)
	retried := false
	if errors.Is(err, dialogue.ErrSessionNotFound) {
		o.logger.Warn("relay: backend session expired, minting replacement",
			"user", turn.UserToken, "session_id", sessionID)
		replacement, mintErr := o.mint(ctx)
		if mintErr != nil {
			span.RecordError(mintErr)
			return nil, fmt.Errorf("relay: replace expired session: %w", mintErr)
		}
		if err := o.sessions.Adopt(ctx, turn.UserToken, replacement); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("relay: adopt session: %w", err)
		}
		o.cfg.metrics.ObserveSessionRetry()
		o.auditErr(o.cfg.audit.LogSessionExpired(ctx, turn.UserToken, turn.Channel, sessionID, replacement))
		sessionID = replacement
		retried = true
		span.SetAttributes(attribute.String("relay.replacement_session_id", sessionID))
		result, err = o.send(ctx, sessionID, turn.Text)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("relay: dialogue turn: %w", err)
	}

	if len(result.Features) > 0 {
		callCtx, cancel := o.callContext(ctx)
		err := o.transcript.UpsertFeatures(callCtx, turn.UserToken, result.Features)
		cancel()
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("relay: persist features: %w", err)
		}
	}

	answer, logged, err := o.compose(ctx, turn, result.Responses)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	outcome := &TurnOutcome{SessionID: sessionID, Retried: retried}
	if len(answer) == 0 {
		o.logger.Warn("relay: backend returned no usable element", "user", turn.UserToken, "session_id", sessionID)
		o.auditErr(o.cfg.audit.LogDefaultError(ctx, turn.UserToken, turn.Channel, sessionID, "no usable response element"))
		answer = []string{o.cfg.defaultError}
		logged = answer
		outcome.DefaultError = true
	}

	outcome.Answer = NewAnswer(answer)
	if len(logged) == 1 {
		outcome.Logged = conversation.Text(logged[0])
	} else {
		outcome.Logged = conversation.Parts(logged...)
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	if err := o.transcript.AppendShift(callCtx, turn.UserToken, sessionID, conversation.SpeakerChatbot, outcome.Logged); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("relay: log answer: %w", err)
	}
	return outcome, nil
}

func (o *Orchestrator) compose(ctx context.Context, turn Turn, responses []dialogue.Response) (answer, logged []string, err error) {
	for _, r := range responses {
		switch {
		case r.Kind == dialogue.KindText:
			if strings.TrimSpace(r.Text) == "" {
				continue
			}
			if !turn.Audio {
				answer = append(answer, r.Text)
				logged = append(logged, r.Text)
				continue
			}
			cleaned := speechText(r.Text)
			url, err := o.speak(ctx, turn.UserToken, cleaned)
			if err != nil {
				return nil, nil, err
			}
			answer = append(answer, url, r.Text)
			logged = append(logged, cleaned, url, r.Text)
		case r.Kind.IsMedia():
			if strings.TrimSpace(r.Source) == "" {
				continue
			}
			answer = append(answer, r.Source)
			logged = append(logged, r.Source)
		default:
			o.logger.Warn("relay: skipping unsupported response element", "kind", string(r.Kind))
		}
	}
	return answer, logged, nil
}

func (o *Orchestrator) speak(ctx context.Context, userToken, text string) (string, error) {
	if o.synth == nil || o.blobs == nil {
		return "", errors.New("relay: speech synthesis not configured")
	}
	callCtx, cancel := o.callContext(ctx)
	audio, err := o.synth.Synthesize(callCtx, text)
	cancel()
	if err != nil {
		return "", fmt.Errorf("relay: synthesize answer: %w", err)
	}

	callCtx, cancel = o.callContext(ctx)
	defer cancel()
	url, err := o.blobs.Store(callCtx, media.SynthesizedKey(userToken, o.cfg.now()), "audio/mpeg", audio)
	if err != nil {
		return "", fmt.Errorf("relay: upload synthesized answer: %w", err)
	}
	return url, nil
}

func (o *Orchestrator) send(ctx context.Context, sessionID, text string) (*dialogue.TurnResult, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	result, err := o.backend.SendTurn(callCtx, sessionID, text)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &dialogue.TurnResult{}
	}
	return result, nil
}

func (o *Orchestrator) mint(ctx context.Context) (string, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	id, err := o.backend.CreateSession(callCtx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("relay: backend returned an empty session id")
	}
	return id, nil
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.callTimeout)
}

func (o *Orchestrator) auditErr(err error) {
	if err != nil {
		o.logger.Warn("relay: audit write failed", "error", err)
	}
}
