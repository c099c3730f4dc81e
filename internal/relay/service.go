package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/chatbot-relay/internal/audit"
	"github.com/wolfman30/chatbot-relay/internal/conversation"
	"github.com/wolfman30/chatbot-relay/internal/observability/metrics"
	"github.com/wolfman30/chatbot-relay/internal/session"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultResetKeyword  = "break"
	DefaultResetGreeting = "Hi"
)

// ErrEmptyEvent is returned for events without a user or payload.
var ErrEmptyEvent = errors.New("relay: event has no user or payload")

// Sessions resolves the current dialogue session of a user.
type Sessions interface {
	Resolve(ctx context.Context, userID string) (string, error)
	Reset(ctx context.Context, userID string) (string, error)
}

// ServiceConfig holds the user-facing knobs of the pipeline.
type ServiceConfig struct {
	ResetKeyword  string
	ResetGreeting string
	CallTimeout   time.Duration
}

// Service is the per-turn pipeline shared by every channel adapter.
type Service struct {
	sessions     Sessions
	transcript   Transcript
	orchestrator *Orchestrator
	locks        *session.KeyedMutex
	cfg          ServiceConfig
	logger       *logging.Logger
	metrics      *metrics.RelayMetrics
	audit        *audit.Service
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetrics records turn outcomes.
func WithMetrics(m *metrics.RelayMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithAudit records resets, unsupported media and failed turns.
func WithAudit(a *audit.Service) ServiceOption {
	return func(s *Service) { s.audit = a }
}

func NewService(sessions Sessions, transcript Transcript, orchestrator *Orchestrator, cfg ServiceConfig, logger *logging.Logger, opts ...ServiceOption) *Service {
	if sessions == nil {
		panic("relay: sessions cannot be nil")
	}
	if transcript == nil {
		panic("relay: transcript cannot be nil")
	}
	if orchestrator == nil {
		panic("relay: orchestrator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.ResetKeyword) == "" {
		cfg.ResetKeyword = DefaultResetKeyword
	}
	if strings.TrimSpace(cfg.ResetGreeting) == "" {
		cfg.ResetGreeting = DefaultResetGreeting
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	s := &Service{
		sessions:     sessions,
		transcript:   transcript,
		orchestrator: orchestrator,
		locks:        session.NewKeyedMutex(),
		cfg:          cfg,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResetKeyword returns the text that starts a new session.
func (s *Service) ResetKeyword() string {
	return s.cfg.ResetKeyword
}

// IsReset reports whether p asks for a fresh session.
func (s *Service) IsReset(p Payload) bool {
	text, ok := p.(TextPayload)
	return ok && strings.EqualFold(strings.TrimSpace(text.Text), s.cfg.ResetKeyword)
}

// HandleEvent runs one turn for ev and returns the answer to deliver. Turns
// from the same user never overlap.
func (s *Service) HandleEvent(ctx context.Context, ev InboundEvent) (Answer, error) {
	if ev.UserToken == "" || ev.Payload == nil {
		return Answer{}, ErrEmptyEvent
	}
	unlock := s.locks.Lock(ev.UserToken)
	defer unlock()

	start := time.Now()
	payload := ev.Payload
	ctx, span := relayTracer.Start(ctx, "relay.handle_event", trace.WithAttributes(
		attribute.String("relay.channel", ev.Channel),
		attribute.String("relay.payload", string(payload.Kind())),
	))
	defer span.End()

	fail := func(sessionID string, err error) (Answer, error) {
		span.RecordError(err)
		s.logger.Error("relay: turn failed", "channel", ev.Channel, "user", ev.UserToken, "session_id", sessionID, "error", err)
		s.auditErr(s.audit.LogTurnFailed(ctx, ev.UserToken, ev.Channel, sessionID, err))
		s.metrics.ObserveTurn(ev.Channel, string(payload.Kind()), "failed", time.Since(start))
		return Answer{}, err
	}

	var (
		sessionID string
		err       error
	)
	if s.IsReset(payload) {
		sessionID, err = s.withTimeout(ctx, func(ctx context.Context) (string, error) {
			return s.sessions.Reset(ctx, ev.UserToken)
		})
		if err != nil {
			return fail("", fmt.Errorf("relay: reset session: %w", err))
		}
		s.metrics.ObserveReset(ev.Channel)
		s.auditErr(s.audit.LogSessionReset(ctx, ev.UserToken, ev.Channel, sessionID))
		payload = TextPayload{Text: s.cfg.ResetGreeting}
	} else {
		sessionID, err = s.withTimeout(ctx, func(ctx context.Context) (string, error) {
			return s.sessions.Resolve(ctx, ev.UserToken)
		})
		if err != nil {
			return fail("", fmt.Errorf("relay: resolve session: %w", err))
		}
	}
	span.SetAttributes(attribute.String("relay.session_id", sessionID))

	msg := Normalize(payload)
	if err := s.appendShift(ctx, ev.UserToken, sessionID, conversation.SpeakerUser, msg.Logged); err != nil {
		return fail(sessionID, fmt.Errorf("relay: log user message: %w", err))
	}

	if msg.ShortCircuit() {
		reply := s.orchestrator.DefaultError()
		if err := s.appendShift(ctx, ev.UserToken, sessionID, conversation.SpeakerChatbot, conversation.Text(reply)); err != nil {
			return fail(sessionID, fmt.Errorf("relay: log answer: %w", err))
		}
		s.logger.Info("relay: unsupported media answered with default message", "channel", ev.Channel, "user", ev.UserToken)
		s.auditErr(s.audit.LogUnsupportedMedia(ctx, ev.UserToken, ev.Channel, sessionID, msg.Logged.String()))
		s.metrics.ObserveTurn(ev.Channel, string(msg.Kind), "unsupported", time.Since(start))
		return Single(reply), nil
	}

	outcome, err := s.orchestrator.Converse(ctx, Turn{
		Channel:   ev.Channel,
		UserToken: ev.UserToken,
		SessionID: sessionID,
		Text:      msg.DialogueText,
		Audio:     msg.Kind == PayloadAudio,
	})
	if err != nil {
		return fail(sessionID, err)
	}

	result := "answered"
	if outcome.DefaultError {
		result = "default_error"
	}
	s.metrics.ObserveTurn(ev.Channel, string(msg.Kind), result, time.Since(start))
	s.logger.Debug("relay: turn complete", "channel", ev.Channel, "user", ev.UserToken,
		"session_id", outcome.SessionID, "retried", outcome.Retried, "elapsed", time.Since(start))
	return outcome.Answer, nil
}

func (s *Service) appendShift(ctx context.Context, userID, sessionID string, speaker conversation.Speaker, msg conversation.Utterance) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return s.transcript.AppendShift(ctx, userID, sessionID, speaker, msg)
}

func (s *Service) withTimeout(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Service) auditErr(err error) {
	if err != nil {
		s.logger.Warn("relay: audit write failed", "error", err)
	}
}
