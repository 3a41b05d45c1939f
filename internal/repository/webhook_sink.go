package repository

import (
	"context"
	"fmt"
	"survey-scheduler/config"
	"survey-scheduler/internal/model"
	"survey-scheduler/pkg/httpclient"
	"survey-scheduler/pkg/logger"
	"survey-scheduler/pkg/ratelimit"
	"time"
)

// EventSink delivers lifecycle transition events to the outside world.
// Delivery is at-least-once; consumers deduplicate on the idempotency key.
type EventSink interface {
	Emit(ctx context.Context, event *model.LifecycleEvent) error
}

type transitionPayload struct {
	SurveyID        uint   `json:"survey_id"`
	OccurrenceIndex int    `json:"occurrence_index"`
	FromState       string `json:"from_state"`
	ToState         string `json:"to_state"`
	At              string `json:"at"`
	EmittedAt       string `json:"emitted_at"`
}

type webhookSink struct {
	client  httpclient.HTTPClient
	limiter *ratelimit.TokenLimiter
	log     *logger.Logger
}

// NewWebhookSink posts transition events to the configured consumer
// endpoint. Outbound calls share a per-minute token budget so a large
// catch-up burst cannot flood the consumer.
func NewWebhookSink(cfg *config.Config, log *logger.Logger) EventSink {
	perMinute := cfg.EventSink.MaxRequestPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	return &webhookSink{
		client:  httpclient.New(cfg.EventSink.WebhookURL, cfg.EventSink.TimeoutDuration, cfg.EventSink.BearerToken),
		limiter: ratelimit.NewTokenLimiter(perMinute),
		log:     log,
	}
}

func (s *webhookSink) Emit(ctx context.Context, event *model.LifecycleEvent) error {
	if err := s.limiter.Wait(ctx, 1); err != nil {
		return err
	}

	payload := transitionPayload{
		SurveyID:        event.SurveyID,
		OccurrenceIndex: event.OccurrenceIndex,
		FromState:       string(event.FromState),
		ToState:         string(event.ToState),
		At:              event.At.UTC().Format(time.RFC3339),
		EmittedAt:       event.EmittedAt.UTC().Format(time.RFC3339),
	}
	headers := map[string]string{
		"Content-Type":    "application/json",
		"Idempotency-Key": event.IdempotencyKey(),
	}

	resp, err := s.client.Post(ctx, "", payload, headers, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("event sink returned status %d", resp.StatusCode)
	}

	s.log.DebugContext(ctx, "Delivered lifecycle event",
		logger.IntField("survey_id", int(event.SurveyID)),
		logger.StringField("to_state", string(event.ToState)))
	return nil
}

// logSink is the fallback when no webhook is configured: transitions are
// written to the log and considered delivered.
type logSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) EventSink {
	return &logSink{log: log}
}

func (s *logSink) Emit(ctx context.Context, event *model.LifecycleEvent) error {
	s.log.InfoContext(ctx, "Lifecycle event",
		logger.IntField("survey_id", int(event.SurveyID)),
		logger.IntField("occurrence_index", event.OccurrenceIndex),
		logger.StringField("from_state", string(event.FromState)),
		logger.StringField("to_state", string(event.ToState)),
		logger.StringField("at", event.At.UTC().Format(time.RFC3339)))
	return nil
}
