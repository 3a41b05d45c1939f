package service

import (
	"context"
	"survey-scheduler/config"
	"survey-scheduler/internal/clock"
	"survey-scheduler/internal/model"
	"survey-scheduler/internal/repository"
	"survey-scheduler/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// DispatcherService pushes recorded transition events to the configured
// sink. Delivery is at-least-once: an event stays pending until the sink
// acks it, and consumers dedupe on the idempotency key.
type DispatcherService interface {
	DispatchPending(ctx context.Context) error
}

type dispatcherService struct {
	cfg       *config.Config
	log       *logger.Logger
	clk       clock.Clock
	eventRepo repository.LifecycleEventRepository
	sink      repository.EventSink
}

func NewDispatcherService(
	cfg *config.Config,
	log *logger.Logger,
	clk clock.Clock,
	eventRepo repository.LifecycleEventRepository,
	sink repository.EventSink,
) *dispatcherService {
	return &dispatcherService{
		cfg:       cfg,
		log:       log,
		clk:       clk,
		eventRepo: eventRepo,
		sink:      sink,
	}
}

// DispatchPending delivers one batch of undelivered events. A failed
// delivery only bumps that event's attempt counter; the rest of the batch
// keeps going and the event is retried on the next pass until the attempt
// cap abandons it.
func (d *dispatcherService) DispatchPending(ctx context.Context) error {
	events, err := d.eventRepo.ListUndispatched(ctx, d.cfg.EventSink.BatchSize, d.cfg.EventSink.MaxDispatchAttempts)
	if err != nil {
		d.log.ErrorContext(ctx, "Failed to list undispatched events", logger.ErrorField(err))
		return err
	}
	if len(events) == 0 {
		return nil
	}

	d.log.InfoContext(ctx, "Dispatching lifecycle events",
		logger.IntField("pending_count", len(events)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.EventSink.MaxConcurrency)

	for i := range events {
		event := events[i]
		g.Go(func() error {
			d.dispatchOne(gctx, &event)
			return nil
		})
	}
	return g.Wait()
}

func (d *dispatcherService) dispatchOne(ctx context.Context, event *model.LifecycleEvent) {
	if err := d.sink.Emit(ctx, event); err != nil {
		attempts := event.DispatchAttempts + 1
		if d.cfg.EventSink.MaxDispatchAttempts > 0 && attempts >= d.cfg.EventSink.MaxDispatchAttempts {
			d.log.ErrorContextWithAlert(ctx, "Event delivery abandoned after max attempts",
				logger.ErrorField(err),
				logger.StringField("idempotency_key", event.IdempotencyKey()),
				logger.IntField("attempts", attempts))
		} else {
			d.log.WarnContext(ctx, "Event delivery failed, will retry",
				logger.ErrorField(err),
				logger.StringField("idempotency_key", event.IdempotencyKey()),
				logger.IntField("attempts", attempts))
		}
		if err := d.eventRepo.IncrementDispatchAttempts(ctx, event.ID); err != nil {
			d.log.ErrorContext(ctx, "Failed to record dispatch attempt", logger.ErrorField(err),
				logger.IntField("event_id", int(event.ID)))
		}
		return
	}

	if err := d.eventRepo.MarkDispatched(ctx, event.ID, d.clk.Now()); err != nil {
		// The sink has the event; the row stays pending and gets
		// redelivered, which the idempotency key makes harmless.
		d.log.ErrorContext(ctx, "Failed to mark event dispatched", logger.ErrorField(err),
			logger.IntField("event_id", int(event.ID)))
	}
}
