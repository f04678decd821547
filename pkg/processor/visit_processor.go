// Package processor turns attendance-confirmed messages into recorded visits.
package processor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/crossing"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type VisitRecorder interface {
	RecordVisit(ctx context.Context, in models.VisitInput) (*crossing.CrossingResult, error)
}

// VisitProcessor handles messages from the visits topic.
//
// Only a failed visit write is returned as an error, which makes the consumer
// retry the message in place. Anything after the write is logged and committed because a
// redelivery would append the visit a second time.
type VisitProcessor struct {
	recorder VisitRecorder
	logger   ectologger.Logger
}

func NewVisitProcessor(recorder VisitRecorder, logger ectologger.Logger) *VisitProcessor {
	return &VisitProcessor{recorder: recorder, logger: logger}
}

func (p *VisitProcessor) Handle(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.VisitProcessor.Handle")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":  msg.Topic,
		"offset": msg.Offset,
	})

	var req models.VisitRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		log.WithError(err).Error("Failed to parse visit message, skipping")
		metrics.KafkaMessagesTotal.WithLabelValues(metrics.StatusInvalid).Inc()
		return nil
	}
	if err := req.Validate(); err != nil {
		log.WithError(err).WithFields(models.ValidationMessages(err)).Error("Invalid visit message, skipping")
		metrics.KafkaMessagesTotal.WithLabelValues(metrics.StatusInvalid).Inc()
		return nil
	}

	log = log.WithFields(map[string]any{
		"event_id": req.EventID,
		"user_id":  req.UserID,
		"venue_id": req.VenueID,
	})

	result, err := p.recorder.RecordVisit(ctx, req.ToInput())

	var writeFailure *crossing.WriteFailure
	var lookupFailure *crossing.LookupFailure
	switch {
	case errors.As(err, &writeFailure):
		metrics.KafkaMessagesTotal.WithLabelValues(metrics.StatusFailed).Inc()
		return err
	case errors.As(err, &lookupFailure):
		log.WithError(err).Error("Visit recorded but crossings were not computed")
		metrics.KafkaMessagesTotal.WithLabelValues(metrics.StatusPartial).Inc()
		return nil
	case errors.Is(err, crossing.ErrInvalidVisit):
		log.WithError(err).Error("Invalid visit message, skipping")
		metrics.KafkaMessagesTotal.WithLabelValues(metrics.StatusInvalid).Inc()
		return nil
	case err != nil:
		return err
	}

	if result.HasFailures() {
		metrics.KafkaMessagesTotal.WithLabelValues(metrics.StatusPartial).Inc()
		return nil
	}
	metrics.KafkaMessagesTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	return nil
}
