// Package pipeline turns raw events into broker messages:
// normalize, filter, serialize, send.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mqdiag/internal/broker"
	"mqdiag/internal/config"
	"mqdiag/internal/constants"
	"mqdiag/internal/logger"
	"mqdiag/pkg/circuitbreaker"
	apperrors "mqdiag/pkg/errors"
	"mqdiag/pkg/ids"
	"mqdiag/pkg/logging"
	"mqdiag/pkg/metrics"
	"mqdiag/pkg/models"
	"mqdiag/pkg/normalize"
	"mqdiag/pkg/safejson"
	"mqdiag/pkg/tracing"
)

// FilterService redacts a normalized event before it is serialized.
type FilterService interface {
	FilterEvent(ctx context.Context, event interface{}, destination string) (models.FilterResult, error)
}

// SenderProvider hands out the cached sender for a destination.
type SenderProvider interface {
	Sender(ctx context.Context, destination string) (broker.Sender, error)
}

type Options struct {
	ContentType    string
	RawContentType string
	Durable        bool
	TTL            time.Duration
}

func OptionsFromConfig(cfg config.PublishConfig) Options {
	return Options{
		ContentType:    cfg.ContentType,
		RawContentType: cfg.RawContentType,
		Durable:        cfg.Durable,
		TTL:            cfg.TTL,
	}
}

type Publisher struct {
	senders SenderProvider
	filter  FilterService
	breaker *circuitbreaker.Wrapper
	opts    Options
	logger  logger.Logger
}

// NewPublisher builds a publisher. breaker may be nil.
func NewPublisher(senders SenderProvider, filter FilterService, breaker *circuitbreaker.Wrapper, opts Options, log logger.Logger) *Publisher {
	if opts.ContentType == "" {
		opts.ContentType = constants.ContentTypeJSON
	}
	if opts.RawContentType == "" {
		opts.RawContentType = constants.ContentTypeText
	}
	return &Publisher{
		senders: senders,
		filter:  filter,
		breaker: breaker,
		opts:    opts,
		logger:  log,
	}
}

// Publish normalizes rawEvent, runs it through the filter, serializes the
// filtered value and sends it. Success means the transport accepted the send.
func (p *Publisher) Publish(ctx context.Context, destination string, rawEvent interface{}) (models.PublishRecord, error) {
	ctx, span := tracing.StartProducerSpan(ctx, "pipeline", "pipeline.publish", destination)
	defer span.End()

	start := time.Now()
	record := models.PublishRecord{
		Destination: destination,
		ContentType: p.opts.ContentType,
	}

	event, err := normalize.Event(rawEvent)
	if err != nil {
		return p.fail(ctx, span, "structured", record, start, StageNormalize, err)
	}

	result, err := p.filter.FilterEvent(ctx, event, destination)
	if err != nil {
		if !errors.Is(err, apperrors.ErrFilter) {
			err = apperrors.ErrFilter.WithMessage(err.Error()).WithCause(err)
		}
		return p.fail(ctx, span, "structured", record, start, StageFilter, err)
	}

	record.Payload = safejson.Serialize(result.Filtered)
	return p.send(ctx, span, "structured", record, start)
}

// PublishRaw sends text as is, skipping normalization, filtering and serialization.
func (p *Publisher) PublishRaw(ctx context.Context, destination, text string) (models.PublishRecord, error) {
	ctx, span := tracing.StartProducerSpan(ctx, "pipeline", "pipeline.publish_raw", destination)
	defer span.End()

	record := models.PublishRecord{
		Destination: destination,
		ContentType: p.opts.RawContentType,
		Payload:     text,
	}
	return p.send(ctx, span, "raw", record, time.Now())
}

func (p *Publisher) send(ctx context.Context, span trace.Span, mode string, record models.PublishRecord, start time.Time) (models.PublishRecord, error) {
	record.MessageID = ids.NewMessageID()
	ctx = logging.WithDestination(ctx, record.Destination)
	ctx = logging.WithMessageID(ctx, record.MessageID)
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logging.WithTraceID(ctx, sc.TraceID().String())
	}
	tracing.TagMessageID(span, record.MessageID)

	sender, err := p.senders.Sender(ctx, record.Destination)
	if err != nil {
		return p.fail(ctx, span, mode, record, start, StageSend, err)
	}

	builder := models.NewEnvelopeBuilder().
		To(record.Destination).
		WithBody(record.Payload).
		WithContentType(record.ContentType).
		WithMessageID(record.MessageID).
		WithDurability(p.opts.Durable, p.opts.TTL)
	tracing.InjectHeaders(ctx, builder.Headers())
	envelope := builder.Build()

	send := func(ctx context.Context) error { return sender.Send(ctx, envelope) }
	if p.breaker != nil {
		err = p.breaker.Do(ctx, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		return p.fail(ctx, span, mode, record, start, StageSend, sendError(err))
	}

	record.Success = true
	record.SentAt = envelope.CreationTime
	record.DurationMs = time.Since(start).Milliseconds()
	metrics.ObservePublish(mode, "success", time.Since(start), len(record.Payload))
	p.logger.InfowCtx(ctx, "Message published",
		"content_type", record.ContentType,
		"size_bytes", len(record.Payload),
	)
	return record, nil
}

func sendError(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.ErrSend.WithMessage("circuit breaker rejected send").WithCause(err)
	case apperrors.Code(err) != "":
		return err
	default:
		return apperrors.ErrSend.WithMessage(err.Error()).WithCause(err)
	}
}

func (p *Publisher) fail(ctx context.Context, span trace.Span, mode string, record models.PublishRecord, start time.Time, stage string, err error) (models.PublishRecord, error) {
	code := apperrors.Code(err)
	record.Success = false
	record.Stage = stage
	record.Error = err.Error()
	record.ErrorCode = code
	record.DurationMs = time.Since(start).Milliseconds()

	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	metrics.ObservePublish(mode, "failure", time.Since(start), 0)
	metrics.IncPipelineFailure(stage, code)
	p.logger.ErrorwCtx(logging.WithDestination(ctx, record.Destination), "Publish failed",
		"stage", stage,
		"code", code,
		"error", err,
	)

	return record, &PipelineError{Stage: stage, Destination: record.Destination, Err: err}
}
