package diagnostics

import (
	"context"
	"time"

	"mqdiag/internal/logger"
	"mqdiag/pkg/jsoncodec"
	"mqdiag/pkg/models"
)

// RawPublisher sends an already serialized payload.
type RawPublisher interface {
	PublishRaw(ctx context.Context, destination, text string) (models.PublishRecord, error)
}

type SessionOptions struct {
	Candidates    []string
	VerifyDelay   time.Duration
	VerifyTimeout time.Duration
	Source        string
}

// Report is what a debug session found.
type Report struct {
	Destination string               `json:"destination"`
	Accessible  []string             `json:"accessible"`
	Publish     models.PublishRecord `json:"publish"`
	Verify      VerifyResult         `json:"verify"`
}

// Session runs the full debugging sequence against one destination: probe the
// candidates, publish a diagnostic payload, wait, then verify it arrives.
type Session struct {
	prober    *Prober
	verifier  *Verifier
	publisher RawPublisher
	opts      SessionOptions
	logger    logger.Logger
}

func NewSession(prober *Prober, verifier *Verifier, publisher RawPublisher, opts SessionOptions, log logger.Logger) *Session {
	return &Session{
		prober:    prober,
		verifier:  verifier,
		publisher: publisher,
		opts:      opts,
		logger:    log,
	}
}

// Run returns an error only when the diagnostic payload could not be sent.
// Inaccessible destinations and missing deliveries are reported, not raised.
func (s *Session) Run(ctx context.Context, destination string) (Report, error) {
	report := Report{Destination: destination}

	report.Accessible = s.prober.Probe(ctx, s.opts.Candidates)
	s.logger.InfowCtx(ctx, "Probe finished",
		"candidates", len(s.opts.Candidates),
		"accessible", report.Accessible,
	)

	payload, err := jsoncodec.Marshal(models.NewDiagnosticPayload(destination, s.opts.Source))
	if err != nil {
		return report, err
	}

	report.Publish, err = s.publisher.PublishRaw(ctx, destination, string(payload))
	if err != nil {
		return report, err
	}

	if s.opts.VerifyDelay > 0 {
		select {
		case <-time.After(s.opts.VerifyDelay):
		case <-ctx.Done():
			return report, ctx.Err()
		}
	}

	report.Verify = s.verifier.Check(ctx, destination, s.opts.VerifyTimeout)
	return report, nil
}
