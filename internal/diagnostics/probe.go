// Package diagnostics answers two questions about a broker: which
// destinations can be attached to, and whether a message actually arrives.
package diagnostics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"mqdiag/internal/broker"
	"mqdiag/internal/constants"
	"mqdiag/internal/logger"
	apperrors "mqdiag/pkg/errors"
	"mqdiag/pkg/metrics"
	"mqdiag/pkg/tracing"
)

// ReceiverOpener opens short-lived receivers on the current connection.
type ReceiverOpener interface {
	OpenReceiver(ctx context.Context, source string, opts broker.ReceiverOptions) (broker.Receiver, error)
}

type Prober struct {
	receivers ReceiverOpener
	window    time.Duration
	logger    logger.Logger
}

func NewProber(receivers ReceiverOpener, window time.Duration, log logger.Logger) *Prober {
	if window <= 0 {
		window = constants.DefaultProbeWindow
	}
	return &Prober{receivers: receivers, window: window, logger: log}
}

type openResult struct {
	receiver broker.Receiver
	err      error
}

// Probe trial-opens a receiver on each candidate and returns the ones that
// attached within the probe window, in candidate order. An attach that
// answers after the window counts as inaccessible. Every receiver opened is
// closed before the next candidate is tried. Names are compared verbatim.
func (p *Prober) Probe(ctx context.Context, candidates []string) []string {
	ctx, span := tracing.GetTracer("diagnostics").Start(ctx, "diagnostics.probe")
	defer span.End()

	accessible := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, name := range candidates {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if ctx.Err() != nil {
			break
		}

		ok, err := p.probeOne(ctx, name)
		metrics.IncProbeResult(ok)
		if ok {
			accessible = append(accessible, name)
			p.logger.InfowCtx(ctx, "Destination accessible", "destination", name)
			continue
		}
		p.logger.DebugwCtx(ctx, "Destination not accessible",
			"destination", name,
			"error", err,
		)
	}

	span.SetAttributes(
		attribute.Int("probe.candidates", len(seen)),
		attribute.Int("probe.accessible", len(accessible)),
	)
	return accessible
}

func (p *Prober) probeOne(ctx context.Context, name string) (bool, error) {
	windowCtx, cancel := context.WithTimeout(ctx, p.window)
	defer cancel()

	// A panicking adapter counts as a failed attach.
	results := make(chan openResult, 1)
	apperrors.Go(func() {
		r, err := p.receivers.OpenReceiver(windowCtx, name, broker.ReceiverOptions{AutoAccept: false, Credit: 1})
		results <- openResult{receiver: r, err: err}
	}, func(err error) {
		results <- openResult{err: err}
	})

	select {
	case res := <-results:
		if res.err != nil {
			return false, res.err
		}
		closeReceiver(res.receiver)
		return true, nil
	case <-windowCtx.Done():
		// The attach may still complete; whatever it yields gets closed.
		go func() {
			if res := <-results; res.err == nil {
				closeReceiver(res.receiver)
			}
		}()
		return false, windowCtx.Err()
	}
}

func closeReceiver(r broker.Receiver) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.LinkCloseTimeout)
	defer cancel()
	_ = r.Close(ctx)
}
