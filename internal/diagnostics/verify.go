package diagnostics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"mqdiag/internal/broker"
	"mqdiag/internal/constants"
	"mqdiag/internal/logger"
	"mqdiag/pkg/errors"
	"mqdiag/pkg/metrics"
	"mqdiag/pkg/tracing"
)

// VerifyResult is the detailed outcome of one verification.
type VerifyResult struct {
	Destination string        `json:"destination"`
	Delivered   bool          `json:"delivered"`
	MessageID   string        `json:"message_id,omitempty"`
	Body        string        `json:"body,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Error       string        `json:"error,omitempty"`
}

type Verifier struct {
	receivers ReceiverOpener
	logger    logger.Logger
}

func NewVerifier(receivers ReceiverOpener, log logger.Logger) *Verifier {
	return &Verifier{receivers: receivers, logger: log}
}

// Verify reports whether a message arrives on destination within timeout.
func (v *Verifier) Verify(ctx context.Context, destination string, timeout time.Duration) bool {
	return v.Check(ctx, destination, timeout).Delivered
}

// Check opens an auto-accepting receiver and waits for the first message or
// the deadline, whichever comes first. A receiver error counts as not
// delivered. The receiver is closed on every path.
func (v *Verifier) Check(ctx context.Context, destination string, timeout time.Duration) (result VerifyResult) {
	if timeout <= 0 {
		timeout = constants.DefaultVerifyTimeout
	}

	ctx, span := tracing.StartConsumerSpan(ctx, "diagnostics", "diagnostics.verify", destination)
	defer span.End()

	start := time.Now()
	result = VerifyResult{Destination: destination}
	defer func() {
		result.Elapsed = time.Since(start)
		metrics.ObserveVerify(result.Delivered, result.Elapsed)
		span.SetAttributes(attribute.Bool("verify.delivered", result.Delivered))
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receiver, err := v.receivers.OpenReceiver(waitCtx, destination, broker.ReceiverOptions{AutoAccept: true, Credit: 1})
	if err != nil {
		result.Error = err.Error()
		v.logger.WarnwCtx(ctx, "Verification receiver failed to open",
			"destination", destination,
			"error", err,
		)
		return result
	}
	defer closeReceiver(receiver)

	msg, err := receiver.Receive(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			err = errors.ErrVerificationTimeout.WithMessage("no message within " + timeout.String())
		}
		result.Error = err.Error()
		v.logger.WarnwCtx(ctx, "Message not observed",
			"destination", destination,
			"timeout", timeout,
			"error", err,
		)
		return result
	}

	_, recvSpan := tracing.StartSpanFromMessage(ctx, "diagnostics.verify.received", msg.Headers)
	tracing.TagMessageID(recvSpan, msg.MessageID)
	recvSpan.End()

	result.Delivered = true
	result.MessageID = msg.MessageID
	result.Body = string(msg.Body)
	v.logger.InfowCtx(ctx, "Message observed",
		"destination", destination,
		"message_id", msg.MessageID,
		"size_bytes", len(msg.Body),
	)
	return result
}
