package pipeline

import "fmt"

const (
	StageNormalize = "normalize"
	StageFilter    = "filter"
	StageSend      = "send"
)

// PipelineError tells which step of a publish failed. Err is the coded error
// from pkg/errors, so errors.Is matches on the taxonomy codes.
type PipelineError struct {
	Stage       string
	Destination string
	Err         error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("publish to %q failed at %s: %v", e.Destination, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
