package service

import "fmt"

// PipelineError is a terminal analysis failure with a client-visible kind.
type PipelineError struct {
	Kind string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return e.Kind
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func pipelineErr(kind string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err}
}
