package pipeline

import "fmt"

// Stage names a pipeline step in logs, events and metrics.
type Stage string

const (
	StageRetrieval  Stage = "retrieval"
	StageCandidates Stage = "candidates"
	StageHistory    Stage = "history"
	StageSynthesis  Stage = "synthesis"
	StagePublish    Stage = "publish"
)

// SynthesisError means the final fusion completion failed. No reply is sent.
type SynthesisError struct {
	Model string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis with model %q: %v", e.Model, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// DeliveryError means posting the reply to Slack failed.
type DeliveryError struct {
	Channel  string
	ThreadTS string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver reply to %s (thread %s): %v", e.Channel, e.ThreadTS, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
