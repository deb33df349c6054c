package entities

import "time"

// StepStatus is the outcome of one pipeline step
type StepStatus string

// Step outcomes
const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepTolerated StepStatus = "tolerated"
	StepSkipped   StepStatus = "skipped"
)

// RunState carries the file-system handoff between steps
type RunState struct {
	Ref       string
	Tag       string
	Workspace string
	SourceDir string
	DryRun    bool

	CacheHit  bool
	OutputDir string // relocated build output inside the workspace

	Artifact *Artifact
	Digest   *DigestFile
	Metadata *ReleaseMetadata

	ReleaseURL string
}

// StepResult records what happened to one named step
type StepResult struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// RunReport is the ordered outcome of a pipeline run
type RunReport struct {
	Ref        string        `json:"ref"`
	Tag        string        `json:"tag"`
	Triggered  bool          `json:"triggered"`
	Steps      []StepResult  `json:"steps"`
	FailedStep string        `json:"failed_step,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// Succeeded reports whether no fatal step failed
func (r *RunReport) Succeeded() bool {
	return r.FailedStep == ""
}
