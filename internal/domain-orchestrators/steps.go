package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/interfaces"
)

// Step is one named unit of the release pipeline
type Step interface {
	Name() string
	Run(ctx context.Context, state *entities.RunState) error
}

// StepError reports which named step stopped the run
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step name carried by err, or ""
func FailedStep(err error) string {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}

type funcStep struct {
	name string
	fn   func(ctx context.Context, state *entities.RunState) error
}

// NewStep adapts a function into a Step
func NewStep(name string, fn func(ctx context.Context, state *entities.RunState) error) Step {
	return &funcStep{name: name, fn: fn}
}

func (s *funcStep) Name() string { return s.name }

func (s *funcStep) Run(ctx context.Context, state *entities.RunState) error {
	return s.fn(ctx, state)
}

type toleratedStep struct {
	Step
}

// Tolerate marks a step whose failure is logged and never ends the run
func Tolerate(step Step) Step {
	return &toleratedStep{Step: step}
}

type conditionalStep struct {
	Step
	when func(state *entities.RunState) bool
}

// When runs step only if pred holds for the state at that point of the run
func When(pred func(state *entities.RunState) bool, step Step) Step {
	return &conditionalStep{Step: step, when: pred}
}

// unwrap peels the wrappers and reports what they said
func unwrap(step Step, state *entities.RunState) (inner Step, tolerated, skip bool) {
	for {
		switch s := step.(type) {
		case *toleratedStep:
			tolerated = true
			step = s.Step
		case *conditionalStep:
			if !s.when(state) {
				skip = true
			}
			step = s.Step
		default:
			return step, tolerated, skip
		}
	}
}

// StepRunner executes steps strictly in order and stops at the first
// failure that is not tolerated
type StepRunner struct {
	logger interfaces.Logger
	now    func() time.Time
}

// NewStepRunner creates a runner that logs every step outcome
func NewStepRunner(logger interfaces.Logger) *StepRunner {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &StepRunner{logger: logger, now: time.Now}
}

// Run executes steps against state and appends one result per step to report.
// The returned error is a *StepError.
func (r *StepRunner) Run(ctx context.Context, steps []Step, state *entities.RunState, report *entities.RunReport) error {
	for i, step := range steps {
		name := step.Name()
		inner, tolerated, skip := unwrap(step, state)

		if skip {
			r.logger.Info("step skipped", interfaces.F("step", name))
			report.Steps = append(report.Steps, entities.StepResult{Name: name, Status: entities.StepSkipped})
			continue
		}

		if err := ctx.Err(); err != nil {
			report.Steps = append(report.Steps, entities.StepResult{Name: name, Status: entities.StepFailed, Error: err.Error()})
			report.FailedStep = name
			return &StepError{Step: name, Err: err}
		}

		r.logger.Info("step started",
			interfaces.F("step", name),
			interfaces.F("index", i+1),
			interfaces.F("total", len(steps)))

		start := r.now()
		err := inner.Run(ctx, state)
		result := entities.StepResult{Name: name, Duration: r.now().Sub(start)}

		switch {
		case err == nil:
			result.Status = entities.StepSucceeded
			r.logger.Info("step succeeded", interfaces.F("step", name), interfaces.F("duration", result.Duration))
		case tolerated:
			result.Status = entities.StepTolerated
			result.Error = err.Error()
			r.logger.Warn("step failed, continuing", interfaces.F("step", name), interfaces.Err(err))
		default:
			result.Status = entities.StepFailed
			result.Error = err.Error()
			report.Steps = append(report.Steps, result)
			report.FailedStep = name
			r.logger.Error("step failed", interfaces.F("step", name), interfaces.Err(err))
			return &StepError{Step: name, Err: err}
		}
		report.Steps = append(report.Steps, result)
	}
	return nil
}
