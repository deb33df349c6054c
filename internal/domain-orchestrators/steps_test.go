package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/kiln/internal/domain/entities"
)

func recordingStep(name string, log *[]string, err error) Step {
	return NewStep(name, func(_ context.Context, _ *entities.RunState) error {
		*log = append(*log, name)
		return err
	})
}

func TestStepRunner_RunsInOrder(t *testing.T) {
	var ran []string
	steps := []Step{
		recordingStep("one", &ran, nil),
		recordingStep("two", &ran, nil),
		recordingStep("three", &ran, nil),
	}

	report := &entities.RunReport{}
	err := NewStepRunner(nil).Run(context.Background(), steps, &entities.RunState{}, report)

	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, ran)
	require.Len(t, report.Steps, 3)
	for _, s := range report.Steps {
		assert.Equal(t, entities.StepSucceeded, s.Status)
	}
	assert.True(t, report.Succeeded())
}

func TestStepRunner_StopsAtFirstFailure(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	steps := []Step{
		recordingStep("one", &ran, nil),
		recordingStep("two", &ran, boom),
		recordingStep("three", &ran, nil),
	}

	report := &entities.RunReport{}
	err := NewStepRunner(nil).Run(context.Background(), steps, &entities.RunState{}, report)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, `step "two" failed: boom`, err.Error())
	assert.Equal(t, []string{"one", "two"}, ran)
	assert.Equal(t, "two", report.FailedStep)
	assert.Equal(t, entities.StepFailed, report.Steps[1].Status)
	assert.Equal(t, "boom", report.Steps[1].Error)
}

func TestStepRunner_TolerateKeepsGoing(t *testing.T) {
	var ran []string
	steps := []Step{
		Tolerate(recordingStep("flaky", &ran, errors.New("ignored"))),
		recordingStep("after", &ran, nil),
	}

	report := &entities.RunReport{}
	err := NewStepRunner(nil).Run(context.Background(), steps, &entities.RunState{}, report)

	require.NoError(t, err)
	assert.Equal(t, []string{"flaky", "after"}, ran)
	assert.Equal(t, entities.StepTolerated, report.Steps[0].Status)
	assert.Equal(t, "ignored", report.Steps[0].Error)
	assert.Empty(t, report.FailedStep)
}

func TestStepRunner_WhenSeesEarlierState(t *testing.T) {
	var ran []string
	setHit := NewStep("restore", func(_ context.Context, s *entities.RunState) error {
		s.CacheHit = true
		return nil
	})
	onHit := When(func(s *entities.RunState) bool { return s.CacheHit }, recordingStep("purge", &ran, nil))
	onMiss := When(func(s *entities.RunState) bool { return !s.CacheHit }, recordingStep("cold", &ran, nil))

	report := &entities.RunReport{}
	err := NewStepRunner(nil).Run(context.Background(), []Step{setHit, onHit, onMiss}, &entities.RunState{}, report)

	require.NoError(t, err)
	assert.Equal(t, []string{"purge"}, ran)
	assert.Equal(t, entities.StepSkipped, report.Steps[2].Status)
	assert.Equal(t, "cold", report.Steps[2].Name)
}

func TestStepRunner_NestedWrappers(t *testing.T) {
	var ran []string
	step := Tolerate(When(func(*entities.RunState) bool { return true }, recordingStep("wrapped", &ran, errors.New("x"))))
	assert.Equal(t, "wrapped", step.Name())

	report := &entities.RunReport{}
	require.NoError(t, NewStepRunner(nil).Run(context.Background(), []Step{step}, &entities.RunState{}, report))
	assert.Equal(t, entities.StepTolerated, report.Steps[0].Status)
}

func TestFailedStep(t *testing.T) {
	err := fmt.Errorf("run: %w", &StepError{Step: "package", Err: errors.New("disk")})
	assert.Equal(t, "package", FailedStep(err))
	assert.Empty(t, FailedStep(errors.New("plain")))
	assert.Empty(t, FailedStep(nil))
}
