package saga

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunAllStagesSucceed(t *testing.T) {
	var order []string
	exec := NewExecutor(0, nil, testLogger())

	err := exec.Run(context.Background(), "open", []Stage{
		{Name: "a", Run: func(ctx context.Context) error { order = append(order, "a"); return nil }},
		{Name: "b", Run: func(ctx context.Context) error { order = append(order, "b"); return nil }},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestFailureCompensatesCommittedStagesInReverse(t *testing.T) {
	var compensated []string
	boom := errors.New("stage c failed")
	exec := NewExecutor(0, nil, testLogger())

	err := exec.Run(context.Background(), "open", []Stage{
		{
			Name:       "a",
			Run:        func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { compensated = append(compensated, "a"); return nil },
		},
		{
			Name:       "b",
			Run:        func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { compensated = append(compensated, "b"); return nil },
		},
		{
			Name: "c",
			Run:  func(ctx context.Context) error { return boom },
		},
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"b", "a"}, compensated)
}

func TestFailedStageIsNotCompensated(t *testing.T) {
	compensations := 0
	exec := NewExecutor(0, nil, testLogger())

	err := exec.Run(context.Background(), "open", []Stage{
		{
			Name:       "a",
			Run:        func(ctx context.Context) error { return errors.New("a failed") },
			Compensate: func(ctx context.Context) error { compensations++; return nil },
		},
	})

	require.Error(t, err)
	assert.Zero(t, compensations, "the failing stage itself must not be compensated")
}

func TestCompensationFailureEscalates(t *testing.T) {
	var escalatedStage string
	compErr := errors.New("release failed")
	exec := NewExecutor(0, func(ctx context.Context, op, stage string, err error) {
		escalatedStage = stage
	}, testLogger())

	err := exec.Run(context.Background(), "open", []Stage{
		{
			Name:       "lock",
			Run:        func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { return compErr },
		},
		{
			Name: "mint",
			Run:  func(ctx context.Context) error { return errors.New("mint failed") },
		},
	})

	var ce *CompensationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "lock", ce.Stage)
	assert.Equal(t, "lock", escalatedStage)
}

func TestCancelledContextStillRunsCompensation(t *testing.T) {
	compensated := false
	exec := NewExecutor(0, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	err := exec.Run(ctx, "open", []Stage{
		{
			Name:       "lock",
			Run:        func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error {
				compensated = ctx.Err() == nil
				return nil
			},
		},
		{
			Name: "mint",
			Run: func(ctx context.Context) error {
				cancel()
				return ctx.Err()
			},
		},
	})

	require.Error(t, err)
	assert.True(t, compensated, "compensation must run on a live context after cancellation")
}
