// Package saga runs multi-stage cross-ledger operations with explicit
// compensating actions, in place of an atomic transaction the two ledgers
// cannot provide. Stages execute in order; when a stage fails, compensations
// of the committed stages run in reverse order. Compensation runs on a context
// detached from the caller's cancellation so that cancelling a half-finished
// operation cannot strand funds.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Stage is one step of a saga: an action plus the compensating action that
// undoes it. Compensate may be nil for stages with nothing to roll back.
type Stage struct {
	Name       string
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// CompensationError reports that a rollback itself failed. This is fatal from
// the engine's point of view: it implies stranded or double-counted funds and
// must be escalated, never silently swallowed.
type CompensationError struct {
	Op            string
	Stage         string // the stage whose compensation failed
	Cause         error  // the error that triggered the rollback
	CompensateErr error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga %s: stage %s failed (%v) and compensation failed: %v",
		e.Op, e.Stage, e.Cause, e.CompensateErr)
}

func (e *CompensationError) Unwrap() error { return e.CompensateErr }

// EscalateFunc receives compensation failures for out-of-band alerting.
type EscalateFunc func(ctx context.Context, op, stage string, err error)

// Executor runs sagas with a bounded compensation timeout and an escalation
// hook for compensation failures.
type Executor struct {
	compensationTimeout time.Duration
	escalate            EscalateFunc
	logger              *slog.Logger
}

// NewExecutor creates an Executor. escalate may be nil when no alerting
// channel is configured.
func NewExecutor(compensationTimeout time.Duration, escalate EscalateFunc, logger *slog.Logger) *Executor {
	if compensationTimeout <= 0 {
		compensationTimeout = 30 * time.Second
	}
	return &Executor{
		compensationTimeout: compensationTimeout,
		escalate:            escalate,
		logger:              logger.With(slog.String("component", "saga")),
	}
}

// Run executes the stages in order. On the first stage error it compensates
// every previously committed stage in reverse order and returns the stage
// error. If any compensation fails, the returned error is a
// *CompensationError and the escalation hook has been invoked.
func (e *Executor) Run(ctx context.Context, op string, stages []Stage) error {
	for i, st := range stages {
		if err := st.Run(ctx); err != nil {
			e.logger.WarnContext(ctx, "saga stage failed",
				slog.String("op", op),
				slog.String("stage", st.Name),
				slog.String("error", err.Error()),
			)
			if compErr := e.compensate(ctx, op, stages[:i]); compErr != nil {
				return &CompensationError{
					Op:            op,
					Stage:         st.Name,
					Cause:         err,
					CompensateErr: compErr,
				}
			}
			return fmt.Errorf("saga %s: stage %s: %w", op, st.Name, err)
		}
	}
	return nil
}

// compensate rolls back the given committed stages in reverse order. It keeps
// going after individual failures so every stage gets its rollback attempt,
// and returns the first failure.
func (e *Executor) compensate(ctx context.Context, op string, committed []Stage) error {
	// Detach from the caller's cancellation: compensation must still run when
	// the operation was cancelled mid-saga.
	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.compensationTimeout)
	defer cancel()

	var firstErr error
	for i := len(committed) - 1; i >= 0; i-- {
		st := committed[i]
		if st.Compensate == nil {
			continue
		}
		if err := st.Compensate(compCtx); err != nil {
			e.logger.ErrorContext(compCtx, "saga compensation failed",
				slog.String("op", op),
				slog.String("stage", st.Name),
				slog.String("error", err.Error()),
			)
			if e.escalate != nil {
				e.escalate(compCtx, op, st.Name, err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("compensate %s: %w", st.Name, err)
			}
			continue
		}
		e.logger.InfoContext(compCtx, "saga stage compensated",
			slog.String("op", op),
			slog.String("stage", st.Name),
		)
	}
	return firstErr
}
