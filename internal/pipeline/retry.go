package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// runStage calls fn under the stage budget, retrying model and timeout
// failures up to MaxAttempts calls in total. The returned error is always a
// *types.StageError unless ctx itself ended.
func runStage[T any](ctx context.Context, o *Orchestrator, kind types.StageKind, fn func(context.Context) (*T, error)) (*T, StageOutcome, error) {
	var (
		out     StageOutcome
		result  *T
		lastErr error
	)
	log := o.log.WithField("stage", kind)
	start := time.Now()

	op := func() error {
		out.Attempts++
		v, err := callWithTimeout(ctx, kind, o.cfg.timeout(kind), fn)
		if err == nil && v == nil {
			err = types.NewModelError(fmt.Errorf("%s returned no result", kind))
		}
		if err != nil {
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				return backoff.Permanent(lastErr)
			}
			se := types.AsStageError(err)
			lastErr = se
			if !se.Retryable() {
				return backoff.Permanent(se)
			}
			return se
		}
		result, lastErr = v, nil
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt":  out.Attempts,
			"retry_in": wait.String(),
		}).Warn("stage attempt failed, retrying")
	}

	_ = backoff.RetryNotify(op, o.retryPolicy(ctx), notify)
	out.Duration = time.Since(start)

	fields := logrus.Fields{
		"attempt":     out.Attempts,
		"duration_ms": out.Duration.Milliseconds(),
	}
	if lastErr != nil {
		out.Status = types.ResultFailed
		out.Error = lastErr.Error()
		log.WithFields(fields).WithError(lastErr).Warn("stage failed")
		return nil, out, lastErr
	}
	out.Status = types.ResultSucceeded
	log.WithFields(fields).Debug("stage succeeded")
	return result, out, nil
}

// retryPolicy is built per stage call since WithMaxRetries keeps state.
func (o *Orchestrator) retryPolicy(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if o.cfg.RetryDelay > 0 {
		b = backoff.NewConstantBackOff(o.cfg.RetryDelay)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.cfg.MaxAttempts-1)), ctx)
}

// callWithTimeout enforces budget d even on stages that ignore their context.
// A stage that overruns is abandoned; its goroutine finishes on its own.
func callWithTimeout[T any](ctx context.Context, kind types.StageKind, d time.Duration, fn func(context.Context) (*T, error)) (*T, error) {
	cctx, cancel := ctx, context.CancelFunc(func() {})
	if d > 0 {
		cctx, cancel = context.WithTimeout(ctx, d)
	}
	defer cancel()

	type result struct {
		v   *T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: types.NewModelError(fmt.Errorf("%s panicked: %v", kind, r))}
			}
		}()
		v, err := fn(cctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, types.NewTimeoutError(fmt.Errorf("%s exceeded %s", kind, d))
		}
		return r.v, r.err
	case <-cctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, types.NewTimeoutError(fmt.Errorf("%s exceeded %s", kind, d))
	}
}
