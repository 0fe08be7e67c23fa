// Package pipeline wires variant steps together, runs hooks, and handles retries.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
)

// Pipeline executes a sequence of Steps with hook and retry support.
type Pipeline struct {
	steps      []core.Step
	hooks      []core.Hook
	maxRetries int
	retryDelay time.Duration
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// WithRetry sets the maximum retry count and delay for transient failures.
func (p *Pipeline) WithRetry(maxRetries int, delay time.Duration) *Pipeline {
	p.maxRetries = maxRetries
	p.retryDelay = delay
	return p
}

// Steps returns the names of the configured steps in order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run executes the pipeline on v.  It returns per-step timing observations
// and stops at the first failing step.
func (p *Pipeline) Run(ctx context.Context, v *core.Variant) (map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return timings, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}

		elapsed, err := p.runStep(ctx, step, v)
		timings[step.Name()] = elapsed
		if err != nil {
			return timings, err
		}
	}
	return timings, nil
}

// runStep executes a single step, calling hooks and retrying transient errors.
func (p *Pipeline) runStep(ctx context.Context, step core.Step, v *core.Variant) (time.Duration, error) {
	p.callHooksBefore(ctx, step.Name(), v)

	var (
		elapsed time.Duration
		err     error
	)

	attempts := p.maxRetries + 1
	for i := 0; i < attempts; i++ {
		start := time.Now()
		err = step.Execute(ctx, v)
		elapsed = time.Since(start)

		if err == nil {
			break
		}
		if !apperrors.IsRetryable(err) || i == attempts-1 {
			break
		}
		if werr := p.backoff(ctx, v); werr != nil {
			err = apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), werr)
			goto done
		}
	}

done:
	p.callHooksAfter(ctx, step.Name(), v, elapsed, err)
	return elapsed, err
}

// backoff waits retryDelay before the next attempt, through v.Backoff when
// the caller supplied one.
func (p *Pipeline) backoff(ctx context.Context, v *core.Variant) error {
	if v.Backoff != nil {
		return v.Backoff(ctx, p.retryDelay)
	}
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, v *core.Variant) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, v)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, v *core.Variant, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, v, d, err)
	}
}

// Variant returns the standard derive → resize → encode → write pipeline.
func Variant(storage core.StorageAdapter, allowUpscale bool) *Pipeline {
	return New().Use(
		&DeriveStep{},
		&ResizeStep{AllowUpscale: allowUpscale},
		&EncodeStep{},
		&WriteStep{Storage: storage},
	)
}

var _ core.PipelineRunner = (*Pipeline)(nil)
