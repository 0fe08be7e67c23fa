package core

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Skryldev/image-variants/errors"
)

// ImageTask fans one loaded source out over the whole matrix.
type ImageTask struct {
	Source *SourceImage
	Matrix []VariantConfig
}

// RunTask decodes the source once under the gate, launches one job per
// matrix entry and waits for all of them.  Partial success is normal; the
// returned TaskResult has one JobResult per matrix entry in matrix order.
// A source that fails to decode fails every entry, and each one is counted
// and logged like any other failed variant.
func (e *Executor) RunTask(ctx context.Context, task ImageTask) TaskResult {
	result := TaskResult{Source: task.Source.Name, Jobs: make([]JobResult, len(task.Matrix))}
	if len(task.Matrix) == 0 {
		return result
	}

	decoded, err := e.decode(ctx, task.Source)
	if err != nil {
		e.Logger.Error("source.failed", "source", task.Source.Name, "error", err.Error())
		now := time.Now()
		for i, cfg := range task.Matrix {
			result.Jobs[i] = JobResult{
				Source:   task.Source.Name,
				Config:   cfg,
				Key:      KeyFor(task.Source.Name, cfg),
				Started:  now,
				Finished: now,
				Err:      err,
			}
			e.reportJob(result.Jobs[i])
		}
		return result
	}
	defer decoded.Close()

	var g errgroup.Group
	for i, cfg := range task.Matrix {
		i, cfg := i, cfg
		g.Go(func() error {
			result.Jobs[i] = e.RunJob(ctx, VariantJob{
				Source:  task.Source,
				Decoded: decoded,
				Config:  cfg,
				Key:     KeyFor(task.Source.Name, cfg),
			})
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// decode produces the shared handle for src while holding one gate slot.
func (e *Executor) decode(ctx context.Context, src *SourceImage) (decoded Decoded, err error) {
	if len(src.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "decode", apperrors.ErrEmptyInput)
	}
	gateErr := e.Gate.Do(ctx, func() error {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.New(apperrors.CategoryDecode, "decode", fmt.Errorf("codec panic: %v", r))
			}
		}()
		decoded, err = e.Codec.Decode(ctx, src.Data)
		return nil
	})
	if gateErr != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "gate.acquire", gateErr)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "decode", err)
	}
	return decoded, nil
}
