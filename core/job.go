package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	apperrors "github.com/Skryldev/image-variants/errors"
	"github.com/Skryldev/image-variants/utils"
)

// Executor holds everything the jobs of one batch share: the codec, the
// gate, the per-variant pipeline and the logger.  It is safe for concurrent
// use.
type Executor struct {
	Codec    Codec
	Gate     *Gate
	Pipeline PipelineRunner
	Logger   Logger
	Storage  StorageAdapter

	processedCount int64
	errorCount     int64
}

// NewExecutor returns an Executor; a nil logger discards output.
func NewExecutor(codec Codec, gate *Gate, pl PipelineRunner, storage StorageAdapter, l Logger) *Executor {
	if l == nil {
		l = NopLogger
	}
	if gate == nil {
		gate = NewGate(DefaultGateCapacity)
	}
	return &Executor{Codec: codec, Gate: gate, Pipeline: pl, Storage: storage, Logger: l}
}

// KeyFor returns the storage key a variant of src is written to.
func KeyFor(src string, cfg VariantConfig) StorageKey {
	return StorageKey{Path: utils.OutputName(src, cfg.Width, cfg.Spec.Name.Extension())}
}

// RunJob executes one VariantJob under the gate.  It never returns an error:
// every failure, including a codec panic, ends up in JobResult.Err and the
// gate slot is always released.  The slot is also given back while the
// pipeline waits between retries of a transient failure.
func (e *Executor) RunJob(ctx context.Context, job VariantJob) JobResult {
	res := JobResult{Source: job.Source.Name, Config: job.Config, Key: job.Key}

	l := &lease{gate: e.Gate}
	if err := l.acquire(ctx); err != nil {
		res.Err = apperrors.Wrap(apperrors.CategoryPipeline, "gate.acquire", err)
		res.Started, res.Finished = time.Now(), time.Now()
		e.reportJob(res)
		return res
	}
	res.Started = time.Now()
	res.Timings, res.Bytes, res.Err = e.runPipeline(ctx, job, l)
	res.Finished = time.Now()
	l.release()

	e.reportJob(res)
	return res
}

func (e *Executor) runPipeline(ctx context.Context, job VariantJob, l *lease) (timings map[string]time.Duration, n int, err error) {
	v := &Variant{
		Source:  job.Source,
		Config:  job.Config,
		Decoded: job.Decoded,
		Key:     job.Key,
		Backoff: l.pause,
	}
	defer func() {
		if v.Working != nil {
			v.Working.Close()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.CategoryEncode, "variant", fmt.Errorf("codec panic: %v", r))
		}
	}()

	timings, err = e.Pipeline.Run(ctx, v)
	return timings, len(v.Output), err
}

func (e *Executor) reportJob(res JobResult) {
	if res.Err != nil {
		atomic.AddInt64(&e.errorCount, 1)
		e.Logger.Error("variant.failed",
			"source", res.Source,
			"width", res.Config.Width,
			"format", res.Config.Spec.Name,
			"config", res.Config.String(),
			"error", res.Err.Error(),
		)
		return
	}
	atomic.AddInt64(&e.processedCount, 1)
	location := res.Key.Path
	if e.Storage != nil {
		location = e.Storage.Location(res.Key)
	}
	e.Logger.Info("variant.done",
		"source", res.Source,
		"width", res.Config.Width,
		"format", res.Config.Spec.Name,
		"path", location,
		"bytes", res.Bytes,
		"duration_ms", res.Finished.Sub(res.Started).Milliseconds(),
	)
}

// ProcessedCount returns the number of variants written so far.
func (e *Executor) ProcessedCount() int64 { return atomic.LoadInt64(&e.processedCount) }

// ErrorCount returns the number of failed variants so far.
func (e *Executor) ErrorCount() int64 { return atomic.LoadInt64(&e.errorCount) }
