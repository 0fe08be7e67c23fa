package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
	"github.com/Skryldev/image-variants/hooks"
	"github.com/Skryldev/image-variants/pipeline"
)

// ── Test doubles ──────────────────────────────────────────────────────────────

type stubDecoded struct{ w, h int }

func (d *stubDecoded) Width() int  { return d.w }
func (d *stubDecoded) Height() int { return d.h }
func (d *stubDecoded) Close()      {}
func (d *stubDecoded) Derive() (core.Working, error) {
	return &stubWorking{w: d.w, h: d.h}, nil
}

type stubWorking struct {
	w, h    int
	resized bool
}

func (s *stubWorking) Width() int  { return s.w }
func (s *stubWorking) Height() int { return s.h }
func (s *stubWorking) Close()      {}
func (s *stubWorking) Resize(_ context.Context, w, h int) error {
	s.w, s.h, s.resized = w, h, true
	return nil
}
func (s *stubWorking) Encode(_ context.Context, spec core.FormatSpec) ([]byte, error) {
	return []byte(string(spec.Name)), nil
}

// flakyStorage fails the first failures Puts with a transient error.
type flakyStorage struct {
	mu       sync.Mutex
	failures int
	calls    int
	data     map[string][]byte
	meta     map[string]string
}

func (f *flakyStorage) Put(_ context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return apperrors.Transient("flaky.put", errors.New("503 slow down"))
	}
	b, _ := io.ReadAll(r)
	if f.data == nil {
		f.data = make(map[string][]byte)
	}
	f.data[key.Path] = b
	f.meta = meta
	return nil
}
func (f *flakyStorage) Exists(context.Context, core.StorageKey) (bool, error) { return false, nil }
func (f *flakyStorage) Location(k core.StorageKey) string                     { return k.Path }

func newVariant(srcW, srcH, width int, format core.Format) *core.Variant {
	return &core.Variant{
		Source:  &core.SourceImage{Name: "a.jpg"},
		Config:  core.VariantConfig{Spec: core.FormatSpec{Name: format}, Width: width},
		Decoded: &stubDecoded{w: srcW, h: srcH},
		Key:     core.StorageKey{Path: "a-out"},
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestVariantPipeline_Steps(t *testing.T) {
	got := pipeline.Variant(&flakyStorage{}, false).Steps()
	want := []string{"derive", "resize", "encode", "write"}
	if len(got) != len(want) {
		t.Fatalf("steps: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestVariantPipeline_Run(t *testing.T) {
	store := &flakyStorage{}
	v := newVariant(800, 600, 400, core.FormatWebP)

	timings, err := pipeline.Variant(store, false).Run(context.Background(), v)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.Width != 400 || v.Height != 300 {
		t.Errorf("dimensions: got %dx%d, want 400x300", v.Width, v.Height)
	}
	if !bytes.Equal(store.data["a-out"], []byte("webp")) {
		t.Errorf("stored: %q", store.data["a-out"])
	}
	if store.meta["width"] != "400" || store.meta["format"] != "webp" || store.meta["source"] != "a.jpg" {
		t.Errorf("meta: %v", store.meta)
	}
	if len(timings) != 4 {
		t.Errorf("timings: %v", timings)
	}
}

func TestResizeStep_ClampsUpscale(t *testing.T) {
	v := newVariant(300, 200, 1920, core.FormatJPEG)
	if err := (&pipeline.DeriveStep{}).Execute(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	if err := (&pipeline.ResizeStep{}).Execute(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	if v.Width != 300 || v.Working.(*stubWorking).resized {
		t.Errorf("clamped resize: width=%d resized=%v", v.Width, v.Working.(*stubWorking).resized)
	}

	v = newVariant(300, 200, 600, core.FormatJPEG)
	_ = (&pipeline.DeriveStep{}).Execute(context.Background(), v)
	if err := (&pipeline.ResizeStep{AllowUpscale: true}).Execute(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	if v.Width != 600 || v.Height != 400 {
		t.Errorf("upscale: got %dx%d, want 600x400", v.Width, v.Height)
	}
}

func TestResizeStep_InvalidWidth(t *testing.T) {
	v := newVariant(300, 200, 0, core.FormatJPEG)
	_ = (&pipeline.DeriveStep{}).Execute(context.Background(), v)
	err := (&pipeline.ResizeStep{}).Execute(context.Background(), v)
	if !errors.Is(err, apperrors.ErrInvalidDimensions) {
		t.Errorf("got %v, want ErrInvalidDimensions", err)
	}
}

func TestDeriveStep_NoDecoded(t *testing.T) {
	v := newVariant(1, 1, 1, core.FormatJPEG)
	v.Decoded = nil
	err := (&pipeline.DeriveStep{}).Execute(context.Background(), v)
	if !apperrors.IsCategory(err, apperrors.CategoryDecode) {
		t.Errorf("got %v, want decode category", err)
	}
}

func TestWriteStep_NoStorage(t *testing.T) {
	err := (&pipeline.WriteStep{}).Execute(context.Background(), newVariant(1, 1, 1, core.FormatJPEG))
	if !errors.Is(err, apperrors.ErrStorageUnavailable) {
		t.Errorf("got %v, want ErrStorageUnavailable", err)
	}
}

func TestRetry_TransientStorage(t *testing.T) {
	store := &flakyStorage{failures: 2}
	pl := pipeline.Variant(store, false).WithRetry(2, time.Millisecond)

	if _, err := pl.Run(context.Background(), newVariant(100, 100, 50, core.FormatJPEG)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.calls != 3 {
		t.Errorf("put calls: got %d, want 3", store.calls)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	store := &flakyStorage{failures: 5}
	pl := pipeline.Variant(store, false).WithRetry(1, time.Millisecond)

	_, err := pl.Run(context.Background(), newVariant(100, 100, 50, core.FormatJPEG))
	if !apperrors.IsRetryable(err) {
		t.Fatalf("want transient error, got %v", err)
	}
	if store.calls != 2 {
		t.Errorf("put calls: got %d, want 2", store.calls)
	}
}

func TestRetry_UsesVariantBackoff(t *testing.T) {
	store := &flakyStorage{failures: 2}
	pl := pipeline.Variant(store, false).WithRetry(2, time.Hour)

	var waits []time.Duration
	v := newVariant(100, 100, 50, core.FormatJPEG)
	v.Backoff = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	if _, err := pl.Run(context.Background(), v); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(waits) != 2 || waits[0] != time.Hour {
		t.Errorf("backoff calls: got %v, want two of 1h", waits)
	}
}

func TestRetry_BackoffErrorStops(t *testing.T) {
	store := &flakyStorage{failures: 5}
	pl := pipeline.Variant(store, false).WithRetry(3, time.Millisecond)

	v := newVariant(100, 100, 50, core.FormatJPEG)
	v.Backoff = func(context.Context, time.Duration) error { return context.DeadlineExceeded }
	_, err := pl.Run(context.Background(), v)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
	if store.calls != 1 {
		t.Errorf("put calls: got %d, want 1", store.calls)
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pipeline.Variant(&flakyStorage{}, false).Run(ctx, newVariant(10, 10, 5, core.FormatJPEG))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestMetricsHook(t *testing.T) {
	metrics := hooks.NewInMemoryMetrics()
	store := &flakyStorage{failures: 1}
	pl := pipeline.Variant(store, false).AddHook(hooks.NewMetricsHook(metrics))

	if _, err := pl.Run(context.Background(), newVariant(100, 100, 50, core.FormatJPEG)); err == nil {
		t.Fatal("expected write failure without retries")
	}
	if _, err := pl.Run(context.Background(), newVariant(100, 100, 50, core.FormatJPEG)); err != nil {
		t.Fatalf("second run: %v", err)
	}

	snap := metrics.Snapshot()
	if snap.StepCalls["derive"] != 2 || snap.StepCalls["write"] != 2 {
		t.Errorf("step calls: %v", snap.StepCalls)
	}
	if snap.StepErrors["write"] != 1 {
		t.Errorf("write errors: %v", snap.StepErrors)
	}
	if snap.ErrorCategories[string(apperrors.CategoryTransient)] != 1 {
		t.Errorf("categories: %v", snap.ErrorCategories)
	}
	if snap.TotalThroughputB != int64(len("jpeg")) {
		t.Errorf("throughput: %d", snap.TotalThroughputB)
	}
}
