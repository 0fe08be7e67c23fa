package imagevariants_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	imagevariants "github.com/Skryldev/image-variants"
	"github.com/Skryldev/image-variants/adapters/native"
	"github.com/Skryldev/image-variants/config"
	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func newRedJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func newBluePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 50, G: 50, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func newConfig(t *testing.T) (config.Config, string, string) {
	t.Helper()
	src, dst := t.TempDir(), t.TempDir()
	cfg := imagevariants.DefaultConfig()
	cfg.SourceDir, cfg.Target = src, dst
	cfg.Backend = config.BackendNative
	cfg.Sizes = []int{64}
	cfg.Formats = []string{"webp", "jpeg"}
	return cfg, src, dst
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestRun_TwoSourcesFourOutputs(t *testing.T) {
	cfg, src, dst := newConfig(t)
	os.WriteFile(filepath.Join(src, "a.jpg"), newRedJPEG(t, 200, 100), 0o644)
	os.WriteFile(filepath.Join(src, "b.png"), newBluePNG(t, 120, 120), 0o644)

	logs := &syncBuffer{}
	r, err := imagevariants.New(cfg, imagevariants.WithLogger(slog.New(slog.NewTextHandler(logs, nil))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ok, failed := res.Counts()
	if ok != 4 || failed != 0 {
		t.Fatalf("counts: ok=%d failed=%d", ok, failed)
	}

	want := []string{"a-64.jpeg", "a-64.webp", "b-64.jpeg", "b-64.webp"}
	got := listDir(t, dst)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("outputs: got %v, want %v", got, want)
	}

	f, _ := os.Open(filepath.Join(dst, "a-64.jpeg"))
	defer f.Close()
	c, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if c.Width != 64 || c.Height != 32 {
		t.Errorf("a-64.jpeg: got %dx%d, want 64x32", c.Width, c.Height)
	}

	out := logs.String()
	for _, line := range []string{"batch.start", "variant.done", "batch.done", "run_id=" + res.RunID} {
		if !strings.Contains(out, line) {
			t.Errorf("log missing %q", line)
		}
	}
}

func TestRun_AVIFFailsAloneOnNativeBackend(t *testing.T) {
	cfg, src, dst := newConfig(t)
	cfg.Formats = []string{"avif", "jpeg"}
	os.WriteFile(filepath.Join(src, "hero-original.jpg"), newRedJPEG(t, 100, 100), 0o644)

	logs := &syncBuffer{}
	r, err := imagevariants.New(cfg, imagevariants.WithLogger(slog.New(slog.NewTextHandler(logs, nil))))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	ok, failed := res.Counts()
	if ok != 1 || failed != 1 {
		t.Errorf("counts: ok=%d failed=%d, want 1/1", ok, failed)
	}
	if got := listDir(t, dst); len(got) != 1 || got[0] != "hero-64.jpeg" {
		t.Errorf("outputs: %v", got)
	}
	if !strings.Contains(logs.String(), "variant.failed") || !strings.Contains(logs.String(), "hero-original.jpg") {
		t.Errorf("failure not logged with source name:\n%s", logs.String())
	}
}

func TestRun_WarnsAboutIgnoredParams(t *testing.T) {
	cfg, src, _ := newConfig(t)
	os.WriteFile(filepath.Join(src, "a.jpg"), newRedJPEG(t, 100, 100), 0o644)

	logs := &syncBuffer{}
	r, err := imagevariants.New(cfg, imagevariants.WithLogger(slog.New(slog.NewTextHandler(logs, nil))))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := logs.String()
	if n := strings.Count(out, "encoder parameters not supported"); n != 1 {
		t.Fatalf("warnings: got %d, want 1:\n%s", n, out)
	}
	if !strings.Contains(out, "format=webp") || !strings.Contains(out, "smart_subsample") {
		t.Errorf("warning does not name the webp parameters:\n%s", out)
	}
}

func TestRun_CorruptFileIsIsolated(t *testing.T) {
	cfg, src, dst := newConfig(t)
	os.WriteFile(filepath.Join(src, "good.jpg"), newRedJPEG(t, 80, 80), 0o644)
	os.WriteFile(filepath.Join(src, "broken.png"), []byte("\x89PNG\r\n\x1a\ngarbage"), 0o644)

	r, err := imagevariants.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, failed := res.Counts(); failed != 2 {
		t.Errorf("failed: got %d, want 2", failed)
	}
	if got := listDir(t, dst); len(got) != 2 {
		t.Errorf("outputs: %v", got)
	}
}

func TestRun_Idempotent(t *testing.T) {
	cfg, src, dst := newConfig(t)
	os.WriteFile(filepath.Join(src, "a.jpg"), newRedJPEG(t, 150, 90), 0o644)

	r, err := imagevariants.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(filepath.Join(dst, "a-64.jpeg"))
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(filepath.Join(dst, "a-64.jpeg"))
	if !bytes.Equal(first, second) {
		t.Error("re-run produced different bytes")
	}
}

func TestRun_MissingSourceDirIsFatal(t *testing.T) {
	cfg, _, _ := newConfig(t)
	cfg.SourceDir = filepath.Join(cfg.SourceDir, "missing")
	r, err := imagevariants.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Run(context.Background()); !apperrors.IsFatal(err) {
		t.Errorf("want fatal error, got %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg, _, _ := newConfig(t)
	cfg.Formats = []string{"tiff"}
	if _, err := imagevariants.New(cfg); !apperrors.IsCategory(err, apperrors.CategoryConfig) {
		t.Errorf("want config error, got %v", err)
	}
}

func TestPlan(t *testing.T) {
	cfg, src, dst := newConfig(t)
	cfg.Sizes = []int{640, 320}
	os.WriteFile(filepath.Join(src, "a.jpg"), []byte("not decoded"), 0o644)
	os.WriteFile(filepath.Join(src, "skip.txt"), []byte("x"), 0o644)

	r, err := imagevariants.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	plan, err := r.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != 4 {
		t.Fatalf("plan entries: got %d, want 4", len(plan))
	}
	if plan[0].Location != filepath.Join(dst, "a-640.webp") {
		t.Errorf("first location: %s", plan[0].Location)
	}
	for _, p := range plan {
		if p.Exists {
			t.Errorf("%s: reported as existing", p.Location)
		}
	}
	if got := listDir(t, dst); len(got) != 0 {
		t.Errorf("Plan wrote files: %v", got)
	}
}

func TestPlan_MarksExistingOutputs(t *testing.T) {
	cfg, src, dst := newConfig(t)
	os.WriteFile(filepath.Join(src, "a.jpg"), []byte("not decoded"), 0o644)
	os.WriteFile(filepath.Join(dst, "a-64.jpeg"), []byte("old"), 0o644)

	r, err := imagevariants.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	plan, err := r.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	existing := map[string]bool{}
	for _, p := range plan {
		existing[filepath.Base(p.Location)] = p.Exists
	}
	if !existing["a-64.jpeg"] || existing["a-64.webp"] {
		t.Errorf("exists flags: %v", existing)
	}
}

func TestPlan_MissingTargetIsNotCreated(t *testing.T) {
	cfg, src, dst := newConfig(t)
	cfg.Target = filepath.Join(dst, "not", "yet")
	os.WriteFile(filepath.Join(src, "a.jpg"), []byte("not decoded"), 0o644)

	r, err := imagevariants.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Plan(context.Background()); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if _, err := os.Stat(cfg.Target); !os.IsNotExist(err) {
		t.Errorf("Plan created %s: %v", cfg.Target, err)
	}
}

func TestWithCodec(t *testing.T) {
	cfg, src, dst := newConfig(t)
	os.WriteFile(filepath.Join(src, "a.jpg"), newRedJPEG(t, 100, 50), 0o644)

	r, err := imagevariants.New(cfg, imagevariants.WithCodec(native.NewBackend()))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(listDir(t, dst)) != 2 {
		t.Errorf("outputs: %v", listDir(t, dst))
	}
	snap := r.Metrics()
	if snap.StepCalls["write"] != 2 {
		t.Errorf("write calls: %v", snap.StepCalls)
	}
}

func TestMatrix(t *testing.T) {
	cfg, _, _ := newConfig(t)
	cfg.Sizes = []int{1920, 1280, 640, 320}
	cfg.Formats = nil
	r, err := imagevariants.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	m := r.Matrix()
	if len(m) != 12 {
		t.Fatalf("matrix: got %d entries, want 12", len(m))
	}
	if m[0].Width != 1920 || m[0].Spec.Name != core.FormatAVIF || m[11].Width != 320 || m[11].Spec.Name != core.FormatJPEG {
		t.Errorf("matrix order: first %s, last %s", m[0], m[11])
	}
}
