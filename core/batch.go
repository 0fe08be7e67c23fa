package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/Skryldev/image-variants/errors"
	"github.com/Skryldev/image-variants/utils"
)

// sourceExtensions lists the recognised input extensions (lowercase, with
// leading dot).
var sourceExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// IsSourceFile reports whether name has a recognised input extension.
func IsSourceFile(name string) bool {
	return sourceExtensions[strings.ToLower(filepath.Ext(name))]
}

// Discover lists dir (non-recursively) and returns the names of regular
// files with a recognised extension in lexical order.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsSourceFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// BatchRunner discovers, loads and processes every source of one directory.
type BatchRunner struct {
	RunID         string // generated when empty
	SourceDir     string
	Matrix        []VariantConfig
	Exec          *Executor
	MaxImageBytes int64 // 0 = no limit
	ChunkSize     int
}

// Run processes the whole batch.  The only returned error is a fatal one
// (the source directory could not be listed); per-file and per-variant
// failures are reported in the BatchResult.
func (b *BatchRunner) Run(ctx context.Context) (*BatchResult, error) {
	start := time.Now()
	if b.RunID == "" {
		b.RunID = uuid.NewString()
	}
	result := &BatchResult{RunID: b.RunID, Matrix: b.Matrix}

	names, err := Discover(b.SourceDir)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryInput, "discover", err)
	}

	sources, failures := b.LoadSources(ctx, names)
	result.SourceFailures = failures

	result.Tasks = make([]TaskResult, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			result.Tasks[i] = b.Exec.RunTask(ctx, ImageTask{Source: src, Matrix: b.Matrix})
			return nil
		})
	}
	_ = g.Wait()

	result.PeakInFlight = b.Exec.Gate.Peak()
	result.Duration = time.Since(start)
	return result, nil
}

// LoadSources reads every named file concurrently.  Loads are not gated.
// Files that cannot be read are logged and returned as failures; the
// returned sources keep the order of names.
func (b *BatchRunner) LoadSources(ctx context.Context, names []string) ([]*SourceImage, []SourceFailure) {
	loaded := make([]*SourceImage, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			loaded[i], errs[i] = b.load(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	var (
		sources  []*SourceImage
		failures []SourceFailure
	)
	for i, name := range names {
		if errs[i] != nil {
			b.Exec.Logger.Error("source.failed", "source", name, "error", errs[i].Error())
			failures = append(failures, SourceFailure{Source: name, Err: errs[i]})
			continue
		}
		sources = append(sources, loaded[i])
	}
	return sources, failures
}

func (b *BatchRunner) load(ctx context.Context, name string) (*SourceImage, error) {
	f, err := os.Open(filepath.Join(b.SourceDir, name))
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryInput, "load.open", err)
	}
	defer f.Close()

	var r io.Reader = f
	if b.MaxImageBytes > 0 {
		r = &utils.LimitedReader{R: f, Max: b.MaxImageBytes}
	}
	buf, err := utils.DrainReader(ctx, r, b.ChunkSize)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryInput, "load.read", fmt.Errorf("%s: %w", name, err))
	}
	data := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	return &SourceImage{Name: name, Data: data, Format: Format(utils.DetectFormat(data))}, nil
}
