package core

import (
	"context"
	"fmt"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatAVIF    Format = "avif"
	FormatWebP    Format = "webp"
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatUnknown Format = "unknown"
)

// OutputFormats is the fixed, ordered set of formats a variant may be encoded to.
var OutputFormats = []Format{FormatAVIF, FormatWebP, FormatJPEG}

// Extension returns the file extension written for variants of this format.
func (f Format) Extension() string { return string(f) }

// IsOutput reports whether f is one of OutputFormats.
func (f Format) IsOutput() bool {
	for _, o := range OutputFormats {
		if f == o {
			return true
		}
	}
	return false
}

// EncodeParams carries format-specific encoder parameters.  Zero values mean
// "use the encoder default"; fields a format does not know are ignored.
type EncodeParams struct {
	Quality           int    `yaml:"quality,omitempty" json:"quality,omitempty"`                       // 1-100
	Effort            int    `yaml:"effort,omitempty" json:"effort,omitempty"`                         // avif 0-9, webp 0-6
	ChromaSubsampling string `yaml:"chroma_subsampling,omitempty" json:"chromaSubsampling,omitempty"` // "4:2:0" or "4:4:4"
	BitDepth          int    `yaml:"bit_depth,omitempty" json:"bitdepth,omitempty"`                    // avif 8, 10 or 12
	SmartSubsample    bool   `yaml:"smart_subsample,omitempty" json:"smartSubsample,omitempty"`        // webp
	Lossless          bool   `yaml:"lossless,omitempty" json:"lossless,omitempty"`
}

// Merge returns p with every non-zero field of o applied on top.
func (p EncodeParams) Merge(o EncodeParams) EncodeParams {
	if o.Quality != 0 {
		p.Quality = o.Quality
	}
	if o.Effort != 0 {
		p.Effort = o.Effort
	}
	if o.ChromaSubsampling != "" {
		p.ChromaSubsampling = o.ChromaSubsampling
	}
	if o.BitDepth != 0 {
		p.BitDepth = o.BitDepth
	}
	if o.SmartSubsample {
		p.SmartSubsample = true
	}
	if o.Lossless {
		p.Lossless = true
	}
	return p
}

// FormatSpec is an output format together with its fixed encoder parameters.
// It is defined once at startup and never mutated.
type FormatSpec struct {
	Name   Format       `json:"format"`
	Params EncodeParams `json:"params"`
}

// VariantConfig is one entry of the configuration matrix.
type VariantConfig struct {
	Spec  FormatSpec `json:"spec"`
	Width int        `json:"size"`
}

func (c VariantConfig) String() string {
	return fmt.Sprintf("%s@%d %+v", c.Spec.Name, c.Width, c.Spec.Params)
}

// SourceImage is one input file loaded into memory.  Data is read-only once
// loaded and is shared by reference across every job derived from it.
type SourceImage struct {
	Name   string // filename relative to the source directory
	Data   []byte
	Format Format // sniffed from Data
}

// Variant is the mutable state a single job threads through its pipeline.
type Variant struct {
	Source  *SourceImage
	Config  VariantConfig
	Decoded Decoded // shared, never mutated
	Working Working // independent copy owned by this job
	Output  []byte  // encoded bytes
	Key     StorageKey

	Width, Height int

	// Backoff waits d between retry attempts.  The executor sets it so the
	// job's gate slot is free while it waits; nil means a plain sleep.
	Backoff func(ctx context.Context, d time.Duration) error
}

// StorageKey identifies a stored variant relative to the storage root.
type StorageKey struct {
	Path string
}

// VariantJob is the unit of work: one source, one configuration, one output.
type VariantJob struct {
	Source  *SourceImage
	Decoded Decoded
	Config  VariantConfig
	Key     StorageKey
}

// JobResult is the terminal outcome of a VariantJob.  Err is nil on success.
type JobResult struct {
	Source   string
	Config   VariantConfig
	Key      StorageKey
	Bytes    int
	Timings  map[string]time.Duration
	Started  time.Time
	Finished time.Time
	Err      error
}

// OK reports whether the job produced its output.
func (r JobResult) OK() bool { return r.Err == nil }

// TaskResult collects every JobResult of one ImageTask.
type TaskResult struct {
	Source string
	Jobs   []JobResult
}

// Failed returns the number of jobs that did not produce an output.
func (t TaskResult) Failed() int {
	n := 0
	for _, j := range t.Jobs {
		if !j.OK() {
			n++
		}
	}
	return n
}

// SourceFailure records a source that was excluded before any job ran.
type SourceFailure struct {
	Source string
	Err    error
}

// BatchResult is the in-memory summary of one batch.  Nothing is persisted
// beyond the variant files themselves.
type BatchResult struct {
	RunID          string
	Matrix         []VariantConfig
	Tasks          []TaskResult
	SourceFailures []SourceFailure
	PeakInFlight   int
	Duration       time.Duration
}

// Counts returns the number of successful and failed variants.
func (b *BatchResult) Counts() (ok, failed int) {
	for _, t := range b.Tasks {
		f := t.Failed()
		failed += f
		ok += len(t.Jobs) - f
	}
	return ok, failed
}
