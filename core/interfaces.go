package core

import (
	"context"
	"image"
	"io"
	"time"
)

// Codec is the image-codec capability a batch delegates pixel work to.
// Implementations live in adapters/vips and adapters/native.
type Codec interface {
	Name() string
	// Decode parses data once; the returned handle is shared by every job
	// of the source and must tolerate concurrent Derive calls.
	Decode(ctx context.Context, data []byte) (Decoded, error)
	// Supports reports whether the codec can encode the given output format.
	Supports(f Format) bool
}

// ParamChecker is implemented by codecs that cannot apply every
// EncodeParams field a format defines.
type ParamChecker interface {
	// IgnoredParams returns the YAML names of the set fields of spec.Params
	// the codec will not apply.
	IgnoredParams(spec FormatSpec) []string
}

// Decoded is an immutable decoded source.
type Decoded interface {
	Width() int
	Height() int
	// Derive returns an independent working copy that the caller owns.
	Derive() (Working, error)
	Close()
}

// Working is a per-job copy of a decoded image that may be resized and
// encoded without affecting any sibling copy.
type Working interface {
	Resize(ctx context.Context, width, height int) error
	Encode(ctx context.Context, spec FormatSpec) ([]byte, error)
	Width() int
	Height() int
	Close()
}

// Decoder turns encoded source bytes into pixels for pure-Go codecs.
// Implementations live in adapters/decoder/.
type Decoder interface {
	Decode(ctx context.Context, r io.Reader) (image.Image, error)
	CanDecode(format Format) bool
}

// Encoder serialises pixels to bytes in one output format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, params EncodeParams) ([]byte, error)
	CanEncode(format Format) bool
}

// StorageAdapter persists variants.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
	// Location renders key as a human-readable path or URI for logs.
	Location(key StorageKey) string
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordError(stepName string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}

// Step is one stage of a variant pipeline.  Steps must be safe for
// concurrent use across goroutines; all per-job state lives in *Variant.
type Step interface {
	Name() string
	Execute(ctx context.Context, v *Variant) error
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, v *Variant)
	AfterStep(ctx context.Context, stepName string, v *Variant, d time.Duration, err error)
}

// PipelineRunner is a minimal interface over pipeline.Pipeline so that core
// does not import the pipeline package (avoiding a circular dependency).
type PipelineRunner interface {
	Run(ctx context.Context, v *Variant) (map[string]time.Duration, error)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}
