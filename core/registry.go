package core

import "sync"

// ── Registry ──────────────────────────────────────────────────────────────────

// DefaultRegistry is a thread-safe implementation of Registry.
type DefaultRegistry struct {
	mu       sync.RWMutex
	decoders map[Format]Decoder
	encoders map[Format]Encoder
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		decoders: make(map[Format]Decoder),
		encoders: make(map[Format]Encoder),
	}
}

func (r *DefaultRegistry) RegisterDecoder(f Format, d Decoder) {
	r.mu.Lock()
	r.decoders[f] = d
	r.mu.Unlock()
}

func (r *DefaultRegistry) RegisterEncoder(f Format, e Encoder) {
	r.mu.Lock()
	r.encoders[f] = e
	r.mu.Unlock()
}

func (r *DefaultRegistry) DecoderFor(f Format) (Decoder, bool) {
	r.mu.RLock()
	d, ok := r.decoders[f]
	r.mu.RUnlock()
	return d, ok
}

func (r *DefaultRegistry) EncoderFor(f Format) (Encoder, bool) {
	r.mu.RLock()
	e, ok := r.encoders[f]
	r.mu.RUnlock()
	return e, ok
}

// ── Codec registry ────────────────────────────────────────────────────────────

// CodecRegistry maps backend names ("vips", "native") to Codec factories so
// the backend can be chosen from configuration.
type CodecRegistry struct {
	mu        sync.RWMutex
	factories map[string]func() (Codec, error)
}

// NewCodecRegistry returns an empty CodecRegistry.
func NewCodecRegistry() *CodecRegistry {
	return &CodecRegistry{factories: make(map[string]func() (Codec, error))}
}

// Register adds or replaces the factory for name.
func (r *CodecRegistry) Register(name string, factory func() (Codec, error)) {
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
}

// Open builds the codec registered under name.
func (r *CodecRegistry) Open(name string) (Codec, bool, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	c, err := f()
	return c, true, err
}
