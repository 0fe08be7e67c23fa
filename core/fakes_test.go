package core_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/Skryldev/image-variants/core"
)

// ── Fake codec ────────────────────────────────────────────────────────────────

type interval struct{ start, end time.Time }

// fakeCodec decodes anything not starting with "BAD" into a 400x300 image
// and records how many encodes overlap.
type fakeCodec struct {
	failFormat core.Format // Encode fails for this format
	panicWidth int         // Encode panics for this target width
	delay      time.Duration

	mu        sync.Mutex
	active    int
	maxActive int
	intervals []interval
	decodes   int
}

func (c *fakeCodec) Name() string               { return "fake" }
func (c *fakeCodec) Supports(f core.Format) bool { return f != c.failFormat }

func (c *fakeCodec) Decode(_ context.Context, data []byte) (core.Decoded, error) {
	c.mu.Lock()
	c.decodes++
	c.mu.Unlock()
	if bytes.HasPrefix(data, []byte("BAD")) {
		return nil, errors.New("corrupt header")
	}
	return &fakeDecoded{codec: c, w: 400, h: 300}, nil
}

func (c *fakeCodec) enter() time.Time {
	c.mu.Lock()
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	c.mu.Unlock()
	return time.Now()
}

func (c *fakeCodec) leave(start time.Time) {
	end := time.Now()
	c.mu.Lock()
	c.active--
	c.intervals = append(c.intervals, interval{start, end})
	c.mu.Unlock()
}

func (c *fakeCodec) MaxActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive
}

// overlapping reports whether any two recorded encode intervals overlap.
func (c *fakeCodec) overlapping() bool {
	c.mu.Lock()
	iv := append([]interval(nil), c.intervals...)
	c.mu.Unlock()
	sort.Slice(iv, func(i, j int) bool { return iv[i].start.Before(iv[j].start) })
	for i := 1; i < len(iv); i++ {
		if iv[i].start.Before(iv[i-1].end) {
			return true
		}
	}
	return false
}

type fakeDecoded struct {
	codec *fakeCodec
	w, h  int
}

func (d *fakeDecoded) Width() int  { return d.w }
func (d *fakeDecoded) Height() int { return d.h }
func (d *fakeDecoded) Close()      {}
func (d *fakeDecoded) Derive() (core.Working, error) {
	return &fakeWorking{codec: d.codec, w: d.w, h: d.h}, nil
}

type fakeWorking struct {
	codec *fakeCodec
	w, h  int
}

func (w *fakeWorking) Width() int  { return w.w }
func (w *fakeWorking) Height() int { return w.h }
func (w *fakeWorking) Close()      {}

func (w *fakeWorking) Resize(_ context.Context, width, height int) error {
	w.w, w.h = width, height
	return nil
}

func (w *fakeWorking) Encode(ctx context.Context, spec core.FormatSpec) ([]byte, error) {
	start := w.codec.enter()
	defer w.codec.leave(start)
	if w.codec.panicWidth != 0 && w.w == w.codec.panicWidth {
		panic("encoder crashed")
	}
	if w.codec.delay > 0 {
		select {
		case <-time.After(w.codec.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if spec.Name == w.codec.failFormat {
		return nil, fmt.Errorf("unsupported parameter for %s", spec.Name)
	}
	return []byte(fmt.Sprintf("%s:%dx%d", spec.Name, w.w, w.h)), nil
}

// ── In-memory storage ─────────────────────────────────────────────────────────

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage { return &memStorage{objects: make(map[string][]byte)} }

func (m *memStorage) Put(_ context.Context, key core.StorageKey, r io.Reader, _ map[string]string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key.Path] = data
	m.mu.Unlock()
	return nil
}

func (m *memStorage) Exists(_ context.Context, key core.StorageKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key.Path]
	return ok, nil
}

func (m *memStorage) Location(key core.StorageKey) string { return "mem://" + key.Path }

func (m *memStorage) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
