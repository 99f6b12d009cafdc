package dissect

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/pkg/errors"

	"capdissector/internal/capture"
)

// Dissector decodes a raw frame into a protocol tree.
type Dissector interface {
	Dissect(f capture.Frame) (*Tree, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithColumns enables computation of the summary columns.
func WithColumns(on bool) Option {
	return func(e *Engine) { e.columns = on }
}

// Engine is a Dissector built on gopacket's layer decoders.
type Engine struct {
	columns bool

	mu      sync.Mutex
	firstTS time.Time

	outstanding atomic.Int64
}

// NewEngine creates a gopacket based dissector. Columns are computed unless
// disabled with WithColumns(false).
func NewEngine(opts ...Option) *Engine {
	e := &Engine{columns: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dissect decodes one frame. The returned tree must be released by its
// consumer.
func (e *Engine) Dissect(f capture.Frame) (*Tree, error) {
	if !capture.Supported(f.LinkType) {
		return nil, errors.Errorf("frame %d: unsupported link type %s", f.Number, f.LinkType)
	}
	pkt := gopacket.NewPacket(f.Data, f.LinkType, gopacket.DecodeOptions{NoCopy: true})

	b := newBuilder(f.Data)
	frameNode := b.proto(b.tree.Root, "frame", fmt.Sprintf("Frame %d: %d bytes on wire, %d bytes captured", f.Number, f.Length, f.CaptureLength), b.frame, 0, len(f.Data))
	b.text(frameNode, "frame.time", f.Timestamp.UTC().Format(time.RFC3339Nano))
	b.text(frameNode, "frame.number", strconv.Itoa(f.Number))
	b.text(frameNode, "frame.len", strconv.Itoa(f.Length))
	b.text(frameNode, "frame.cap_len", strconv.Itoa(f.CaptureLength))

	b.decode(pkt)
	b.text(frameNode, "frame.protocols", b.protocols())

	if e.columns {
		b.tree.Columns = b.columns(pkt, e.relative(f.Timestamp))
	}

	b.tree.releaser = e
	e.outstanding.Add(1)
	return b.tree, nil
}

// relative returns the time since the first dissected frame.
func (e *Engine) relative(ts time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.firstTS.IsZero() {
		e.firstTS = ts
	}
	return ts.Sub(e.firstTS)
}

// Reset forgets the reference timestamp so that the next frame starts at 0.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.firstTS = time.Time{}
	e.mu.Unlock()
}

// Retain implements Releaser.
func (e *Engine) Retain(*Tree) { e.outstanding.Add(1) }

// Release implements Releaser.
func (e *Engine) Release(*Tree) { e.outstanding.Add(-1) }

// Outstanding returns the number of trees handed out and not yet released.
func (e *Engine) Outstanding() int64 {
	return e.outstanding.Load()
}
