// Package capfile pumps frames from a capture source through a dissector
// and hands out indexed packets.
package capfile

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"capdissector/internal/capture"
	"capdissector/internal/dissect"
	"capdissector/internal/packet"
)

// Option configures a File.
type Option func(*File)

// WithFilter drops frames the filter rejects before they are indexed.
func WithFilter(f dissect.Filter) Option {
	return func(c *File) { c.filter = f }
}

// WithLogger sets the logger used for skipped frames.
func WithLogger(l *zap.Logger) Option {
	return func(c *File) { c.log = l }
}

// File reads packets from a capture source in order.
type File struct {
	src       capture.Source
	dissector dissect.Dissector
	filter    dissect.Filter
	log       *zap.Logger

	read     int
	accepted int
}

// Open opens the capture file at path.
func Open(path string, d dissect.Dissector, opts ...Option) (*File, error) {
	r, err := capture.Open(path)
	if err != nil {
		return nil, err
	}
	return New(r, d, opts...), nil
}

// New reads from an already opened source, such as a live capture.
func New(src capture.Source, d dissect.Dissector, opts ...Option) *File {
	c := &File{src: src, dissector: d, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Next returns the next packet that passes the filter. At the end of the
// source it returns ok == false and a nil error. The caller owns the packet
// and must Close it.
func (c *File) Next() (*packet.Packet, bool, error) {
	for {
		frame, ok, err := c.src.Next()
		if err != nil || !ok {
			return nil, false, err
		}
		c.read++

		tree, err := c.dissector.Dissect(frame)
		if err != nil {
			return nil, false, errors.Wrapf(err, "dissect frame %d", frame.Number)
		}
		if c.filter != nil && !c.filter(tree) {
			c.log.Debug("frame filtered", zap.Int("frame", frame.Number))
			tree.Release()
			continue
		}

		p, err := packet.New(frame, tree)
		if err != nil {
			tree.Release()
			return nil, false, err
		}
		c.accepted++
		return p, true, nil
	}
}

// Each calls fn for every remaining packet and closes it afterwards. An
// error from fn stops the loop and is returned.
func (c *File) Each(fn func(*packet.Packet) error) error {
	for {
		p, ok, err := c.Next()
		if err != nil || !ok {
			return err
		}
		err = fn(p)
		p.Close()
		if err != nil {
			return err
		}
	}
}

// Count returns how many frames were read and how many passed the filter.
func (c *File) Count() (read, accepted int) {
	return c.read, c.accepted
}

// Close closes the underlying source.
func (c *File) Close() error {
	return c.src.Close()
}
