// Package packet ties one captured frame to its decoded tree, its field
// index and its data sources.
package packet

import (
	"io"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"capdissector/internal/blob"
	"capdissector/internal/capture"
	"capdissector/internal/dissect"
	"capdissector/internal/document"
	"capdissector/internal/field"
)

// ErrClosed is returned by operations that need the decoded tree of a
// closed Packet.
var ErrClosed = errors.New("packet is closed")

// Packet owns the state of one dissected frame. The embedded index answers
// all field queries. After Close the index is empty: queries find nothing
// and rendering fails with ErrClosed.
type Packet struct {
	*field.Index

	number        int
	captureTime   time.Time
	length        int
	captureLength int
	linkType      layers.LinkType
	columns       *dissect.Columns

	tree  *dissect.Tree
	blobs *blob.Registry
}

// New indexes tree and takes ownership of it.
func New(frame capture.Frame, tree *dissect.Tree) (*Packet, error) {
	if tree == nil || tree.Released() {
		return nil, errors.Wrap(field.ErrInvalidArgument, "packet needs a decoded tree")
	}
	p := &Packet{}
	if err := p.adopt(tree, frame.Number); err != nil {
		return nil, err
	}
	p.number = frame.Number
	p.captureTime = frame.Timestamp
	p.length = frame.Length
	p.captureLength = frame.CaptureLength
	p.linkType = frame.LinkType
	return p, nil
}

// adopt indexes tree and takes it over. p is left untouched on error.
func (p *Packet) adopt(tree *dissect.Tree, number int) error {
	idx, err := field.Build(tree.Root)
	if err != nil {
		return errors.Wrapf(err, "frame %d", number)
	}
	p.Index = idx
	p.tree = tree
	p.columns = tree.Columns
	p.blobs = blob.NewRegistry(func() []*dissect.DataSource { return tree.Sources })
	return nil
}

// Number is the 1-based frame number.
func (p *Packet) Number() int { return p.number }

// CaptureTime is the absolute capture timestamp.
func (p *Packet) CaptureTime() time.Time { return p.captureTime }

// Length is the original length of the frame on the wire.
func (p *Packet) Length() int { return p.length }

// CaptureLength is the number of bytes actually captured.
func (p *Packet) CaptureLength() int { return p.captureLength }

// LinkType is the encapsulation the frame was read with.
func (p *Packet) LinkType() layers.LinkType { return p.linkType }

func (p *Packet) column(get func(*dissect.Columns) string) (string, bool) {
	if p.columns == nil {
		return "", false
	}
	return get(p.columns), true
}

// Timestamp returns the time column.
func (p *Packet) Timestamp() (string, bool) {
	return p.column(func(c *dissect.Columns) string { return c.Timestamp })
}

// SourceAddress returns the source column.
func (p *Packet) SourceAddress() (string, bool) {
	return p.column(func(c *dissect.Columns) string { return c.Source })
}

// DestinationAddress returns the destination column.
func (p *Packet) DestinationAddress() (string, bool) {
	return p.column(func(c *dissect.Columns) string { return c.Destination })
}

// Protocol returns the protocol column.
func (p *Packet) Protocol() (string, bool) {
	return p.column(func(c *dissect.Columns) string { return c.Protocol })
}

// Info returns the info column.
func (p *Packet) Info() (string, bool) {
	return p.column(func(c *dissect.Columns) string { return c.Info })
}

// Blobs returns the frame's data sources keyed by name. The collection is
// built on first call and reused afterwards. A closed Packet has none.
func (p *Packet) Blobs() map[string]*blob.Blob {
	if p.blobs == nil {
		return nil
	}
	return p.blobs.Blobs()
}

// BlobList returns the data sources in the order the dissector added them.
func (p *Packet) BlobList() []*blob.Blob {
	if p.blobs == nil {
		return nil
	}
	return p.blobs.List()
}

// Blob returns the data source holding f's bytes.
func (p *Packet) Blob(f *field.Field) (*blob.Blob, error) {
	if p.Closed() {
		return nil, errors.WithStack(ErrClosed)
	}
	if !p.Owns(f) {
		return nil, errors.Wrap(field.ErrInvalidArgument, "field belongs to another packet")
	}
	return p.blobs.ForField(f)
}

// Document renders the field tree as YAML.
func (p *Packet) Document() ([]byte, error) {
	if p.Closed() {
		return nil, errors.WithStack(ErrClosed)
	}
	return document.Marshal(p.Index, p.blobs)
}

// YAML is an alias of Document.
func (p *Packet) YAML() ([]byte, error) { return p.Document() }

// Text writes the indented field tree to w.
func (p *Packet) Text(w io.Writer) error {
	if p.Closed() {
		return errors.WithStack(ErrClosed)
	}
	return document.WriteText(w, p.Index)
}

// Closed reports whether Close has been called.
func (p *Packet) Closed() bool { return p.tree == nil }

// Close drops the index and data sources and hands the tree back to the
// dissector. Closing twice is a no-op.
func (p *Packet) Close() {
	if p.tree == nil {
		return
	}
	p.tree.Release()
	p.tree = nil
	p.Index = &field.Index{}
	p.blobs = nil
	p.columns = nil
}

// CopyFrom replaces p's state with an independent copy of src's.
func (p *Packet) CopyFrom(src *Packet) error {
	if src == p {
		return nil
	}
	if src == nil || src.Closed() {
		return errors.Wrap(field.ErrInvalidArgument, "copy from a nil or closed packet")
	}
	tree, err := src.tree.Clone()
	if err != nil {
		return errors.Wrap(field.ErrInvalidArgument, err.Error())
	}

	old := p.tree
	if err := p.adopt(tree, src.number); err != nil {
		tree.Release()
		return err
	}
	p.number = src.number
	p.captureTime = src.captureTime
	p.length = src.length
	p.captureLength = src.captureLength
	p.linkType = src.linkType
	if old != nil {
		old.Release()
	}
	return nil
}

// Clone returns an independent copy of p.
func (p *Packet) Clone() (*Packet, error) {
	c := &Packet{}
	if err := c.CopyFrom(p); err != nil {
		return nil, err
	}
	return c, nil
}
