// Package blob exposes the raw data sources of a frame as named blobs.
package blob

import (
	"sync"

	"github.com/pkg/errors"

	"capdissector/internal/dissect"
	"capdissector/internal/field"
)

// Blob is a copy of one data source of a frame.
type Blob struct {
	ID   int
	Name string
	Data []byte
}

// Len returns the size of the blob.
func (b *Blob) Len() int { return len(b.Data) }

// Slice returns the bytes at [offset, offset+length), clamped to the blob.
func (b *Blob) Slice(offset, length int) []byte {
	if offset < 0 || offset >= len(b.Data) {
		return nil
	}
	end := offset + length
	if end > len(b.Data) || length < 0 {
		end = len(b.Data)
	}
	return b.Data[offset:end]
}

// Registry wraps the data sources of a tree on first use.
type Registry struct {
	sources func() []*dissect.DataSource

	once   sync.Once
	list   []*Blob
	byName map[string]*Blob
	byID   map[int]*Blob
}

// NewRegistry returns a registry over the sources returned by sources. The
// function is not called until the blobs are first needed.
func NewRegistry(sources func() []*dissect.DataSource) *Registry {
	return &Registry{sources: sources}
}

func (r *Registry) load() {
	r.once.Do(func() {
		r.byName = make(map[string]*Blob)
		r.byID = make(map[int]*Blob)
		if r.sources == nil {
			return
		}
		for _, ds := range r.sources() {
			b := &Blob{ID: ds.ID, Name: ds.Name, Data: append([]byte(nil), ds.Data...)}
			r.list = append(r.list, b)
			// Later sources win a name clash; every source stays in the list.
			r.byName[b.Name] = b
			r.byID[b.ID] = b
		}
		r.sources = nil
	})
}

// Blobs returns the blobs keyed by name. Every call returns the same map.
func (r *Registry) Blobs() map[string]*Blob {
	r.load()
	return r.byName
}

// List returns the blobs in data source order.
func (r *Registry) List() []*Blob {
	r.load()
	return r.list
}

// Blob returns the blob with the given name.
func (r *Registry) Blob(name string) (*Blob, bool) {
	b, ok := r.Blobs()[name]
	return b, ok
}

// ForField returns the blob that holds f's bytes. A field that points at a
// source the registry does not know is an internal consistency error.
func (r *Registry) ForField(f *field.Field) (*Blob, error) {
	r.load()
	b, ok := r.byID[f.SourceID]
	if !ok {
		return nil, errors.Wrapf(field.ErrInconsistent, "unable to find blob for field %s (source %d)", f, f.SourceID)
	}
	return b, nil
}
