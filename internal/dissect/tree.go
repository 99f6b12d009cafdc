package dissect

import "github.com/pkg/errors"

// DataSource is a raw byte buffer that field values point into. Every tree
// has the "frame" source; protocol decoders may add more (de-chunked or
// decompressed bodies, reassembled data).
type DataSource struct {
	ID   int
	Name string
	Data []byte
}

// Node is one item of a decoded protocol tree.
type Node struct {
	Name         string
	DisplayName  string
	DisplayValue string
	Protocol     bool

	// Value holds the decoded bytes of the field, nil when it has none.
	Value []byte

	// Offset and Length locate the field inside Source.
	Offset int
	Length int
	Source *DataSource

	Parent   *Node
	Children []*Node
}

// Append attaches child under n and returns the child.
func (n *Node) Append(child *Node) *Node {
	child.Parent = n
	n.Children = append(n.Children, child)
	return child
}

// Columns holds the per-frame summary columns.
type Columns struct {
	Timestamp   string
	Source      string
	Destination string
	Protocol    string
	Info        string
}

// Releaser is notified when a tree is duplicated or no longer referenced.
type Releaser interface {
	Retain(*Tree)
	Release(*Tree)
}

// Tree is the result of dissecting one frame. Root is a synthetic node
// without name or value; the first-level protocol nodes are its children.
type Tree struct {
	Root    *Node
	Sources []*DataSource
	Columns *Columns

	releaser Releaser
}

// NewTree returns an empty tree with a synthetic root.
func NewTree() *Tree {
	return &Tree{Root: &Node{}}
}

// AddSource registers a new data source and returns it.
func (t *Tree) AddSource(name string, data []byte) *DataSource {
	ds := &DataSource{ID: len(t.Sources), Name: name, Data: data}
	t.Sources = append(t.Sources, ds)
	return ds
}

// Source returns the source with the given id.
func (t *Tree) Source(id int) (*DataSource, bool) {
	for _, ds := range t.Sources {
		if ds.ID == id {
			return ds, true
		}
	}
	return nil, false
}

// Release hands the tree back to its dissector. The tree must not be used
// afterwards.
func (t *Tree) Release() {
	if t == nil || t.Root == nil {
		return
	}
	if t.releaser != nil {
		t.releaser.Release(t)
	}
	t.Root = nil
	t.Sources = nil
	t.Columns = nil
}

// Released reports whether Release has been called.
func (t *Tree) Released() bool {
	return t == nil || t.Root == nil
}

// Clone returns a deep copy of the tree that shares no memory with t.
func (t *Tree) Clone() (*Tree, error) {
	if t.Released() {
		return nil, errors.New("clone of released tree")
	}
	c := &Tree{releaser: t.releaser}
	sources := make(map[*DataSource]*DataSource, len(t.Sources))
	for _, ds := range t.Sources {
		cp := &DataSource{ID: ds.ID, Name: ds.Name, Data: append([]byte(nil), ds.Data...)}
		sources[ds] = cp
		c.Sources = append(c.Sources, cp)
	}
	c.Root = cloneNode(t.Root, nil, sources)
	if t.Columns != nil {
		cols := *t.Columns
		c.Columns = &cols
	}
	if c.releaser != nil {
		c.releaser.Retain(c)
	}
	return c, nil
}

func cloneNode(n, parent *Node, sources map[*DataSource]*DataSource) *Node {
	cp := &Node{
		Name:         n.Name,
		DisplayName:  n.DisplayName,
		DisplayValue: n.DisplayValue,
		Protocol:     n.Protocol,
		Offset:       n.Offset,
		Length:       n.Length,
		Source:       sources[n.Source],
		Parent:       parent,
	}
	if n.Value != nil {
		cp.Value = append([]byte(nil), n.Value...)
	}
	for _, child := range n.Children {
		cp.Children = append(cp.Children, cloneNode(child, cp, sources))
	}
	return cp
}

// Walk visits every node below the root in pre-order.
func (t *Tree) Walk(fn func(*Node) bool) {
	var walk func(*Node) bool
	walk = func(n *Node) bool {
		for _, child := range n.Children {
			if !fn(child) || !walk(child) {
				return false
			}
		}
		return true
	}
	if t.Root != nil {
		walk(t.Root)
	}
}
