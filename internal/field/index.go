package field

import (
	"sort"

	"github.com/pkg/errors"

	"capdissector/internal/dissect"
)

// Visitor is called for each field of an iteration. Returning Stop ends the
// iteration; any other error aborts it and is returned to the caller.
type Visitor func(*Field) error

// Index owns the fields of one frame and the by-name and by-parent indexes
// over them. Ordinals follow a pre-order walk of the tree, so the arena,
// every by-name bucket and every by-parent bucket are in tree order.
// The zero Index is empty.
type Index struct {
	fields   []*Field
	byName   map[string][]int
	names    []string // byName keys, sorted bytewise
	byParent map[int][]int
}

// Build indexes every node below root. A node whose parent has not been
// indexed fails the build with ErrInconsistent.
func Build(root *dissect.Node) (*Index, error) {
	if root == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil tree root")
	}
	idx := &Index{
		byName:   make(map[string][]int),
		byParent: make(map[int][]int),
	}
	ordinals := map[*dissect.Node]int{root: RootID}

	var walk func(n *dissect.Node) error
	walk = func(n *dissect.Node) error {
		for _, child := range n.Children {
			parentID, ok := ordinals[child.Parent]
			if !ok {
				return errors.Wrapf(ErrInconsistent, "field %q: parent is not indexed", child.Name)
			}
			f := &Field{
				Ordinal:      len(idx.fields),
				Name:         child.Name,
				DisplayName:  child.DisplayName,
				DisplayValue: child.DisplayValue,
				IsProtocol:   child.Protocol,
				Offset:       child.Offset,
				Length:       child.Length,
				SourceID:     NoSource,
				ParentID:     parentID,
				owner:        idx,
			}
			if child.Value != nil {
				f.Value = append([]byte(nil), child.Value...)
			}
			if child.Source != nil {
				f.SourceID = child.Source.ID
			}
			ordinals[child] = f.Ordinal
			idx.add(f)
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	idx.sortNames()
	return idx, nil
}

func (idx *Index) add(f *Field) {
	idx.fields = append(idx.fields, f)
	idx.byName[f.Name] = append(idx.byName[f.Name], f.Ordinal)
	idx.byParent[f.ParentID] = append(idx.byParent[f.ParentID], f.Ordinal)
}

func (idx *Index) sortNames() {
	idx.names = make([]string, 0, len(idx.byName))
	for name := range idx.byName {
		idx.names = append(idx.names, name)
	}
	sort.Strings(idx.names)
}

// Clone returns an independent copy of the index.
func (idx *Index) Clone() *Index {
	c := &Index{
		byName:   make(map[string][]int, len(idx.byName)),
		byParent: make(map[int][]int, len(idx.byParent)),
	}
	for _, f := range idx.fields {
		cp := *f
		cp.owner = c
		if f.Value != nil {
			cp.Value = append([]byte(nil), f.Value...)
		}
		c.add(&cp)
	}
	c.sortNames()
	return c
}

// Len returns the number of indexed fields.
func (idx *Index) Len() int { return len(idx.fields) }

// Field returns the field with the given ordinal.
func (idx *Index) Field(ordinal int) (*Field, bool) {
	if ordinal < 0 || ordinal >= len(idx.fields) {
		return nil, false
	}
	return idx.fields[ordinal], true
}

// Owns reports whether f belongs to this index.
func (idx *Index) Owns(f *Field) bool {
	return f != nil && f.owner == idx
}

func (idx *Index) checkParent(parent *Field) error {
	if parent == nil {
		return errors.Wrap(ErrInvalidArgument, "parent field cannot be nil")
	}
	if parent.owner != idx {
		return errors.Wrapf(ErrInvalidArgument, "field %s belongs to another packet", parent)
	}
	return nil
}

// optionalName unpacks the optional name argument of the iteration
// methods. More than one name is an arity error.
func optionalName(name []string) (string, bool, error) {
	switch len(name) {
	case 0:
		return "", false, nil
	case 1:
		return name[0], true, nil
	default:
		return "", false, errors.Wrapf(ErrInvalidArgument, "wrong number of arguments (%d for 0..1)", len(name))
	}
}

// FieldExists reports whether at least one field has the given name.
func (idx *Index) FieldExists(name string) bool {
	return len(idx.byName[name]) > 0
}

// FindFirstField returns the field with the given name and the smallest
// ordinal.
func (idx *Index) FindFirstField(name string) (*Field, bool) {
	ords := idx.byName[name]
	if len(ords) == 0 {
		return nil, false
	}
	return idx.fields[ords[0]], true
}

// EachField calls fn for every field with the given name, in tree order.
// Without a name it visits every field, grouped by name in bytewise name
// order and in tree order within a name.
func (idx *Index) EachField(fn Visitor, name ...string) error {
	if fn == nil {
		return errors.Wrap(ErrInvalidArgument, "nil visitor")
	}
	n, named, err := optionalName(name)
	if err != nil {
		return err
	}
	if named {
		return stopped(idx.visit(idx.byName[n], fn))
	}
	for _, key := range idx.names {
		if err := idx.visit(idx.byName[key], fn); err != nil {
			return stopped(err)
		}
	}
	return nil
}

// errStopped signals from visit that fn returned Stop.
var errStopped = errors.New("stopped")

func (idx *Index) visit(ords []int, fn Visitor) error {
	for _, o := range ords {
		if err := fn(idx.fields[o]); err != nil {
			if err == Stop {
				return errStopped
			}
			return err
		}
	}
	return nil
}

func stopped(err error) error {
	if err == errStopped {
		return nil
	}
	return err
}

// EachRootField calls fn for every first-level field in tree order.
func (idx *Index) EachRootField(fn Visitor) error {
	if fn == nil {
		return errors.Wrap(ErrInvalidArgument, "nil visitor")
	}
	return stopped(idx.visit(idx.byParent[RootID], fn))
}

// Children returns the direct children of f in tree order.
func (idx *Index) Children(f *Field) ([]*Field, error) {
	if err := idx.checkParent(f); err != nil {
		return nil, err
	}
	ords := idx.byParent[f.Ordinal]
	out := make([]*Field, len(ords))
	for i, o := range ords {
		out[i] = idx.fields[o]
	}
	return out, nil
}

// EachChild calls fn for every direct child of f in tree order.
func (idx *Index) EachChild(f *Field, fn Visitor) error {
	if err := idx.checkParent(f); err != nil {
		return err
	}
	if fn == nil {
		return errors.Wrap(ErrInvalidArgument, "nil visitor")
	}
	return stopped(idx.visit(idx.byParent[f.Ordinal], fn))
}

// HasChildren reports whether f has at least one child.
func (idx *Index) HasChildren(f *Field) bool {
	return idx.Owns(f) && len(idx.byParent[f.Ordinal]) > 0
}

// Parent returns the parent of f; ok is false for first-level fields.
func (idx *Index) Parent(f *Field) (*Field, bool, error) {
	if err := idx.checkParent(f); err != nil {
		return nil, false, err
	}
	if f.ParentID == RootID {
		return nil, false, nil
	}
	p, ok := idx.Field(f.ParentID)
	if !ok {
		return nil, false, errors.Wrapf(ErrInconsistent, "field %s: parent %d is not indexed", f, f.ParentID)
	}
	return p, true, nil
}

// walkDescendants visits the subtree below parent in pre-order, excluding
// parent. fn returns false to stop.
func (idx *Index) walkDescendants(parent *Field, fn func(*Field) (bool, error)) error {
	var walk func(ordinal int) (bool, error)
	walk = func(ordinal int) (bool, error) {
		for _, o := range idx.byParent[ordinal] {
			f := idx.fields[o]
			more, err := fn(f)
			if err != nil || !more {
				return false, err
			}
			if more, err = walk(o); err != nil || !more {
				return false, err
			}
		}
		return true, nil
	}
	_, err := walk(parent.Ordinal)
	return err
}

// nameMatcher returns the name predicate of the descendant operations.
// An explicit empty name matches nothing.
func nameMatcher(name []string) (func(*Field) bool, error) {
	n, named, err := optionalName(name)
	if err != nil {
		return nil, err
	}
	switch {
	case !named:
		return func(*Field) bool { return true }, nil
	case n == "":
		return func(*Field) bool { return false }, nil
	default:
		return func(f *Field) bool { return f.Name == n }, nil
	}
}

// DescendantFieldExists reports whether a field below parent has the given
// name. Without a name it reports whether parent has any descendant.
func (idx *Index) DescendantFieldExists(parent *Field, name ...string) (bool, error) {
	_, ok, err := idx.FindFirstDescendantField(parent, name...)
	return ok, err
}

// FindFirstDescendantField returns the first field below parent, in
// pre-order, with the given name. Without a name it returns the first
// descendant.
func (idx *Index) FindFirstDescendantField(parent *Field, name ...string) (*Field, bool, error) {
	if err := idx.checkParent(parent); err != nil {
		return nil, false, err
	}
	match, err := nameMatcher(name)
	if err != nil {
		return nil, false, err
	}
	var found *Field
	err = idx.walkDescendants(parent, func(f *Field) (bool, error) {
		if match(f) {
			found = f
			return false, nil
		}
		return true, nil
	})
	return found, found != nil, err
}

// EachDescendantField calls fn, in pre-order, for every field below parent
// with the given name, or for every descendant when no name is given.
func (idx *Index) EachDescendantField(parent *Field, fn Visitor, name ...string) error {
	if err := idx.checkParent(parent); err != nil {
		return err
	}
	if fn == nil {
		return errors.Wrap(ErrInvalidArgument, "nil visitor")
	}
	match, err := nameMatcher(name)
	if err != nil {
		return err
	}
	var ords []int
	if err := idx.walkDescendants(parent, func(f *Field) (bool, error) {
		if match(f) {
			ords = append(ords, f.Ordinal)
		}
		return true, nil
	}); err != nil {
		return err
	}
	return stopped(idx.visit(ords, fn))
}
