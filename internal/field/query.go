package field

import (
	"bytes"

	"github.com/pkg/errors"
)

// Matcher is a predicate over fields. An error aborts the query that runs
// it; report an unanswerable field with *MatchError.
type Matcher interface {
	Match(f *Field) (bool, error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(f *Field) (bool, error)

func (fn MatcherFunc) Match(f *Field) (bool, error) { return fn(f) }

func checkMatcher(m Matcher) error {
	if m == nil {
		return errors.Wrap(ErrInvalidArgument, "nil matcher")
	}
	return nil
}

// eachInNameOrder visits all fields in by-name key order.
func (idx *Index) eachInNameOrder(fn func(*Field) (bool, error)) error {
	for _, key := range idx.names {
		for _, o := range idx.byName[key] {
			more, err := fn(idx.fields[o])
			if err != nil || !more {
				return err
			}
		}
	}
	return nil
}

// FieldMatches reports whether any field satisfies m. Evaluation stops at
// the first match.
func (idx *Index) FieldMatches(m Matcher) (bool, error) {
	_, ok, err := idx.FindFirstFieldMatch(m)
	return ok, err
}

// FindFirstFieldMatch returns the first field, in by-name key order, that
// satisfies m.
func (idx *Index) FindFirstFieldMatch(m Matcher) (*Field, bool, error) {
	if err := checkMatcher(m); err != nil {
		return nil, false, err
	}
	var found *Field
	err := idx.eachInNameOrder(firstMatch(m, &found))
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// EachFieldMatch evaluates m against every field, then calls fn for each
// match in by-name key order. A matcher error is returned before fn has
// been called at all.
func (idx *Index) EachFieldMatch(m Matcher, fn Visitor) error {
	if err := checkMatcher(m); err != nil {
		return err
	}
	if fn == nil {
		return errors.Wrap(ErrInvalidArgument, "nil visitor")
	}
	var ords []int
	if err := idx.eachInNameOrder(collectMatches(m, &ords)); err != nil {
		return err
	}
	return stopped(idx.visit(ords, fn))
}

// DescendantFieldMatches reports whether any field below parent satisfies m.
func (idx *Index) DescendantFieldMatches(parent *Field, m Matcher) (bool, error) {
	_, ok, err := idx.FindFirstDescendantFieldMatch(parent, m)
	return ok, err
}

// FindFirstDescendantFieldMatch returns the first field below parent, in
// pre-order, that satisfies m.
func (idx *Index) FindFirstDescendantFieldMatch(parent *Field, m Matcher) (*Field, bool, error) {
	if err := idx.checkParent(parent); err != nil {
		return nil, false, err
	}
	if err := checkMatcher(m); err != nil {
		return nil, false, err
	}
	var found *Field
	if err := idx.walkDescendants(parent, firstMatch(m, &found)); err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// EachDescendantFieldMatch evaluates m against every field below parent,
// then calls fn for each match in pre-order.
func (idx *Index) EachDescendantFieldMatch(parent *Field, m Matcher, fn Visitor) error {
	if err := idx.checkParent(parent); err != nil {
		return err
	}
	if err := checkMatcher(m); err != nil {
		return err
	}
	if fn == nil {
		return errors.Wrap(ErrInvalidArgument, "nil visitor")
	}
	var ords []int
	if err := idx.walkDescendants(parent, collectMatches(m, &ords)); err != nil {
		return err
	}
	return stopped(idx.visit(ords, fn))
}

func firstMatch(m Matcher, found **Field) func(*Field) (bool, error) {
	return func(f *Field) (bool, error) {
		ok, err := m.Match(f)
		if err != nil {
			return false, err
		}
		if ok {
			*found = f
			return false, nil
		}
		return true, nil
	}
}

func collectMatches(m Matcher, ords *[]int) func(*Field) (bool, error) {
	return func(f *Field) (bool, error) {
		ok, err := m.Match(f)
		if err != nil {
			return false, err
		}
		if ok {
			*ords = append(*ords, f.Ordinal)
		}
		return true, nil
	}
}

// NameIs matches fields with the given name.
func NameIs(name string) Matcher {
	return MatcherFunc(func(f *Field) (bool, error) {
		return f.Name == name, nil
	})
}

// ValueIs matches fields whose value equals value. Protocol fields carry no
// value and fail the match with a *MatchError.
func ValueIs(value []byte) Matcher {
	return MatcherFunc(func(f *Field) (bool, error) {
		if f.IsProtocol {
			return false, &MatchError{Field: f, Reason: "protocol fields have no value"}
		}
		return bytes.Equal(f.Value, value), nil
	})
}

// DisplayValueIs matches fields with the given display value.
func DisplayValueIs(s string) Matcher {
	return MatcherFunc(func(f *Field) (bool, error) {
		return f.DisplayValue == s, nil
	})
}

// All matches fields that satisfy every matcher.
func All(ms ...Matcher) Matcher {
	return MatcherFunc(func(f *Field) (bool, error) {
		for _, m := range ms {
			ok, err := m.Match(f)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// Any matches fields that satisfy at least one matcher.
func Any(ms ...Matcher) Matcher {
	return MatcherFunc(func(f *Field) (bool, error) {
		for _, m := range ms {
			ok, err := m.Match(f)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	})
}

// SiblingMatches matches fields that have a sibling, another field with
// the same parent, satisfying m.
func (idx *Index) SiblingMatches(m Matcher) Matcher {
	return MatcherFunc(func(f *Field) (bool, error) {
		for _, o := range idx.byParent[f.ParentID] {
			if o == f.Ordinal {
				continue
			}
			ok, err := m.Match(idx.fields[o])
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	})
}
