package dissect

// Filter decides whether a dissected frame is passed on. Frames it rejects
// are released and never indexed.
type Filter func(*Tree) bool

// ProtocolFilter passes trees containing at least one field whose name is
// one of names. With no names every tree passes.
func ProtocolFilter(names ...string) Filter {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	return func(t *Tree) bool {
		if len(want) == 0 {
			return true
		}
		found := false
		t.Walk(func(n *Node) bool {
			found = want[n.Name]
			return !found
		})
		return found
	}
}
