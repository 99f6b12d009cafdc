package field

import (
	"strings"
	"testing"

	"github.com/pkg/errors"

	"capdissector/internal/dissect"
)

func node(name string, children ...*dissect.Node) *dissect.Node {
	n := &dissect.Node{Name: name}
	for _, c := range children {
		n.Append(c)
	}
	return n
}

func proto(name string, children ...*dissect.Node) *dissect.Node {
	n := node(name, children...)
	n.Protocol = true
	return n
}

func build(t *testing.T, top ...*dissect.Node) *Index {
	t.Helper()
	tree := dissect.NewTree()
	for _, n := range top {
		tree.Root.Append(n)
	}
	idx, err := Build(tree.Root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func names(fields []*Field) string {
	var out []string
	for _, f := range fields {
		out = append(out, f.Key())
	}
	return strings.Join(out, ",")
}

func collect(t *testing.T, run func(Visitor) error) []*Field {
	t.Helper()
	var out []*Field
	if err := run(func(f *Field) error {
		out = append(out, f)
		return nil
	}); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	return out
}

func TestSingleProtocolFrame(t *testing.T) {
	idx := build(t, proto("eth", node("eth.src"), node("eth.dst")))

	if !idx.FieldExists("eth.src") {
		t.Error("eth.src should exist")
	}
	if _, ok := idx.FindFirstField("eth.type"); ok {
		t.Error("eth.type should be absent")
	}
	all := collect(t, func(fn Visitor) error { return idx.EachField(fn) })
	if len(all) != 3 {
		t.Fatalf("EachField() yielded %d fields, want 3", len(all))
	}
}

func TestOrdinalsArePreOrder(t *testing.T) {
	idx := build(t,
		proto("eth", node("eth.dst"), node("eth.src")),
		proto("ip", node("ip.flags", node("ip.flags.df")), node("ip.src")),
	)
	var got []string
	for i := 0; i < idx.Len(); i++ {
		f, _ := idx.Field(i)
		got = append(got, f.Name)
	}
	want := "eth,eth.dst,eth.src,ip,ip.flags,ip.flags.df,ip.src"
	if strings.Join(got, ",") != want {
		t.Fatalf("ordinal order = %s, want %s", strings.Join(got, ","), want)
	}

	df, _ := idx.FindFirstField("ip.flags.df")
	flags, _ := idx.FindFirstField("ip.flags")
	if df.ParentID != flags.Ordinal {
		t.Errorf("ip.flags.df parent = %d, want %d", df.ParentID, flags.Ordinal)
	}
	if p, ok, err := idx.Parent(df); err != nil || !ok || p != flags {
		t.Errorf("Parent(ip.flags.df) = %v %v %v", p, ok, err)
	}
}

func TestEachFieldUsesNameOrder(t *testing.T) {
	idx := build(t, proto("tcp", node("tcp.srcport"), node("b")), proto("a"), node("tcp.srcport"))
	all := collect(t, func(fn Visitor) error { return idx.EachField(fn) })
	if got := names(all); got != "a,b,tcp,tcp.srcport,tcp.srcport" {
		t.Fatalf("EachField() order = %s", got)
	}
	if all[3].Ordinal > all[4].Ordinal {
		t.Error("same-name fields must be in ordinal order")
	}

	ports := collect(t, func(fn Visitor) error { return idx.EachField(fn, "tcp.srcport") })
	if len(ports) != 2 || ports[0].Ordinal != 1 || ports[1].Ordinal != 4 {
		t.Errorf("EachField(tcp.srcport) = %v", ports)
	}
	if first, _ := idx.FindFirstField("tcp.srcport"); first != ports[0] {
		t.Error("FindFirstField should return the smallest ordinal")
	}
}

func TestEachRootField(t *testing.T) {
	idx := build(t, proto("frame", node("frame.len")), proto("eth"), proto("ip", node("ip.src")))
	roots := collect(t, idx.EachRootField)
	if got := names(roots); got != "frame,eth,ip" {
		t.Fatalf("root fields = %s", got)
	}
	for _, f := range roots {
		if !f.IsRoot() {
			t.Errorf("%s should be a root field", f)
		}
	}
}

func TestEmptyNameFieldKey(t *testing.T) {
	idx := build(t, proto("dns", node("", node("dns.qry.name"))))
	f, ok := idx.FindFirstField("")
	if !ok {
		t.Fatal("unnamed field should be indexed under the empty name")
	}
	if f.Key() != "<Field#1>" {
		t.Errorf("Key() = %q", f.Key())
	}
}

func TestDescendantsPreOrderWithoutDuplicates(t *testing.T) {
	idx := build(t, proto("tcp",
		node("tcp.port", node("tcp.port")),
		node("tcp.flags", node("tcp.port")),
		node("tcp.srcport"),
	))
	tcp, _ := idx.FindFirstField("tcp")

	ports := collect(t, func(fn Visitor) error { return idx.EachDescendantField(tcp, fn, "tcp.port") })
	if len(ports) != 3 {
		t.Fatalf("got %d tcp.port descendants, want 3", len(ports))
	}
	for i := 1; i < len(ports); i++ {
		if ports[i-1].Ordinal >= ports[i].Ordinal {
			t.Errorf("descendants out of pre-order: %d before %d", ports[i-1].Ordinal, ports[i].Ordinal)
		}
	}

	all := collect(t, func(fn Visitor) error { return idx.EachDescendantField(tcp, fn) })
	if len(all) != idx.Len()-1 {
		t.Errorf("unnamed descendant walk = %d fields, want %d", len(all), idx.Len()-1)
	}
	for _, f := range all {
		if f == tcp {
			t.Error("descendant walk must exclude the parent")
		}
	}

	none := collect(t, func(fn Visitor) error { return idx.EachDescendantField(tcp, fn, "") })
	if len(none) != 0 {
		t.Errorf("empty name matched %d fields", len(none))
	}
}

func TestFindFirstDescendantField(t *testing.T) {
	idx := build(t,
		proto("ip", node("ip.flags", node("ip.flags.df")), node("ip.src")),
		proto("tcp", node("tcp.srcport")),
	)
	ip, _ := idx.FindFirstField("ip")

	first, ok, err := idx.FindFirstDescendantField(ip)
	if err != nil || !ok || first.Name != "ip.flags" {
		t.Fatalf("first descendant = %v %v %v", first, ok, err)
	}
	if first.Ordinal != ip.Ordinal+1 {
		t.Errorf("first descendant ordinal = %d, want %d", first.Ordinal, ip.Ordinal+1)
	}

	if ok, _ := idx.DescendantFieldExists(ip, "tcp.srcport"); ok {
		t.Error("tcp.srcport is not below ip")
	}
	if ok, _ := idx.DescendantFieldExists(ip, "ip.flags.df"); !ok {
		t.Error("ip.flags.df is below ip")
	}
	src, _ := idx.FindFirstField("ip.src")
	if ok, _ := idx.DescendantFieldExists(src); ok {
		t.Error("leaf has no descendants")
	}
}

func TestDescendantQueriesRejectNilParent(t *testing.T) {
	idx := build(t, proto("eth", node("eth.src")))
	noop := func(*Field) error { return nil }
	m := NameIs("eth.src")

	checks := map[string]error{}
	_, checks["DescendantFieldExists"] = idx.DescendantFieldExists(nil, "eth.src")
	_, _, checks["FindFirstDescendantField"] = idx.FindFirstDescendantField(nil, "eth.src")
	checks["EachDescendantField"] = idx.EachDescendantField(nil, noop, "eth.src")
	_, checks["DescendantFieldMatches"] = idx.DescendantFieldMatches(nil, m)
	_, _, checks["FindFirstDescendantFieldMatch"] = idx.FindFirstDescendantFieldMatch(nil, m)
	checks["EachDescendantFieldMatch"] = idx.EachDescendantFieldMatch(nil, m, noop)

	for name, err := range checks {
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s(nil) = %v, want ErrInvalidArgument", name, err)
		}
	}
}

func TestForeignParentRejected(t *testing.T) {
	a := build(t, proto("eth", node("eth.src")))
	b := build(t, proto("eth", node("eth.src")))
	foreign, _ := b.FindFirstField("eth")
	if _, err := a.DescendantFieldExists(foreign, "eth.src"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("foreign parent err = %v", err)
	}
}

func TestArity(t *testing.T) {
	idx := build(t, proto("eth", node("eth.src")))
	eth, _ := idx.FindFirstField("eth")
	noop := func(*Field) error { return nil }
	if err := idx.EachField(noop, "a", "b"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("EachField with two names = %v", err)
	}
	if err := idx.EachDescendantField(eth, noop, "a", "b"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("EachDescendantField with two names = %v", err)
	}
	if err := idx.EachField(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("EachField(nil) = %v", err)
	}
}

func TestVisitorStopAndError(t *testing.T) {
	idx := build(t, proto("eth", node("eth.src"), node("eth.dst")))
	n := 0
	err := idx.EachField(func(*Field) error {
		n++
		return Stop
	})
	if err != nil || n != 1 {
		t.Errorf("Stop: err=%v visited=%d", err, n)
	}

	boom := errors.New("boom")
	n = 0
	err = idx.EachField(func(*Field) error {
		n++
		return boom
	})
	if err != boom || n != 1 {
		t.Errorf("error: err=%v visited=%d", err, n)
	}
}

func TestBuildRejectsUnindexedParent(t *testing.T) {
	tree := dissect.NewTree()
	eth := tree.Root.Append(&dissect.Node{Name: "eth", Protocol: true})
	stray := &dissect.Node{Name: "stray"}
	eth.Children = append(eth.Children, &dissect.Node{Name: "eth.src", Parent: stray})

	_, err := Build(tree.Root)
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("Build = %v, want ErrInconsistent", err)
	}
}

func TestBuildCopiesValues(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	tree := dissect.NewTree()
	src := tree.AddSource("frame", data)
	tree.Root.Append(&dissect.Node{Name: "x", Value: data[:2], Source: src, Offset: 0, Length: 2})
	idx, err := Build(tree.Root)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 9
	f, _ := idx.FindFirstField("x")
	if f.Value[0] != 1 {
		t.Error("index must not alias the tree's bytes")
	}
	if f.SourceID != src.ID || f.Length != 2 {
		t.Errorf("location = %d/%d", f.SourceID, f.Length)
	}
}

func TestClone(t *testing.T) {
	idx := build(t, proto("eth", node("eth.src")))
	c := idx.Clone()
	orig, _ := idx.FindFirstField("eth")
	cp, _ := c.FindFirstField("eth")
	if orig == cp {
		t.Fatal("clone shares fields")
	}
	if c.Owns(orig) || !c.Owns(cp) {
		t.Error("ownership not transferred to the clone")
	}
	if ok, err := c.DescendantFieldExists(cp, "eth.src"); err != nil || !ok {
		t.Errorf("clone descendant lookup = %v %v", ok, err)
	}
}
