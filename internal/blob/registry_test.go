package blob

import (
	"testing"

	"github.com/pkg/errors"

	"capdissector/internal/dissect"
	"capdissector/internal/field"
)

func TestRegistryIsLazyAndStable(t *testing.T) {
	tree := dissect.NewTree()
	tree.AddSource("frame", []byte{1, 2, 3})
	tree.AddSource("Uncompressed entity body", []byte("hello"))

	calls := 0
	r := NewRegistry(func() []*dissect.DataSource {
		calls++
		return tree.Sources
	})
	if calls != 0 {
		t.Fatal("sources enumerated before first use")
	}

	first := r.Blobs()
	second := r.Blobs()
	if calls != 1 {
		t.Errorf("sources enumerated %d times, want 1", calls)
	}
	if len(first) != 2 {
		t.Fatalf("got %d blobs, want 2", len(first))
	}
	first["extra"] = &Blob{}
	if _, ok := second["extra"]; !ok {
		t.Error("Blobs should return the same map on every call")
	}

	tree.Sources[1].Data[0] = 'j'
	if b, _ := r.Blob("Uncompressed entity body"); string(b.Data) != "hello" {
		t.Errorf("blob data = %q, want a copy taken at load time", b.Data)
	}
}

func TestForField(t *testing.T) {
	tree := dissect.NewTree()
	frame := tree.AddSource("frame", make([]byte, 400))
	tree.Root.Append(&dissect.Node{Name: "data.data", Source: frame, Offset: 10, Length: 300, Value: frame.Data[10:310]})
	tree.Root.Append(&dissect.Node{Name: "orphan", Source: &dissect.DataSource{ID: 7}, Value: []byte{1}})

	idx, err := field.Build(tree.Root)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(func() []*dissect.DataSource { return tree.Sources })

	f, _ := idx.FindFirstField("data.data")
	b, err := r.ForField(f)
	if err != nil {
		t.Fatalf("ForField: %v", err)
	}
	if b.Name != "frame" || len(b.Slice(f.Offset, f.Length)) != 300 {
		t.Errorf("resolved %s with %d bytes", b.Name, len(b.Slice(f.Offset, f.Length)))
	}

	orphan, _ := idx.FindFirstField("orphan")
	if _, err := r.ForField(orphan); !errors.Is(err, field.ErrInconsistent) {
		t.Errorf("orphan err = %v, want ErrInconsistent", err)
	}
}

func TestNameClashKeepsBothInList(t *testing.T) {
	tree := dissect.NewTree()
	tree.AddSource("body", []byte("a"))
	tree.AddSource("body", []byte("b"))
	r := NewRegistry(func() []*dissect.DataSource { return tree.Sources })
	if len(r.List()) != 2 {
		t.Errorf("list has %d blobs, want 2", len(r.List()))
	}
	if b, _ := r.Blob("body"); string(b.Data) != "b" {
		t.Errorf("name lookup = %q, want the later source", b.Data)
	}
}
