package handlers

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	"capdissector/internal/capture"
	"capdissector/internal/dissect"
	"capdissector/internal/models"
	"capdissector/internal/packet"
)

func loadPacket(t *testing.T) *packet.Packet {
	t.Helper()
	r, err := capture.NewReader("test.pcap", bytes.NewReader(captureBytes(t)))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	frame, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("Next: %v %v", ok, err)
	}
	tree, err := dissect.NewEngine().Dissect(frame)
	if err != nil {
		t.Fatal(err)
	}
	p, err := packet.New(frame, tree)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestFindFields(t *testing.T) {
	p := loadPacket(t)

	all, err := findFields(p, models.FieldQuery{Number: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != p.Len() {
		t.Errorf("got %d fields, want %d", len(all), p.Len())
	}

	udp, ok := p.FindFirstField("udp")
	if !ok {
		t.Fatal("no udp field")
	}
	below, err := findFields(p, models.FieldQuery{Number: 1, Name: "udp.dstport", Parent: &udp.Ordinal})
	if err != nil {
		t.Fatal(err)
	}
	if len(below) != 1 || below[0].DisplayValue != "6000" {
		t.Errorf("udp.dstport below udp = %+v", below)
	}

	missing := p.Len()
	if _, err := findFields(p, models.FieldQuery{Number: 1, Parent: &missing}); !errors.Is(err, errNoParent) {
		t.Errorf("unknown parent: %v", err)
	}
}
