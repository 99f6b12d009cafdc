package capture

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

func writePcap(t *testing.T, lt layers.LinkType, frames ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65535, lt); err != nil {
		t.Fatalf("write header: %v", err)
	}
	ts := time.Unix(1700000000, 0)
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("write packet %d: %v", i, err)
		}
	}
	return buf.Bytes()
}

func TestReaderEndOfDataIsClean(t *testing.T) {
	raw := writePcap(t, layers.LinkTypeEthernet, bytes.Repeat([]byte{0xaa}, 60), bytes.Repeat([]byte{0xbb}, 42))
	r, err := NewReader("two.pcap", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	for want := 1; want <= 2; want++ {
		f, ok, err := r.Next()
		if err != nil || !ok {
			t.Fatalf("frame %d: ok=%v err=%v", want, ok, err)
		}
		if f.Number != want {
			t.Errorf("frame number = %d, want %d", f.Number, want)
		}
		if f.LinkType != layers.LinkTypeEthernet {
			t.Errorf("link type = %v", f.LinkType)
		}
	}

	for i := 0; i < 2; i++ {
		_, ok, err := r.Next()
		if ok || err != nil {
			t.Fatalf("after last frame: ok=%v err=%v, want false <nil>", ok, err)
		}
	}
}

func TestReaderShortRead(t *testing.T) {
	raw := writePcap(t, layers.LinkTypeEthernet, bytes.Repeat([]byte{0x01}, 100))
	raw = raw[:len(raw)-10]

	r, err := NewReader("cut.pcap", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	_, ok, err := r.Next()
	if ok {
		t.Fatal("expected no frame from truncated record")
	}
	if !IsKind(err, ShortRead) {
		t.Fatalf("err = %v, want ShortRead", err)
	}
	if !errors.Is(err, ErrCapFile) {
		t.Error("ShortRead should match ErrCapFile")
	}
	if !strings.Contains(err.Error(), `"cut.pcap" appears to have been cut short`) {
		t.Errorf("message = %q", err.Error())
	}
}

func TestReaderUnsupportedEncap(t *testing.T) {
	raw := writePcap(t, layers.LinkType(147), []byte{1, 2, 3, 4})
	r, err := NewReader("user0.pcap", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	_, _, err = r.Next()
	if !IsKind(err, UnsupportedEncap) {
		t.Fatalf("err = %v, want UnsupportedEncap", err)
	}
}

func TestReaderRejectsGarbage(t *testing.T) {
	_, err := NewReader("junk", strings.NewReader("definitely not a capture file"))
	if err == nil {
		t.Fatal("expected error for unknown magic")
	}
	var cfe *CapFileError
	if !errors.As(err, &cfe) {
		t.Fatalf("err = %T, want *CapFileError", err)
	}
	if cfe.Filename != "junk" {
		t.Errorf("filename = %q", cfe.Filename)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.pcap"))
	if !IsKind(err, ReadFailure) {
		t.Fatalf("err = %v, want ReadFailure", err)
	}
}

func TestOpenPcapng(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.pcapng")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatalf("NewNgWriter: %v", err)
	}
	data := bytes.Repeat([]byte{0x42}, 64)
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(data), Length: len(data)}
	if err := w.WritePacket(ci, data); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	fr, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(fr.Data, data) {
		t.Error("frame data mismatch")
	}
	if _, ok, err := r.Next(); ok || err != nil {
		t.Fatalf("expected clean end, got ok=%v err=%v", ok, err)
	}
}
