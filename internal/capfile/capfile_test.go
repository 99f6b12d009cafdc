package capfile

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"

	"capdissector/internal/capture"
	"capdissector/internal/dissect"
	"capdissector/internal/packet"
)

func frameBytes(t *testing.T, transport gopacket.SerializableLayer, proto layers.IPProtocol) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: net.IP{10, 1, 1, 1}, DstIP: net.IP{10, 1, 1, 2}}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload("x")); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func writeCapture(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)*1e6),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func mixedCapture(t *testing.T) string {
	udp := frameBytes(t, &layers.UDP{SrcPort: 1000, DstPort: 2000}, layers.IPProtocolUDP)
	tcp := frameBytes(t, &layers.TCP{SrcPort: 3000, DstPort: 4000, SYN: true, Window: 100}, layers.IPProtocolTCP)
	return writeCapture(t, udp, tcp, udp)
}

func TestFilterDropsFramesBeforeIndexing(t *testing.T) {
	e := dissect.NewEngine()
	c, err := Open(mixedCapture(t), e, WithFilter(dissect.ProtocolFilter("tcp")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	var numbers []int
	err = c.Each(func(p *packet.Packet) error {
		numbers = append(numbers, p.Number())
		if !p.FieldExists("tcp.srcport") {
			t.Errorf("frame %d passed the filter without tcp fields", p.Number())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(numbers) != 1 || numbers[0] != 2 {
		t.Errorf("frames = %v, want [2]", numbers)
	}
	if read, accepted := c.Count(); read != 3 || accepted != 1 {
		t.Errorf("count = %d/%d, want 3/1", read, accepted)
	}
	if e.Outstanding() != 0 {
		t.Errorf("%d trees not released", e.Outstanding())
	}
}

func TestNextAfterEnd(t *testing.T) {
	c, err := Open(mixedCapture(t), dissect.NewEngine())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	n := 0
	for {
		p, ok, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		n++
		p.Close()
	}
	if n != 3 {
		t.Errorf("read %d packets, want 3", n)
	}
	if _, ok, err := c.Next(); ok || err != nil {
		t.Errorf("after end: ok=%v err=%v", ok, err)
	}
}

func TestEachStopsOnError(t *testing.T) {
	c, err := Open(mixedCapture(t), dissect.NewEngine())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	boom := errors.New("boom")
	calls := 0
	err = c.Each(func(*packet.Packet) error {
		calls++
		return boom
	})
	if err != boom || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.pcap"), dissect.NewEngine())
	if !capture.IsKind(err, capture.ReadFailure) {
		t.Errorf("err = %v, want a read failure", err)
	}
}
