package flow

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"capdissector/internal/capture"
	"capdissector/internal/dissect"
	"capdissector/internal/packet"
)

var (
	client = net.IP{10, 0, 0, 1}
	server = net.IP{10, 0, 0, 2}
)

func segment(t *testing.T, e *dissect.Engine, n int, src, dst net.IP, sport, dport uint16, set func(*layers.TCP)) *packet.Packet {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), Window: 1024}
	set(tcp)
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, ip, tcp); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	frame := capture.Frame{
		Number:        n,
		Timestamp:     time.Unix(1700000000, int64(n)*1e6),
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
		LinkType:      layers.LinkTypeEthernet,
		Data:          buf.Bytes(),
	}
	tree, err := e.Dissect(frame)
	if err != nil {
		t.Fatalf("Dissect: %v", err)
	}
	p, err := packet.New(frame, tree)
	if err != nil {
		t.Fatalf("packet.New: %v", err)
	}
	return p
}

func TestMakeFlowKeyIsSymmetric(t *testing.T) {
	a := MakeFlowKey("10.0.0.1", "10.0.0.2", 40000, 80, "TCP")
	b := MakeFlowKey("10.0.0.2", "10.0.0.1", 80, 40000, "TCP")
	if a != b {
		t.Errorf("keys differ: %+v vs %+v", a, b)
	}
	if a.Port1 != 40000 || a.Port2 != 80 {
		t.Errorf("ports = %d/%d", a.Port1, a.Port2)
	}
}

func TestExtractTCP(t *testing.T) {
	e := dissect.NewEngine()
	p := segment(t, e, 1, client, server, 40000, 80, func(tcp *layers.TCP) { tcp.SYN = true })
	defer p.Close()

	tuple, err := Extract(p)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := Tuple{
		SrcIP: "10.0.0.1", DstIP: "10.0.0.2",
		SrcPort: 40000, DstPort: 80,
		Protocol: "TCP",
		Flags:    TCPFlags{SYN: true},
		Valid:    true,
	}
	if tuple != want {
		t.Errorf("tuple = %+v, want %+v", tuple, want)
	}
}

func TestHandshakeEstablishesFlow(t *testing.T) {
	e := dissect.NewEngine()
	tr := NewTracker()

	steps := []struct {
		from, to     net.IP
		sport, dport uint16
		set          func(*layers.TCP)
	}{
		{client, server, 40000, 80, func(tcp *layers.TCP) { tcp.SYN = true }},
		{server, client, 80, 40000, func(tcp *layers.TCP) { tcp.SYN, tcp.ACK = true, true }},
		{client, server, 40000, 80, func(tcp *layers.TCP) { tcp.ACK = true }},
	}
	var ids []uint64
	for i, s := range steps {
		p := segment(t, e, i+1, s.from, s.to, s.sport, s.dport, s.set)
		id, _, ok := tr.Track(p)
		p.Close()
		if !ok {
			t.Fatalf("segment %d not tracked", i+1)
		}
		ids = append(ids, id)
	}
	if ids[0] != ids[1] || ids[1] != ids[2] {
		t.Errorf("flow ids = %v, want one flow", ids)
	}

	flows := tr.GetFlows()
	if len(flows) != 1 {
		t.Fatalf("got %d flows, want 1", len(flows))
	}
	f := flows[0]
	if f.TCPState != TCPStateEstablished {
		t.Errorf("state = %s, want %s", f.TCPState, TCPStateEstablished)
	}
	if f.FwdPackets != 2 || f.RevPackets != 1 {
		t.Errorf("fwd=%d rev=%d", f.FwdPackets, f.RevPackets)
	}
	if f.FirstFrame != 1 || f.SrcIP != "10.0.0.1" {
		t.Errorf("flow = %s, first frame %d", f, f.FirstFrame)
	}

	tr.Reset()
	if len(tr.GetFlows()) != 0 {
		t.Error("Reset kept flows")
	}
}

func TestResetClosesFlow(t *testing.T) {
	state := advanceTCPState(TCPStateEstablished, TCPFlags{RST: true})
	if state != TCPStateClosed {
		t.Errorf("state after RST = %s", state)
	}
}
