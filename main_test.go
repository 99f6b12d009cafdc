package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"capdissector/internal/config"
)

func serializeFrame(t *testing.T, ipProto layers.IPProtocol, l ...gopacket.SerializableLayer) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: ipProto, SrcIP: net.IP{192, 168, 0, 2}, DstIP: net.IP{192, 168, 0, 1}}
	buf := gopacket.NewSerializeBuffer()
	all := append([]gopacket.SerializableLayer{eth, ip}, l...)
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, all...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func trafficCapture(t *testing.T) string {
	t.Helper()
	httpReq := serializeFrame(t, layers.IPProtocolTCP,
		&layers.TCP{SrcPort: 50000, DstPort: 80, PSH: true, ACK: true, Window: 100},
		gopacket.Payload("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	dns := &layers.DNS{
		ID: 0x1234, QR: true, OpCode: layers.DNSOpCodeQuery, ResponseCode: layers.DNSResponseCodeNoErr,
		Questions: []layers.DNSQuestion{{Name: []byte("example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN}},
		Answers: []layers.DNSResourceRecord{{
			Name: []byte("example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN,
			TTL: 60, IP: net.IP{93, 184, 216, 34},
		}},
	}
	dnsResp := serializeFrame(t, layers.IPProtocolUDP, &layers.UDP{SrcPort: 53, DstPort: 40000}, dns)

	path := filepath.Join(t.TempDir(), "traffic.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	for i, data := range [][]byte{httpReq, dnsResp} {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, int64(i)), CaptureLength: len(data), Length: len(data)}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestRunDumpTraffic(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Traffic = true
	cfg.Output.Benchmarks = true

	var out bytes.Buffer
	stats, err := runDump(&out, zap.NewNop(), cfg, trafficCapture(t), nil)
	if err != nil {
		t.Fatalf("runDump: %v", err)
	}
	if stats.packets != 2 || stats.read != 2 {
		t.Errorf("packets=%d read=%d", stats.packets, stats.read)
	}
	if stats.hosts["example.com"] != 2 {
		t.Errorf("hosts = %v", stats.hosts)
	}
	if stats.http != 1 {
		t.Errorf("http = %d, want 1", stats.http)
	}
	if stats.worst < stats.best {
		t.Errorf("benchmarks: best %v worst %v", stats.best, stats.worst)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestRunDumpFilterAndShowPackets(t *testing.T) {
	cfg := config.Default()
	cfg.Dissect.ReadFilter = []string{"dns"}
	cfg.Output.ShowPackets = true
	cfg.Output.YAML = true
	cfg.Output.Hex = true

	var out bytes.Buffer
	stats, err := runDump(&out, zap.NewNop(), cfg, trafficCapture(t), nil)
	if err != nil {
		t.Fatalf("runDump: %v", err)
	}
	if stats.packets != 1 || stats.read != 2 {
		t.Errorf("packets=%d read=%d", stats.packets, stats.read)
	}
	text := out.String()
	for _, want := range []string{
		"Frame 2: 192.168.0.2 → 192.168.0.1 DNS",
		"dns.resp.name (Name): example.com",
		"--- # frame 2",
		"Frame 2, frame (",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Frame 1") {
		t.Error("filtered frame was printed")
	}
}

func TestDumpCommandRequiresFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"dump"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Error("expected an argument error")
	}
}
