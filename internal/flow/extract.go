package flow

import (
	"strconv"

	"capdissector/internal/field"
	"capdissector/internal/packet"
)

// TCPFlags holds the TCP flag bits of a segment.
type TCPFlags struct {
	SYN bool
	ACK bool
	FIN bool
	RST bool
	PSH bool
}

// Tuple is the 5-tuple and TCP flags of a packet.
type Tuple struct {
	SrcIP    string
	DstIP    string
	SrcPort  uint16
	DstPort  uint16
	Protocol string
	Flags    TCPFlags
	Valid    bool
}

// Extract reads the 5-tuple from the packet's fields. The innermost IP
// header is used when a frame carries several (tunnels).
func Extract(p *packet.Packet) (Tuple, error) {
	var t Tuple
	for _, ip := range []struct{ proto, src, dst string }{
		{"ip", "ip.src", "ip.dst"},
		{"ipv6", "ipv6.src", "ipv6.dst"},
	} {
		err := p.EachField(func(f *field.Field) error {
			t.SrcIP = descendantValue(p, f, ip.src)
			t.DstIP = descendantValue(p, f, ip.dst)
			t.Protocol = ip.proto
			t.Valid = t.SrcIP != "" && t.DstIP != ""
			return nil
		}, ip.proto)
		if err != nil {
			return Tuple{}, err
		}
		if t.Valid {
			break
		}
	}
	if !t.Valid {
		return t, nil
	}

	if tcp, ok := p.FindFirstField("tcp"); ok {
		t.Protocol = "TCP"
		t.SrcPort = port(p, tcp, "tcp.srcport")
		t.DstPort = port(p, tcp, "tcp.dstport")
		flag := func(name string) bool {
			set, err := p.DescendantFieldMatches(tcp, field.All(field.NameIs(name), field.DisplayValueIs("Set")))
			return err == nil && set
		}
		t.Flags = TCPFlags{
			SYN: flag("tcp.flags.syn"),
			ACK: flag("tcp.flags.ack"),
			FIN: flag("tcp.flags.fin"),
			RST: flag("tcp.flags.reset"),
			PSH: flag("tcp.flags.push"),
		}
	} else if udp, ok := p.FindFirstField("udp"); ok {
		t.Protocol = "UDP"
		t.SrcPort = port(p, udp, "udp.srcport")
		t.DstPort = port(p, udp, "udp.dstport")
	}
	return t, nil
}

// descendantValue returns the display value of the first field below parent
// with the given name.
func descendantValue(p *packet.Packet, parent *field.Field, name string) string {
	f, ok, err := p.FindFirstDescendantField(parent, name)
	if err != nil || !ok {
		return ""
	}
	return f.DisplayValue
}

func port(p *packet.Packet, parent *field.Field, name string) uint16 {
	n, err := strconv.ParseUint(descendantValue(p, parent, name), 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}
