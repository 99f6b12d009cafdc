package dissect

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// transport describes the layer 4 header an application payload arrived on.
type transport struct {
	proto   string
	srcPort uint16
	dstPort uint16
}

func (t transport) port(p uint16) bool {
	return t.srcPort == p || t.dstPort == p
}

func (t transport) anyPort(ports ...uint16) bool {
	for _, p := range ports {
		if t.port(p) {
			return true
		}
	}
	return false
}

// decode walks the decoded layers, keeping track of each layer's offset in
// the frame.
func (b *builder) decode(pkt gopacket.Packet) {
	root := b.tree.Root
	off := 0
	for _, layer := range pkt.Layers() {
		if layer.LayerType() == gopacket.LayerTypeDecodeFailure {
			break
		}
		contents := layer.LayerContents()
		switch l := layer.(type) {
		case *layers.Ethernet:
			b.ethernet(root, l, off)
		case *layers.Dot1Q:
			b.dot1q(root, l, off)
		case *layers.Loopback:
			n := b.proto(root, "null", "Null/Loopback", b.frame, off, len(contents))
			b.field(n, "null.family", "Family", l.Family.String(), b.frame, off, 4)
		case *layers.LinuxSLL:
			b.sll(root, l, off)
		case *layers.ARP:
			b.arp(root, l, off)
		case *layers.IPv4:
			b.ipv4(root, l, off)
		case *layers.IPv6:
			b.ipv6(root, l, off)
		case *layers.ICMPv4:
			b.icmpv4(root, l, off)
		case *layers.ICMPv6:
			b.icmpv6(root, l, off)
		case *layers.TCP:
			b.tcp(root, l, off)
			b.application(pkt, l.Payload, off+len(contents), transport{"tcp", uint16(l.SrcPort), uint16(l.DstPort)})
			return
		case *layers.UDP:
			b.udp(root, l, off)
			b.application(pkt, l.Payload, off+len(contents), transport{"udp", uint16(l.SrcPort), uint16(l.DstPort)})
			return
		default:
			if layer.LayerType() == gopacket.LayerTypePayload {
				b.data(root, contents, off)
				return
			}
			name := strings.ToLower(layer.LayerType().String())
			b.proto(root, name, layer.LayerType().String(), b.frame, off, len(contents))
		}
		off += len(contents)
	}
	if el := pkt.ErrorLayer(); el != nil {
		b.malformed(el.Error())
	}
}

func (b *builder) malformed(err error) {
	n := b.proto(b.tree.Root, "_ws.malformed", "Malformed Packet", nil, 0, 0)
	n.DisplayValue = err.Error()
	if b.protocol == "" {
		b.summary("Malformed", "%s", err.Error())
	}
}

func (b *builder) data(parent *Node, payload []byte, off int) {
	if len(payload) == 0 {
		return
	}
	n := b.proto(parent, "data", fmt.Sprintf("Data (%d bytes)", len(payload)), b.frame, off, len(payload))
	b.field(n, "data.data", "Data", fmt.Sprintf("%x", truncate(payload, 32)), b.frame, off, len(payload))
	b.text(n, "data.len", strconv.Itoa(len(payload)))
}

func truncate(data []byte, n int) []byte {
	if len(data) > n {
		return data[:n]
	}
	return data
}

func (b *builder) ethernet(parent *Node, eth *layers.Ethernet, off int) {
	n := b.proto(parent, "eth", fmt.Sprintf("Ethernet II, Src: %s, Dst: %s", eth.SrcMAC, eth.DstMAC), b.frame, off, len(eth.Contents))
	b.field(n, "eth.dst", "Destination", eth.DstMAC.String(), b.frame, off, 6)
	b.field(n, "eth.src", "Source", eth.SrcMAC.String(), b.frame, off+6, 6)
	b.field(n, "eth.type", "Type", fmt.Sprintf("%s (0x%04x)", eth.EthernetType, uint16(eth.EthernetType)), b.frame, off+12, 2)
}

func (b *builder) dot1q(parent *Node, q *layers.Dot1Q, off int) {
	n := b.proto(parent, "vlan", fmt.Sprintf("802.1Q Virtual LAN, PRI: %d, ID: %d", q.Priority, q.VLANIdentifier), b.frame, off, len(q.Contents))
	b.field(n, "vlan.priority", "Priority", strconv.Itoa(int(q.Priority)), b.frame, off, 2)
	b.field(n, "vlan.dei", "DEI", strconv.FormatBool(q.DropEligible), b.frame, off, 2)
	b.field(n, "vlan.id", "ID", strconv.Itoa(int(q.VLANIdentifier)), b.frame, off, 2)
	b.field(n, "vlan.etype", "Type", fmt.Sprintf("%s (0x%04x)", q.Type, uint16(q.Type)), b.frame, off+2, 2)
}

func (b *builder) sll(parent *Node, s *layers.LinuxSLL, off int) {
	n := b.proto(parent, "sll", "Linux cooked capture v1", b.frame, off, len(s.Contents))
	b.field(n, "sll.pkttype", "Packet type", s.PacketType.String(), b.frame, off, 2)
	b.field(n, "sll.halen", "Link-layer address length", strconv.Itoa(int(s.AddrLen)), b.frame, off+4, 2)
	b.field(n, "sll.src.eth", "Source", s.Addr.String(), b.frame, off+6, int(s.AddrLen))
	b.field(n, "sll.etype", "Protocol", s.EthernetType.String(), b.frame, off+14, 2)
}

func (b *builder) arp(parent *Node, arp *layers.ARP, off int) {
	op := "Unknown"
	switch arp.Operation {
	case layers.ARPRequest:
		op = "request"
	case layers.ARPReply:
		op = "reply"
	}
	hs, ps := int(arp.HwAddressSize), int(arp.ProtAddressSize)
	srcIP, dstIP := net.IP(arp.SourceProtAddress), net.IP(arp.DstProtAddress)

	n := b.proto(parent, "arp", fmt.Sprintf("Address Resolution Protocol (%s)", op), b.frame, off, len(arp.Contents))
	b.field(n, "arp.hw.type", "Hardware type", arp.AddrType.String(), b.frame, off, 2)
	b.field(n, "arp.proto.type", "Protocol type", arp.Protocol.String(), b.frame, off+2, 2)
	b.field(n, "arp.hw.size", "Hardware size", strconv.Itoa(hs), b.frame, off+4, 1)
	b.field(n, "arp.proto.size", "Protocol size", strconv.Itoa(ps), b.frame, off+5, 1)
	b.field(n, "arp.opcode", "Opcode", fmt.Sprintf("%s (%d)", op, arp.Operation), b.frame, off+6, 2)
	pos := off + 8
	b.field(n, "arp.src.hw_mac", "Sender MAC address", net.HardwareAddr(arp.SourceHwAddress).String(), b.frame, pos, hs)
	b.field(n, "arp.src.proto_ipv4", "Sender IP address", srcIP.String(), b.frame, pos+hs, ps)
	pos += hs + ps
	b.field(n, "arp.dst.hw_mac", "Target MAC address", net.HardwareAddr(arp.DstHwAddress).String(), b.frame, pos, hs)
	b.field(n, "arp.dst.proto_ipv4", "Target IP address", dstIP.String(), b.frame, pos+hs, ps)

	if arp.Operation == layers.ARPRequest {
		b.summary("ARP", "Who has %s? Tell %s", dstIP, srcIP)
	} else {
		b.summary("ARP", "%s is at %s", srcIP, net.HardwareAddr(arp.SourceHwAddress))
	}
}

func (b *builder) ipv4(parent *Node, ip *layers.IPv4, off int) {
	n := b.proto(parent, "ip", fmt.Sprintf("Internet Protocol Version 4, Src: %s, Dst: %s", ip.SrcIP, ip.DstIP), b.frame, off, len(ip.Contents))
	b.field(n, "ip.version", "Version", strconv.Itoa(int(ip.Version)), b.frame, off, 1)
	b.field(n, "ip.hdr_len", "Header Length", fmt.Sprintf("%d bytes", int(ip.IHL)*4), b.frame, off, 1)
	b.field(n, "ip.dsfield", "Differentiated Services Field", fmt.Sprintf("0x%02x", ip.TOS), b.frame, off+1, 1)
	b.field(n, "ip.len", "Total Length", strconv.Itoa(int(ip.Length)), b.frame, off+2, 2)
	b.field(n, "ip.id", "Identification", fmt.Sprintf("0x%04x (%d)", ip.Id, ip.Id), b.frame, off+4, 2)
	flags := b.field(n, "ip.flags", "Flags", fmt.Sprintf("0x%02x, %s", uint8(ip.Flags), ip.Flags), b.frame, off+6, 1)
	b.field(flags, "ip.flags.df", "Don't fragment", bitSet(ip.Flags&layers.IPv4DontFragment != 0), b.frame, off+6, 1)
	b.field(flags, "ip.flags.mf", "More fragments", bitSet(ip.Flags&layers.IPv4MoreFragments != 0), b.frame, off+6, 1)
	b.field(n, "ip.frag_offset", "Fragment Offset", strconv.Itoa(int(ip.FragOffset)), b.frame, off+6, 2)
	b.field(n, "ip.ttl", "Time to Live", strconv.Itoa(int(ip.TTL)), b.frame, off+8, 1)
	b.field(n, "ip.proto", "Protocol", fmt.Sprintf("%s (%d)", ip.Protocol, uint8(ip.Protocol)), b.frame, off+9, 1)
	b.field(n, "ip.checksum", "Header Checksum", fmt.Sprintf("0x%04x", ip.Checksum), b.frame, off+10, 2)
	b.field(n, "ip.src", "Source Address", ip.SrcIP.String(), b.frame, off+12, 4)
	b.field(n, "ip.dst", "Destination Address", ip.DstIP.String(), b.frame, off+16, 4)
}

func (b *builder) ipv6(parent *Node, ip *layers.IPv6, off int) {
	n := b.proto(parent, "ipv6", fmt.Sprintf("Internet Protocol Version 6, Src: %s, Dst: %s", ip.SrcIP, ip.DstIP), b.frame, off, len(ip.Contents))
	b.field(n, "ipv6.version", "Version", strconv.Itoa(int(ip.Version)), b.frame, off, 1)
	b.field(n, "ipv6.tclass", "Traffic Class", fmt.Sprintf("0x%02x", ip.TrafficClass), b.frame, off, 2)
	b.field(n, "ipv6.flow", "Flow Label", fmt.Sprintf("0x%05x", ip.FlowLabel), b.frame, off+1, 3)
	b.field(n, "ipv6.plen", "Payload Length", strconv.Itoa(int(ip.Length)), b.frame, off+4, 2)
	b.field(n, "ipv6.nxt", "Next Header", fmt.Sprintf("%s (%d)", ip.NextHeader, uint8(ip.NextHeader)), b.frame, off+6, 1)
	b.field(n, "ipv6.hlim", "Hop Limit", strconv.Itoa(int(ip.HopLimit)), b.frame, off+7, 1)
	b.field(n, "ipv6.src", "Source Address", ip.SrcIP.String(), b.frame, off+8, 16)
	b.field(n, "ipv6.dst", "Destination Address", ip.DstIP.String(), b.frame, off+24, 16)
}

func (b *builder) icmpv4(parent *Node, icmp *layers.ICMPv4, off int) {
	n := b.proto(parent, "icmp", "Internet Control Message Protocol", b.frame, off, len(icmp.Contents))
	b.field(n, "icmp.type", "Type", fmt.Sprintf("%d (%s)", icmp.TypeCode.Type(), icmp.TypeCode), b.frame, off, 1)
	b.field(n, "icmp.code", "Code", strconv.Itoa(int(icmp.TypeCode.Code())), b.frame, off+1, 1)
	b.field(n, "icmp.checksum", "Checksum", fmt.Sprintf("0x%04x", icmp.Checksum), b.frame, off+2, 2)
	b.field(n, "icmp.ident", "Identifier", fmt.Sprintf("0x%04x", icmp.Id), b.frame, off+4, 2)
	b.field(n, "icmp.seq", "Sequence Number", strconv.Itoa(int(icmp.Seq)), b.frame, off+6, 2)
	b.summary("ICMP", "%s id=0x%04x, seq=%d", icmp.TypeCode, icmp.Id, icmp.Seq)
}

func (b *builder) icmpv6(parent *Node, icmp *layers.ICMPv6, off int) {
	n := b.proto(parent, "icmpv6", "Internet Control Message Protocol v6", b.frame, off, len(icmp.Contents))
	b.field(n, "icmpv6.type", "Type", fmt.Sprintf("%d (%s)", icmp.TypeCode.Type(), icmp.TypeCode), b.frame, off, 1)
	b.field(n, "icmpv6.code", "Code", strconv.Itoa(int(icmp.TypeCode.Code())), b.frame, off+1, 1)
	b.field(n, "icmpv6.checksum", "Checksum", fmt.Sprintf("0x%04x", icmp.Checksum), b.frame, off+2, 2)
	b.summary("ICMPv6", "%s", icmp.TypeCode)
}

func (b *builder) tcp(parent *Node, tcp *layers.TCP, off int) {
	hdrLen := int(tcp.DataOffset) * 4
	n := b.proto(parent, "tcp", fmt.Sprintf("Transmission Control Protocol, Src Port: %d, Dst Port: %d, Seq: %d, Len: %d", tcp.SrcPort, tcp.DstPort, tcp.Seq, len(tcp.Payload)), b.frame, off, len(tcp.Contents))
	b.field(n, "tcp.srcport", "Source Port", strconv.Itoa(int(tcp.SrcPort)), b.frame, off, 2)
	b.field(n, "tcp.dstport", "Destination Port", strconv.Itoa(int(tcp.DstPort)), b.frame, off+2, 2)
	b.text(n, "tcp.len", strconv.Itoa(len(tcp.Payload)))
	b.field(n, "tcp.seq", "Sequence Number", strconv.FormatUint(uint64(tcp.Seq), 10), b.frame, off+4, 4)
	b.field(n, "tcp.ack", "Acknowledgment Number", strconv.FormatUint(uint64(tcp.Ack), 10), b.frame, off+8, 4)
	b.field(n, "tcp.hdr_len", "Header Length", fmt.Sprintf("%d bytes", hdrLen), b.frame, off+12, 1)

	flags := b.field(n, "tcp.flags", "Flags", tcpFlagString(tcp), b.frame, off+12, 2)
	for _, f := range []struct {
		name, label string
		set         bool
	}{
		{"tcp.flags.ns", "Nonce", tcp.NS},
		{"tcp.flags.cwr", "Congestion Window Reduced", tcp.CWR},
		{"tcp.flags.ece", "ECN-Echo", tcp.ECE},
		{"tcp.flags.urg", "Urgent", tcp.URG},
		{"tcp.flags.ack", "Acknowledgment", tcp.ACK},
		{"tcp.flags.push", "Push", tcp.PSH},
		{"tcp.flags.reset", "Reset", tcp.RST},
		{"tcp.flags.syn", "Syn", tcp.SYN},
		{"tcp.flags.fin", "Fin", tcp.FIN},
	} {
		b.field(flags, f.name, f.label, bitSet(f.set), b.frame, off+12, 2)
	}

	b.field(n, "tcp.window_size_value", "Window", strconv.Itoa(int(tcp.Window)), b.frame, off+14, 2)
	b.field(n, "tcp.checksum", "Checksum", fmt.Sprintf("0x%04x", tcp.Checksum), b.frame, off+16, 2)
	b.field(n, "tcp.urgent_pointer", "Urgent Pointer", strconv.Itoa(int(tcp.Urgent)), b.frame, off+18, 2)
	if hdrLen > 20 {
		opts := b.field(n, "tcp.options", "Options", fmt.Sprintf("(%d bytes)", hdrLen-20), b.frame, off+20, hdrLen-20)
		pos := off + 20
		for _, o := range tcp.Options {
			length := int(o.OptionLength)
			if o.OptionType == layers.TCPOptionKindEndList || o.OptionType == layers.TCPOptionKindNop {
				length = 1
			}
			b.field(opts, "tcp.option_kind", "Kind", o.OptionType.String(), b.frame, pos, 1)
			pos += length
		}
	}

	b.summary("TCP", "%d → %d [%s] Seq=%d Ack=%d Win=%d Len=%d",
		tcp.SrcPort, tcp.DstPort, tcpFlagString(tcp), tcp.Seq, tcp.Ack, tcp.Window, len(tcp.Payload))
}

func tcpFlagString(tcp *layers.TCP) string {
	var parts []string
	for _, f := range []struct {
		label string
		set   bool
	}{
		{"SYN", tcp.SYN}, {"ACK", tcp.ACK}, {"FIN", tcp.FIN},
		{"RST", tcp.RST}, {"PSH", tcp.PSH}, {"URG", tcp.URG},
	} {
		if f.set {
			parts = append(parts, f.label)
		}
	}
	return strings.Join(parts, ", ")
}

func (b *builder) udp(parent *Node, udp *layers.UDP, off int) {
	n := b.proto(parent, "udp", fmt.Sprintf("User Datagram Protocol, Src Port: %d, Dst Port: %d", udp.SrcPort, udp.DstPort), b.frame, off, len(udp.Contents))
	b.field(n, "udp.srcport", "Source Port", strconv.Itoa(int(udp.SrcPort)), b.frame, off, 2)
	b.field(n, "udp.dstport", "Destination Port", strconv.Itoa(int(udp.DstPort)), b.frame, off+2, 2)
	b.field(n, "udp.length", "Length", strconv.Itoa(int(udp.Length)), b.frame, off+4, 2)
	b.field(n, "udp.checksum", "Checksum", fmt.Sprintf("0x%04x", udp.Checksum), b.frame, off+6, 2)
	b.summary("UDP", "%d → %d Len=%d", udp.SrcPort, udp.DstPort, len(udp.Payload))
}

func bitSet(set bool) string {
	if set {
		return "Set"
	}
	return "Not set"
}
