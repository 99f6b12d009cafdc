package dissect

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// application dissects a transport payload starting at off in the frame.
func (b *builder) application(pkt gopacket.Packet, payload []byte, off int, t transport) {
	if len(payload) == 0 {
		return
	}
	root := b.tree.Root

	if l := pkt.Layer(layers.LayerTypeDNS); l != nil {
		b.dns(root, l.(*layers.DNS), payload, off)
		return
	}
	switch {
	case isHTTP(payload):
		b.http(root, payload, off)
	case t.proto == "tcp" && isTLS(payload):
		b.tls(root, payload, off)
	case isSSH(payload):
		b.ssh(root, payload, off)
	case t.proto == "udp" && t.port(443) && isQUIC(payload):
		b.quic(root, payload, off)
	case t.proto == "tcp" && t.anyPort(1883, 8883) && isMQTT(payload):
		b.mqtt(root, payload, off)
	case t.anyPort(5060, 5061) && isSIP(payload):
		b.sip(root, payload, off)
	case t.proto == "tcp" && t.port(502) && isModbus(payload):
		b.modbus(root, payload, off)
	case t.proto == "tcp" && t.port(3389) && isTPKT(payload):
		b.tpkt(root, payload, off)
	default:
		b.data(root, payload, off)
	}
}

// dnsNameEnd returns the offset just past the possibly compressed name at pos.
func dnsNameEnd(msg []byte, pos int) int {
	for pos < len(msg) {
		l := int(msg[pos])
		switch {
		case l == 0:
			return pos + 1
		case l&0xc0 == 0xc0:
			return pos + 2
		default:
			pos += 1 + l
		}
	}
	return len(msg)
}

func (b *builder) dns(parent *Node, dns *layers.DNS, msg []byte, off int) {
	kind := "query"
	if dns.QR {
		kind = "response"
	}
	n := b.proto(parent, "dns", fmt.Sprintf("Domain Name System (%s)", kind), b.frame, off, len(msg))
	b.field(n, "dns.id", "Transaction ID", fmt.Sprintf("0x%04x", dns.ID), b.frame, off, 2)
	flags := b.field(n, "dns.flags", "Flags", fmt.Sprintf("0x%04x", binary.BigEndian.Uint16(msg[2:4])), b.frame, off+2, 2)
	b.field(flags, "dns.flags.response", "Response", strconv.FormatBool(dns.QR), b.frame, off+2, 2)
	b.field(flags, "dns.flags.opcode", "Opcode", dns.OpCode.String(), b.frame, off+2, 2)
	b.field(flags, "dns.flags.rcode", "Reply code", dns.ResponseCode.String(), b.frame, off+2, 2)
	b.field(n, "dns.count.queries", "Questions", strconv.Itoa(int(dns.QDCount)), b.frame, off+4, 2)
	b.field(n, "dns.count.answers", "Answer RRs", strconv.Itoa(int(dns.ANCount)), b.frame, off+6, 2)
	b.field(n, "dns.count.auth_rr", "Authority RRs", strconv.Itoa(int(dns.NSCount)), b.frame, off+8, 2)
	b.field(n, "dns.count.add_rr", "Additional RRs", strconv.Itoa(int(dns.ARCount)), b.frame, off+10, 2)

	pos := 12
	if len(dns.Questions) > 0 {
		qs := b.text(n, "", "Queries")
		for _, q := range dns.Questions {
			end := dnsNameEnd(msg, pos)
			item := b.text(qs, "", fmt.Sprintf("%s: type %s, class %s", q.Name, q.Type, q.Class))
			b.field(item, "dns.qry.name", "Name", string(q.Name), b.frame, off+pos, end-pos)
			b.field(item, "dns.qry.type", "Type", q.Type.String(), b.frame, off+end, 2)
			b.field(item, "dns.qry.class", "Class", q.Class.String(), b.frame, off+end+2, 2)
			pos = end + 4
		}
	}
	if len(dns.Answers) > 0 {
		as := b.text(n, "", "Answers")
		for _, a := range dns.Answers {
			end := dnsNameEnd(msg, pos)
			item := b.text(as, "", fmt.Sprintf("%s: type %s, class %s", a.Name, a.Type, a.Class))
			b.field(item, "dns.resp.name", "Name", string(a.Name), b.frame, off+pos, end-pos)
			b.field(item, "dns.resp.type", "Type", a.Type.String(), b.frame, off+end, 2)
			b.field(item, "dns.resp.class", "Class", a.Class.String(), b.frame, off+end+2, 2)
			b.field(item, "dns.resp.ttl", "Time to live", strconv.FormatUint(uint64(a.TTL), 10), b.frame, off+end+4, 4)
			rdata := end + 10
			switch a.Type {
			case layers.DNSTypeA:
				b.field(item, "dns.a", "Address", a.IP.String(), b.frame, off+rdata, 4)
			case layers.DNSTypeAAAA:
				b.field(item, "dns.aaaa", "AAAA Address", a.IP.String(), b.frame, off+rdata, 16)
			case layers.DNSTypeCNAME:
				b.field(item, "dns.cname", "CNAME", string(a.CNAME), b.frame, off+rdata, int(a.DataLength))
			}
			pos = rdata + int(a.DataLength)
		}
	}

	var names []string
	for _, q := range dns.Questions {
		names = append(names, string(q.Name)+" "+q.Type.String())
	}
	info := "Standard query"
	if dns.QR {
		info = "Standard query response"
	}
	b.summary("DNS", "%s 0x%04x %s", info, dns.ID, strings.Join(names, " "))
}
