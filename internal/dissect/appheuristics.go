package dissect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Heuristic decoders for application protocols that gopacket does not
// decode. Each isX check is cheap; the decoder runs only when it matches.

// ==================== SSH ====================

func isSSH(data []byte) bool {
	return len(data) >= 4 && bytes.HasPrefix(data, []byte("SSH-"))
}

func (b *builder) ssh(parent *Node, data []byte, off int) {
	n := b.proto(parent, "ssh", "SSH Protocol", b.frame, off, len(data))
	version, next := string(data), len(data)
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		version, next = strings.TrimRight(string(data[:i]), "\r"), i+1
	}
	pv := b.field(n, "ssh.protocol", "Protocol", version, b.frame, off, next)
	if parts := strings.SplitN(version, "-", 3); len(parts) == 3 {
		b.text(pv, "ssh.protoversion", parts[1])
		b.text(pv, "ssh.softwareversion", parts[2])
	}
	b.summary("SSH", "Protocol (%s)", version)
}

// ==================== QUIC ====================

func isQUIC(data []byte) bool {
	return len(data) >= 6 && (data[0]&0x80) != 0
}

func (b *builder) quic(parent *Node, data []byte, off int) {
	n := b.proto(parent, "quic", "QUIC IETF", b.frame, off, len(data))
	b.field(n, "quic.header_form", "Header Form", "Long Header (1)", b.frame, off, 1)
	version := binary.BigEndian.Uint32(data[1:5])
	b.field(n, "quic.version", "Version", quicVersionString(version), b.frame, off+1, 4)
	dcil := int(data[5])
	b.field(n, "quic.dcil", "Destination Connection ID Length", strconv.Itoa(dcil), b.frame, off+5, 1)
	if dcil > 0 && len(data) >= 6+dcil {
		b.field(n, "quic.dcid", "Destination Connection ID", fmt.Sprintf("%x", data[6:6+dcil]), b.frame, off+6, dcil)
	}
	b.summary("QUIC", "Initial, DCID=%x", truncate(data[6:], dcil))
}

func quicVersionString(v uint32) string {
	switch v {
	case 0x00000001:
		return "1"
	case 0x6b3343cf:
		return "2"
	case 0:
		return "Version Negotiation"
	default:
		return fmt.Sprintf("0x%08x", v)
	}
}

// ==================== MQTT ====================

func isMQTT(data []byte) bool {
	return len(data) >= 10 && data[0] == 0x10 && bytes.Contains(data[:10], []byte("MQTT"))
}

func (b *builder) mqtt(parent *Node, data []byte, off int) {
	n := b.proto(parent, "mqtt", "MQ Telemetry Transport Protocol, Connect Command", b.frame, off, len(data))
	hdr := b.field(n, "mqtt.hdrflags", "Header Flags", fmt.Sprintf("0x%02x", data[0]), b.frame, off, 1)
	b.field(hdr, "mqtt.msgtype", "Message Type", "Connect Command (1)", b.frame, off, 1)

	idx := bytes.Index(data, []byte("MQTT"))
	if idx >= 2 {
		b.field(n, "mqtt.proto_len", "Protocol Name Length", "4", b.frame, off+idx-2, 2)
		b.field(n, "mqtt.proto_name", "Protocol Name", "MQTT", b.frame, off+idx, 4)
	}
	if idx >= 0 && idx+5 < len(data) {
		b.field(n, "mqtt.ver", "Version", strconv.Itoa(int(data[idx+4])), b.frame, off+idx+4, 1)
		flags := data[idx+5]
		var parts []string
		for _, f := range []struct {
			bit   byte
			label string
		}{
			{0x80, "Username"}, {0x40, "Password"}, {0x04, "Will"}, {0x02, "Clean Session"},
		} {
			if flags&f.bit != 0 {
				parts = append(parts, f.label)
			}
		}
		b.field(n, "mqtt.conflags", "Connect Flags", fmt.Sprintf("0x%02x [%s]", flags, strings.Join(parts, ", ")), b.frame, off+idx+5, 1)
	}
	b.summary("MQTT", "Connect Command")
}

// ==================== SIP ====================

var sipPrefixes = []string{
	"SIP/", "INVITE ", "REGISTER", "ACK ", "BYE ", "CANCEL ", "OPTIONS ", "PRACK ",
	"NOTIFY ", "PUBLISH ", "INFO ", "REFER ", "MESSAGE ", "UPDATE ", "SUBSCRI",
}

func isSIP(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	s := string(truncate(data, 8))
	for _, p := range sipPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

var sipHeaderFields = map[string]string{
	"Call-ID": "sip.Call-ID",
	"i":       "sip.Call-ID",
	"From":    "sip.from",
	"f":       "sip.from",
	"To":      "sip.to",
	"t":       "sip.to",
	"Via":     "sip.Via",
	"v":       "sip.Via",
	"CSeq":    "sip.CSeq",
}

func (b *builder) sip(parent *Node, data []byte, off int) {
	n := b.proto(parent, "sip", "Session Initiation Protocol", b.frame, off, len(data))
	first, pos, _ := line(data, 0)
	if strings.HasPrefix(first, "SIP/") {
		sl := b.field(n, "sip.Status-Line", "Status-Line", first, b.frame, off, pos)
		if parts := strings.SplitN(first, " ", 3); len(parts) >= 2 {
			b.text(sl, "sip.Status-Code", parts[1])
		}
	} else {
		rl := b.field(n, "sip.Request-Line", "Request-Line", first, b.frame, off, pos)
		if parts := strings.SplitN(first, " ", 3); len(parts) >= 2 {
			b.field(rl, "sip.Method", "Method", parts[0], b.frame, off, len(parts[0]))
			b.field(rl, "sip.r-uri", "Request-URI", parts[1], b.frame, off+len(parts[0])+1, len(parts[1]))
		}
	}
	hdrs := b.text(n, "sip.msg_hdr", "Message Header")
	for pos < len(data) {
		start := pos
		text, next, complete := line(data, pos)
		pos = next
		if text == "" && complete {
			break
		}
		name, value, ok := strings.Cut(text, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if fieldName, known := sipHeaderFields[name]; known {
			b.field(hdrs, fieldName, name, strings.TrimSpace(value), b.frame, off+start, next-start)
		}
	}
	b.summary("SIP", "%s", first)
}

// ==================== Modbus/TCP ====================

func isModbus(data []byte) bool {
	return len(data) >= 8 && data[2] == 0 && data[3] == 0
}

func (b *builder) modbus(parent *Node, data []byte, off int) {
	n := b.proto(parent, "mbtcp", "Modbus/TCP", b.frame, off, 7)
	b.field(n, "mbtcp.trans_id", "Transaction Identifier", strconv.Itoa(int(binary.BigEndian.Uint16(data[0:2]))), b.frame, off, 2)
	b.field(n, "mbtcp.prot_id", "Protocol Identifier", "0", b.frame, off+2, 2)
	b.field(n, "mbtcp.len", "Length", strconv.Itoa(int(binary.BigEndian.Uint16(data[4:6]))), b.frame, off+4, 2)
	b.field(n, "mbtcp.unit_id", "Unit Identifier", strconv.Itoa(int(data[6])), b.frame, off+6, 1)

	fc := data[7]
	m := b.proto(parent, "modbus", "Modbus", b.frame, off+7, len(data)-7)
	b.field(m, "modbus.func_code", "Function Code", fmt.Sprintf("%s (%d)", modbusFunction(fc), fc), b.frame, off+7, 1)
	if len(data) > 8 {
		b.field(m, "modbus.data", "Data", fmt.Sprintf("%x", truncate(data[8:], 32)), b.frame, off+8, len(data)-8)
	}
	b.summary("Modbus/TCP", "Query: Trans: %d; Unit: %d, Func: %d: %s",
		binary.BigEndian.Uint16(data[0:2]), data[6], fc, modbusFunction(fc))
}

func modbusFunction(fc byte) string {
	switch fc {
	case 1:
		return "Read Coils"
	case 2:
		return "Read Discrete Inputs"
	case 3:
		return "Read Holding Registers"
	case 4:
		return "Read Input Registers"
	case 5:
		return "Write Single Coil"
	case 6:
		return "Write Single Register"
	case 15:
		return "Write Multiple Coils"
	case 16:
		return "Write Multiple Registers"
	default:
		return "Unknown"
	}
}

// ==================== TPKT / COTP ====================

func isTPKT(data []byte) bool {
	return len(data) >= 4 && data[0] == 3 && data[1] == 0
}

func (b *builder) tpkt(parent *Node, data []byte, off int) {
	n := b.proto(parent, "tpkt", "TPKT, Version: 3", b.frame, off, 4)
	b.field(n, "tpkt.version", "Version", strconv.Itoa(int(data[0])), b.frame, off, 1)
	b.field(n, "tpkt.length", "Length", strconv.Itoa(int(binary.BigEndian.Uint16(data[2:4]))), b.frame, off+2, 2)

	pdu := "TPKT Continuation"
	if len(data) >= 6 {
		c := b.proto(parent, "cotp", "ISO 8073/X.224 COTP Connection-Oriented Transport Protocol", b.frame, off+4, len(data)-4)
		b.field(c, "cotp.li", "Length", strconv.Itoa(int(data[4])), b.frame, off+4, 1)
		pdu = cotpPDUType(data[5])
		b.field(c, "cotp.type", "PDU Type", fmt.Sprintf("%s (0x%02x)", pdu, data[5]), b.frame, off+5, 1)
	}
	b.summary("COTP", "%s", pdu)
}

func cotpPDUType(t byte) string {
	switch t & 0xf0 {
	case 0xe0:
		return "CR Connect Request"
	case 0xd0:
		return "CC Connect Confirm"
	case 0x80:
		return "DR Disconnect Request"
	case 0xf0:
		return "DT Data"
	default:
		return "Unknown"
	}
}
