package dissect

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// TLS records are parsed by hand; gopacket's TLS layer does not decode
// handshake internals.

// clientHello holds the parts of a ClientHello needed for JA3.
type clientHello struct {
	SNI             string
	CipherSuites    []uint16
	Version         uint16
	Extensions      []uint16
	SupportedGroups []uint16
	ECPointFormats  []uint8
}

func isTLS(data []byte) bool {
	return len(data) >= 5 && data[0] >= 20 && data[0] <= 23 && data[1] == 3 && data[2] <= 4
}

func tlsContentType(t byte) string {
	switch t {
	case 20:
		return "Change Cipher Spec"
	case 21:
		return "Alert"
	case 22:
		return "Handshake"
	case 23:
		return "Application Data"
	default:
		return fmt.Sprintf("Unknown (%d)", t)
	}
}

func (b *builder) tls(parent *Node, data []byte, off int) {
	n := b.proto(parent, "tls", "Transport Layer Security", b.frame, off, len(data))
	var infos []string
	pos := 0
	for pos+5 <= len(data) {
		ct := data[pos]
		version := binary.BigEndian.Uint16(data[pos+1 : pos+3])
		length := int(binary.BigEndian.Uint16(data[pos+3 : pos+5]))
		recLen := 5 + length
		if pos+recLen > len(data) {
			recLen = len(data) - pos
		}
		rec := b.field(n, "tls.record", tlsVersionString(version)+" Record Layer", tlsContentType(ct)+" Protocol", b.frame, off+pos, recLen)
		b.field(rec, "tls.record.content_type", "Content Type", fmt.Sprintf("%s (%d)", tlsContentType(ct), ct), b.frame, off+pos, 1)
		b.field(rec, "tls.record.version", "Version", tlsVersionString(version), b.frame, off+pos+1, 2)
		b.field(rec, "tls.record.length", "Length", strconv.Itoa(length), b.frame, off+pos+3, 2)

		info := tlsContentType(ct)
		if ct == 22 && recLen > 9 && data[pos+5] == 0x01 {
			hello := b.clientHello(rec, data[pos+5:pos+recLen], off+pos+5)
			info = "Client Hello"
			if hello.SNI != "" {
				info += " (SNI=" + hello.SNI + ")"
			}
		}
		infos = append(infos, info)
		pos += recLen
	}
	b.summary("TLS", "%s", strings.Join(infos, ", "))
}

// clientHello decodes a handshake message of type ClientHello. hs starts at
// the handshake type byte, which sits at off in the frame.
func (b *builder) clientHello(parent *Node, hs []byte, off int) *clientHello {
	info := &clientHello{}
	h := b.field(parent, "tls.handshake", "Handshake Protocol", "Client Hello", b.frame, off, len(hs))
	b.field(h, "tls.handshake.type", "Handshake Type", "Client Hello (1)", b.frame, off, 1)
	if len(hs) < 4 {
		return info
	}
	b.field(h, "tls.handshake.length", "Length", strconv.Itoa(int(hs[1])<<16|int(hs[2])<<8|int(hs[3])), b.frame, off+1, 3)
	pos := 4

	if len(hs) < pos+2 {
		return info
	}
	info.Version = binary.BigEndian.Uint16(hs[pos : pos+2])
	b.field(h, "tls.handshake.version", "Version", tlsVersionString(info.Version), b.frame, off+pos, 2)
	pos += 2

	if len(hs) < pos+32 {
		return info
	}
	b.field(h, "tls.handshake.random", "Random", fmt.Sprintf("%x", hs[pos:pos+32]), b.frame, off+pos, 32)
	pos += 32

	if len(hs) < pos+1 {
		return info
	}
	sessionIDLen := int(hs[pos])
	b.field(h, "tls.handshake.session_id_length", "Session ID Length", strconv.Itoa(sessionIDLen), b.frame, off+pos, 1)
	pos++
	if len(hs) < pos+sessionIDLen {
		return info
	}
	if sessionIDLen > 0 {
		b.field(h, "tls.handshake.session_id", "Session ID", fmt.Sprintf("%x", hs[pos:pos+sessionIDLen]), b.frame, off+pos, sessionIDLen)
	}
	pos += sessionIDLen

	if len(hs) < pos+2 {
		return info
	}
	csLen := int(binary.BigEndian.Uint16(hs[pos : pos+2]))
	b.field(h, "tls.handshake.cipher_suites_length", "Cipher Suites Length", strconv.Itoa(csLen), b.frame, off+pos, 2)
	pos += 2
	if len(hs) < pos+csLen {
		csLen = len(hs) - pos
	}
	suites := b.text(h, "", fmt.Sprintf("Cipher Suites (%d suites)", csLen/2))
	for i := 0; i+1 < csLen; i += 2 {
		cs := binary.BigEndian.Uint16(hs[pos+i : pos+i+2])
		info.CipherSuites = append(info.CipherSuites, cs)
		b.field(suites, "tls.handshake.ciphersuite", "Cipher Suite", cipherSuiteName(cs), b.frame, off+pos+i, 2)
	}
	pos += csLen

	if len(hs) < pos+1 {
		return info
	}
	compLen := int(hs[pos])
	pos++
	if len(hs) < pos+compLen {
		return info
	}
	pos += compLen

	defer func() {
		if ja3 := computeJA3(info); ja3 != "" {
			b.text(h, "tls.handshake.ja3", ja3)
		}
	}()

	if len(hs) < pos+2 {
		return info
	}
	extLen := int(binary.BigEndian.Uint16(hs[pos : pos+2]))
	b.field(h, "tls.handshake.extensions_length", "Extensions Length", strconv.Itoa(extLen), b.frame, off+pos, 2)
	pos += 2
	extEnd := pos + extLen
	if extEnd > len(hs) {
		extEnd = len(hs)
	}

	for pos+4 <= extEnd {
		extType := binary.BigEndian.Uint16(hs[pos : pos+2])
		extDataLen := int(binary.BigEndian.Uint16(hs[pos+2 : pos+4]))
		if pos+4+extDataLen > extEnd {
			break
		}
		ext := b.field(h, "tls.handshake.extension.type", "Extension", strconv.Itoa(int(extType)), b.frame, off+pos, 4+extDataLen)
		pos += 4
		info.Extensions = append(info.Extensions, extType)
		extData := hs[pos : pos+extDataLen]

		switch {
		case extType == 0x0000 && extDataLen >= 5:
			nameLen := int(binary.BigEndian.Uint16(extData[3:5]))
			if 5+nameLen <= len(extData) {
				info.SNI = string(extData[5 : 5+nameLen])
				b.field(ext, "tls.handshake.extensions_server_name", "Server Name", info.SNI, b.frame, off+pos+5, nameLen)
			}
		case extType == 0x000a && extDataLen >= 2:
			listLen := int(binary.BigEndian.Uint16(extData[0:2]))
			for g := 2; g+1 < 2+listLen && g+1 < len(extData); g += 2 {
				group := binary.BigEndian.Uint16(extData[g : g+2])
				info.SupportedGroups = append(info.SupportedGroups, group)
				b.field(ext, "tls.handshake.extensions_supported_group", "Supported Group", fmt.Sprintf("0x%04x", group), b.frame, off+pos+g, 2)
			}
		case extType == 0x000b && extDataLen >= 1:
			fmtLen := int(extData[0])
			for j := 1; j <= fmtLen && j < len(extData); j++ {
				info.ECPointFormats = append(info.ECPointFormats, extData[j])
			}
		}
		pos += extDataLen
	}
	return info
}

// isGREASE returns true if the value is a GREASE value (RFC 8701).
func isGREASE(val uint16) bool {
	return (val & 0x0f0f) == 0x0a0a
}

// computeJA3 computes JA3 hash: MD5 of "version,ciphers,extensions,curves,formats"
func computeJA3(info *clientHello) string {
	if info == nil || info.Version == 0 {
		return ""
	}
	join := func(vals []uint16) string {
		var out []string
		for _, v := range vals {
			if !isGREASE(v) {
				out = append(out, strconv.Itoa(int(v)))
			}
		}
		return strings.Join(out, "-")
	}
	var formats []string
	for _, f := range info.ECPointFormats {
		formats = append(formats, strconv.Itoa(int(f)))
	}

	ja3String := fmt.Sprintf("%d,%s,%s,%s,%s",
		info.Version,
		join(info.CipherSuites),
		join(info.Extensions),
		join(info.SupportedGroups),
		strings.Join(formats, "-"),
	)
	hash := md5.Sum([]byte(ja3String))
	return fmt.Sprintf("%x", hash)
}

var cipherSuiteNames = map[uint16]string{
	0x1301: "TLS_AES_128_GCM_SHA256",
	0x1302: "TLS_AES_256_GCM_SHA384",
	0x1303: "TLS_CHACHA20_POLY1305_SHA256",
	0xc02c: "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384",
	0xc02b: "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	0xc030: "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	0xc02f: "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
	0xcca9: "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256",
	0xcca8: "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
	0xc014: "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA",
	0xc013: "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA",
	0x009d: "TLS_RSA_WITH_AES_256_GCM_SHA384",
	0x009c: "TLS_RSA_WITH_AES_128_GCM_SHA256",
	0x0035: "TLS_RSA_WITH_AES_256_CBC_SHA",
	0x002f: "TLS_RSA_WITH_AES_128_CBC_SHA",
	0x00ff: "TLS_EMPTY_RENEGOTIATION_INFO_SCSV",
}

func cipherSuiteName(cs uint16) string {
	if name, ok := cipherSuiteNames[cs]; ok {
		return fmt.Sprintf("%s (0x%04x)", name, cs)
	}
	return fmt.Sprintf("Unknown (0x%04x)", cs)
}

func tlsVersionString(v uint16) string {
	switch v {
	case 0x0300:
		return "SSL 3.0"
	case 0x0301:
		return "TLS 1.0"
	case 0x0302:
		return "TLS 1.1"
	case 0x0303:
		return "TLS 1.2"
	case 0x0304:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("0x%04x", v)
	}
}
