package dissect

import (
	"bytes"
	"fmt"
	"io"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

var httpMethods = []string{"GET ", "POST", "PUT ", "DELE", "HEAD", "PATC", "OPTI", "CONN", "TRAC"}

func isHTTP(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	s := string(data[:4])
	if s == "HTTP" {
		return len(data) >= 8 && string(data[:7]) == "HTTP/1."
	}
	for _, m := range httpMethods {
		if s == m {
			return true
		}
	}
	return false
}

// httpHeaderFields maps canonical header names to their field names.
var httpHeaderFields = map[string]string{
	"Host":              "http.host",
	"User-Agent":        "http.user_agent",
	"Accept":            "http.accept",
	"Accept-Encoding":   "http.accept_encoding",
	"Connection":        "http.connection",
	"Content-Type":      "http.content_type",
	"Content-Length":    "http.content_length_header",
	"Content-Encoding":  "http.content_encoding",
	"Transfer-Encoding": "http.transfer_encoding",
	"Cookie":            "http.cookie",
	"Set-Cookie":        "http.set_cookie",
	"Server":            "http.server",
	"Location":          "http.location",
	"Referer":           "http.referer",
	"Authorization":     "http.authorization",
}

// line returns the CRLF terminated line starting at pos, and the position
// after its terminator.
func line(data []byte, pos int) (string, int, bool) {
	i := bytes.Index(data[pos:], []byte("\r\n"))
	if i < 0 {
		return string(data[pos:]), len(data), false
	}
	return string(data[pos : pos+i]), pos + i + 2, true
}

func (b *builder) http(parent *Node, data []byte, off int) {
	n := b.proto(parent, "http", "Hypertext Transfer Protocol", b.frame, off, len(data))

	first, pos, _ := line(data, 0)
	fl := b.field(n, "", first+`\r\n`, "", b.frame, off, pos)
	parts := strings.SplitN(first, " ", 3)
	isResponse := strings.HasPrefix(first, "HTTP/")
	if len(parts) == 3 {
		p0, p1 := len(parts[0]), len(parts[0])+1+len(parts[1])
		if isResponse {
			b.field(fl, "http.response.version", "Response Version", parts[0], b.frame, off, p0)
			b.field(fl, "http.response.code", "Status Code", parts[1], b.frame, off+p0+1, len(parts[1]))
			b.field(fl, "http.response.phrase", "Response Phrase", parts[2], b.frame, off+p1+1, len(parts[2]))
			b.text(n, "http.response", "True")
		} else {
			b.field(fl, "http.request.method", "Request Method", parts[0], b.frame, off, p0)
			b.field(fl, "http.request.uri", "Request URI", parts[1], b.frame, off+p0+1, len(parts[1]))
			b.field(fl, "http.request.version", "Request Version", parts[2], b.frame, off+p1+1, len(parts[2]))
			b.text(n, "http.request", "True")
		}
	}
	b.summary("HTTP", "%s", first)

	var chunked bool
	var encoding string
	headerEnd := -1
	for pos < len(data) {
		start := pos
		text, next, complete := line(data, pos)
		pos = next
		if text == "" && complete {
			headerEnd = pos
			break
		}
		name, value, ok := strings.Cut(text, ":")
		if !ok {
			continue
		}
		name = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		fieldName := httpHeaderFields[name]
		if fieldName == "" {
			fieldName = "http.request.line"
			if isResponse {
				fieldName = "http.response.line"
			}
		}
		b.field(n, fieldName, name, value, b.frame, off+start, next-start)

		switch name {
		case "Transfer-Encoding":
			chunked = strings.EqualFold(value, "chunked")
		case "Content-Encoding":
			encoding = strings.ToLower(value)
		}
	}
	if headerEnd < 0 || headerEnd >= len(data) {
		return
	}
	b.field(n, "", `\r\n`, "", b.frame, off+headerEnd-2, 2)

	body := data[headerEnd:]
	src, bodyOff := b.frame, off+headerEnd
	if chunked {
		if plain, err := io.ReadAll(httputil.NewChunkedReader(bytes.NewReader(body))); err == nil || len(plain) > 0 {
			src, bodyOff = b.tree.AddSource("De-chunked entity body", plain), 0
			b.field(n, "http.transfer_encoding.chunked", "HTTP chunked response", fmt.Sprintf("%d bytes", len(plain)), b.frame, off+headerEnd, len(body))
			body = plain
		}
	}
	if encoding == "gzip" || encoding == "x-gzip" {
		if plain, err := gunzip(body); err == nil {
			ce := b.field(n, "http.content_encoded_entity", "Content-encoded entity body (gzip)",
				fmt.Sprintf("%d bytes -> %d bytes", len(body), len(plain)), src, bodyOff, len(body))
			src, bodyOff = b.tree.AddSource("Uncompressed entity body", plain), 0
			body = plain
			b.text(ce, "", "Uncompressed entity body")
		}
	}
	if len(body) > 0 {
		b.field(n, "http.file_data", "File Data", strconv.Itoa(len(body))+" bytes", src, bodyOff, len(body))
	}
}

// MaxUncompressedBody bounds the size of a decompressed HTTP body. Bodies
// that inflate past it are left compressed.
const MaxUncompressedBody = 16 << 20

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	plain, err := io.ReadAll(io.LimitReader(zr, MaxUncompressedBody+1))
	if err != nil {
		return nil, err
	}
	if len(plain) > MaxUncompressedBody {
		return nil, errors.Errorf("gzip body exceeds %d bytes", MaxUncompressedBody)
	}
	return plain, nil
}
