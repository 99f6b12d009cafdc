package dissect

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// builder accumulates the nodes of one tree while the frame is decoded.
type builder struct {
	tree  *Tree
	frame *DataSource

	// Set by the highest decoder that recognized the frame; used for the
	// protocol and info columns.
	protocol string
	info     string
}

func newBuilder(data []byte) *builder {
	t := NewTree()
	return &builder{tree: t, frame: t.AddSource("frame", data)}
}

// span clamps [off, off+length) to the bounds of src.
func span(src *DataSource, off, length int) (int, int) {
	if src == nil || off < 0 || off > len(src.Data) {
		return 0, 0
	}
	if length < 0 || off+length > len(src.Data) {
		length = len(src.Data) - off
	}
	return off, length
}

// proto adds a protocol node. Protocol nodes never carry a value.
func (b *builder) proto(parent *Node, name, displayName string, src *DataSource, off, length int) *Node {
	off, length = span(src, off, length)
	return parent.Append(&Node{
		Name:        name,
		DisplayName: formatText(displayName),
		Protocol:    true,
		Offset:      off,
		Length:      length,
		Source:      src,
	})
}

// field adds a node whose value is the bytes it covers in src.
func (b *builder) field(parent *Node, name, displayName, displayValue string, src *DataSource, off, length int) *Node {
	n := &Node{Name: name, DisplayName: formatText(displayName), DisplayValue: formatText(displayValue)}
	off, length = span(src, off, length)
	if length > 0 {
		n.Source = src
		n.Offset = off
		n.Length = length
		n.Value = src.Data[off : off+length]
	}
	return parent.Append(n)
}

// text adds a label without a value, such as a subtree heading.
func (b *builder) text(parent *Node, name, label string) *Node {
	return parent.Append(&Node{Name: name, DisplayValue: formatText(label)})
}

func (b *builder) summary(protocol, format string, args ...interface{}) {
	b.protocol = protocol
	b.info = formatText(fmt.Sprintf(format, args...))
}

// protocols returns the colon separated protocol stack, as in frame.protocols.
func (b *builder) protocols() string {
	var names []string
	for _, n := range b.tree.Root.Children {
		if n.Protocol && n.Name != "frame" {
			names = append(names, n.Name)
		}
	}
	return strings.Join(names, ":")
}

// formatText makes wire text printable: control characters and bytes that
// are not valid UTF-8 are written as C escapes (\r, \n, \xNN).
func formatText(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x20 || c >= 0x7f {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var sb strings.Builder
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&sb, "\\x%02x", s[i])
		case r == '\a':
			sb.WriteString(`\a`)
		case r == '\b':
			sb.WriteString(`\b`)
		case r == '\f':
			sb.WriteString(`\f`)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r == '\v':
			sb.WriteString(`\v`)
		case r < 0x80 && !unicode.IsPrint(r):
			fmt.Fprintf(&sb, "\\x%02x", r)
		case !unicode.IsPrint(r):
			fmt.Fprintf(&sb, "\\u%04x", r)
		default:
			sb.WriteRune(r)
		}
		i += size
	}
	return sb.String()
}
