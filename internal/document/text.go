package document

import (
	"fmt"
	"io"
	"strings"

	"capdissector/internal/field"
)

// WriteText prints the field tree of idx, one field per line, indented by
// depth.
func WriteText(w io.Writer, idx *field.Index) error {
	var walk func(depth int) field.Visitor
	walk = func(depth int) field.Visitor {
		return func(f *field.Field) error {
			line := strings.Repeat("  ", depth) + f.Key()
			if f.DisplayName != "" {
				line += " (" + f.DisplayName + ")"
			}
			if f.DisplayValue != "" {
				line += ": " + f.DisplayValue
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
			return idx.EachChild(f, walk(depth+1))
		}
	}
	return idx.EachRootField(walk(1))
}

// HexDump formats data as offset, hex bytes and printable ASCII, 16 bytes
// per line.
func HexDump(data []byte) string {
	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		fmt.Fprintf(&sb, "%04x  ", offset)

		end := offset + 16
		if end > len(data) {
			end = len(data)
		}
		for i := offset; i < offset+16; i++ {
			if i < end {
				fmt.Fprintf(&sb, "%02x ", data[i])
			} else {
				sb.WriteString("   ")
			}
			if i == offset+7 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(" |")

		for i := offset; i < end; i++ {
			b := data[i]
			if b >= 0x20 && b <= 0x7e {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}
	return sb.String()
}
