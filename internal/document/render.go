// Package document renders an indexed frame as a YAML document and reads
// such documents back.
//
// A document is a sequence of single-key mappings, one per first-level
// field. The key is the field name (or <Field#ordinal> when the field has
// none) and the value holds the field's attributes:
//
//	- eth:
//	    display_name: Ethernet II, Src: 00:11:22:33:44:55, Dst: 66:77:88:99:aa:bb
//	    children:
//	      - eth.dst:
//	          display_name: Destination
//	          display_value: 66:77:88:99:aa:bb
//	          value: !!binary ZneImaq7
//
// Values longer than field.MaxInlineValueLength are not inlined; they are
// written as value_blob_name, value_blob_offset and value_blob_length.
package document

import (
	"bytes"
	"encoding/base64"
	"strconv"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"capdissector/internal/blob"
	"capdissector/internal/field"
)

const (
	keyDisplayName     = "display_name"
	keyDisplayValue    = "display_value"
	keyValue           = "value"
	keyValueBlobName   = "value_blob_name"
	keyValueBlobOffset = "value_blob_offset"
	keyValueBlobLength = "value_blob_length"
	keyChildren        = "children"
)

// BlobResolver finds the blob that holds a field's bytes.
type BlobResolver interface {
	ForField(f *field.Field) (*blob.Blob, error)
}

// Render builds the YAML document of idx. blobs is consulted only for
// values too long to inline.
func Render(idx *field.Index, blobs BlobResolver) (*yaml.Node, error) {
	seq, err := renderList(idx, blobs, idx.EachRootField)
	if err != nil {
		return nil, err
	}
	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{seq}}, nil
}

// Marshal renders idx and encodes it as YAML text.
func Marshal(idx *field.Index, blobs BlobResolver) ([]byte, error) {
	doc, err := Render(idx, blobs)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	return buf.Bytes(), nil
}

func renderList(idx *field.Index, blobs BlobResolver, each func(field.Visitor) error) (*yaml.Node, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	err := each(func(f *field.Field) error {
		n, err := renderField(idx, blobs, f)
		if err != nil {
			return err
		}
		seq.Content = append(seq.Content, n)
		return nil
	})
	return seq, err
}

func renderField(idx *field.Index, blobs BlobResolver, f *field.Field) (*yaml.Node, error) {
	attrs := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		attrs.Content = append(attrs.Content, str(key), value)
	}

	if f.DisplayName != "" {
		add(keyDisplayName, str(f.DisplayName))
	}
	if f.DisplayValue != "" {
		add(keyDisplayValue, str(f.DisplayValue))
	}
	if f.HasValue() {
		if f.ValueLength() <= field.MaxInlineValueLength {
			add(keyValue, binary(f.Value))
		} else {
			if blobs == nil {
				return nil, errors.Wrapf(field.ErrInvalidArgument, "field %s needs a blob resolver", f)
			}
			b, err := blobs.ForField(f)
			if err != nil {
				return nil, err
			}
			add(keyValueBlobName, str(b.Name))
			add(keyValueBlobOffset, integer(f.Offset))
			add(keyValueBlobLength, integer(f.Length))
		}
	}
	if idx.HasChildren(f) {
		children, err := renderList(idx, blobs, func(fn field.Visitor) error {
			return idx.EachChild(f, fn)
		})
		if err != nil {
			return nil, err
		}
		add(keyChildren, children)
	}

	return &yaml.Node{
		Kind:    yaml.MappingNode,
		Content: []*yaml.Node{str(f.Key()), attrs},
	}, nil
}

// str returns a string scalar. Strings that are not valid UTF-8 cannot be
// written as !!str; they are written as !!binary and read back unchanged.
func str(s string) *yaml.Node {
	if !utf8.ValidString(s) {
		return binary([]byte(s))
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func binary(b []byte) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!binary", Value: base64.StdEncoding.EncodeToString(b)}
}

func integer(i int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(i)}
}
