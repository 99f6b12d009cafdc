package document

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// BlobRef locates a value that was not inlined.
type BlobRef struct {
	Name   string
	Offset int
	Length int
}

// Entry is one field read back from a document.
type Entry struct {
	Key          string
	DisplayName  string
	DisplayValue string
	Value        []byte
	Blob         *BlobRef
	Children     []Entry
}

// Unmarshal parses a document produced by Marshal.
func Unmarshal(data []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse document")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, errors.New("document: expected a single YAML document")
	}
	return decodeList(doc.Content[0])
}

func decodeList(n *yaml.Node) ([]Entry, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, errors.Errorf("document: line %d: expected a sequence", n.Line)
	}
	entries := make([]Entry, 0, len(n.Content))
	for _, item := range n.Content {
		e, err := decodeEntry(item)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeEntry(n *yaml.Node) (Entry, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return Entry{}, errors.Errorf("document: line %d: expected a single-key mapping", n.Line)
	}
	key, err := scalar(n.Content[0])
	if err != nil {
		return Entry{}, errors.Wrapf(err, "document: line %d: key", n.Line)
	}
	e := Entry{Key: key}
	attrs := n.Content[1]
	if attrs.Kind != yaml.MappingNode {
		return Entry{}, errors.Errorf("document: line %d: attributes of %s are not a mapping", attrs.Line, e.Key)
	}

	for i := 0; i+1 < len(attrs.Content); i += 2 {
		key, val := attrs.Content[i].Value, attrs.Content[i+1]
		var err error
		switch key {
		case keyDisplayName:
			e.DisplayName, err = scalar(val)
		case keyDisplayValue:
			e.DisplayValue, err = scalar(val)
		case keyValue:
			e.Value, err = decodeBinary(val.Value)
		case keyValueBlobName:
			e.blobRef().Name, err = scalar(val)
		case keyValueBlobOffset:
			e.blobRef().Offset, err = strconv.Atoi(val.Value)
		case keyValueBlobLength:
			e.blobRef().Length, err = strconv.Atoi(val.Value)
		case keyChildren:
			e.Children, err = decodeList(val)
		}
		if err != nil {
			return Entry{}, errors.Wrapf(err, "document: field %s: %s", e.Key, key)
		}
	}
	return e, nil
}

// scalar returns the string held by n. Strings that were not valid UTF-8
// are written as !!binary.
func scalar(n *yaml.Node) (string, error) {
	if n.Tag == "!!binary" {
		b, err := decodeBinary(n.Value)
		return string(b), err
	}
	return n.Value, nil
}

func decodeBinary(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
}

func (e *Entry) blobRef() *BlobRef {
	if e.Blob == nil {
		e.Blob = &BlobRef{}
	}
	return e.Blob
}
