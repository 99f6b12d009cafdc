package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const pcapngMagic = 0x0A0D0D0A

// Frame is one raw record from a capture source plus its capture metadata.
type Frame struct {
	Number        int
	Timestamp     time.Time
	CaptureLength int
	Length        int
	LinkType      layers.LinkType
	Data          []byte
}

// Source yields frames in file order. Next returns ok == false with a nil
// error once the source is exhausted.
type Source interface {
	Next() (Frame, bool, error)
	LinkType() layers.LinkType
	Close() error
}

type packetDataReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// supportedLinkTypes lists the encapsulations the dissector can decode.
var supportedLinkTypes = map[layers.LinkType]bool{
	layers.LinkTypeNull:     true,
	layers.LinkTypeEthernet: true,
	layers.LinkTypeRaw:      true,
	layers.LinkTypeLoop:     true,
	layers.LinkTypeLinuxSLL: true,
	layers.LinkTypeIPv4:     true,
	layers.LinkTypeIPv6:     true,
}

// Supported reports whether frames of the given link type can be dissected.
func Supported(lt layers.LinkType) bool {
	return supportedLinkTypes[lt]
}

// trackingReader remembers the first non-EOF error of the underlying reader
// so that I/O failures can be told apart from malformed records.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

// Reader reads frames from a pcap or pcapng file.
type Reader struct {
	name     string
	closer   io.Closer
	tr       *trackingReader
	src      packetDataReader
	linkType layers.LinkType
	count    int
	done     bool
}

// Open opens a capture file for reading. The format is detected from the
// file's magic number.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CapFileError{Kind: ReadFailure, Filename: path, Detail: err.Error(), Err: err}
	}
	r, err := NewReader(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads a capture from r. name is only used in error messages.
func NewReader(name string, r io.Reader) (*Reader, error) {
	tr := &trackingReader{r: r}
	br := bufio.NewReader(tr)
	magic, err := br.Peek(4)
	if err != nil {
		if tr.err != nil {
			return nil, classify(name, err, tr.err)
		}
		return nil, &CapFileError{Kind: Other, Filename: name, Detail: "file is too short to be a capture file", Err: err}
	}

	rd := &Reader{name: name, tr: tr}
	if binary.BigEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, classify(name, err, tr.err)
		}
		rd.src = ng
		rd.linkType = ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, classify(name, err, tr.err)
		}
		rd.src = pr
		rd.linkType = pr.LinkType()
	}
	return rd, nil
}

// Next returns the next frame. End of file is reported as ok == false with
// a nil error; a record cut short is a ShortRead error.
func (r *Reader) Next() (Frame, bool, error) {
	if r.done {
		return Frame{}, false, nil
	}
	data, ci, err := r.src.ReadPacketData()
	if err != nil {
		if err == io.EOF && r.tr.err == nil {
			r.done = true
			return Frame{}, false, nil
		}
		return Frame{}, false, classify(r.name, err, r.tr.err)
	}
	if !Supported(r.linkType) {
		return Frame{}, false, &CapFileError{
			Kind:     UnsupportedEncap,
			Filename: r.name,
			Detail:   fmt.Sprintf("link type %d (%s)", int(r.linkType), r.linkType),
		}
	}
	r.count++
	return Frame{
		Number:        r.count,
		Timestamp:     ci.Timestamp,
		CaptureLength: ci.CaptureLength,
		Length:        ci.Length,
		LinkType:      r.linkType,
		Data:          data,
	}, true, nil
}

// LinkType returns the link layer type of the file.
func (r *Reader) LinkType() layers.LinkType {
	return r.linkType
}

// Name returns the name used in error messages.
func (r *Reader) Name() string {
	return r.name
}

// Close releases the file.
func (r *Reader) Close() error {
	r.done = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
