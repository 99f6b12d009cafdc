package capture

import (
	"io"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

const (
	DefaultSnapLen = 65535
	DefaultTimeout = 100 * time.Millisecond
)

// LiveCapture reads frames from a network interface.
type LiveCapture struct {
	handle *pcap.Handle
	iface  string
	count  int
}

// InterfaceInfo describes a network interface.
type InterfaceInfo struct {
	Name        string
	Description string
	Addresses   []string
}

// ListInterfaces returns all available capture interfaces.
func ListInterfaces() ([]InterfaceInfo, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, errors.Wrap(err, "list interfaces")
	}
	var out []InterfaceInfo
	for _, d := range devs {
		info := InterfaceInfo{
			Name:        d.Name,
			Description: d.Description,
		}
		for _, addr := range d.Addresses {
			info.Addresses = append(info.Addresses, addr.IP.String())
		}
		out = append(out, info)
	}
	return out, nil
}

// NewLiveCapture opens a live capture on the given interface.
func NewLiveCapture(iface, bpfFilter string, snapLen int) (*LiveCapture, error) {
	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	handle, err := pcap.OpenLive(iface, int32(snapLen), true, DefaultTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "open live capture on %s", iface)
	}
	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, errors.Wrapf(err, "set BPF filter %q", bpfFilter)
		}
	}
	if !Supported(handle.LinkType()) {
		lt := handle.LinkType()
		handle.Close()
		return nil, &CapFileError{Kind: UnsupportedEncap, Filename: iface, Detail: lt.String()}
	}
	return &LiveCapture{handle: handle, iface: iface}, nil
}

// Next blocks until a frame arrives. Read timeouts are retried; ok is false
// once the handle has been closed.
func (lc *LiveCapture) Next() (Frame, bool, error) {
	for {
		data, ci, err := lc.handle.ReadPacketData()
		switch {
		case err == nil:
			lc.count++
			return Frame{
				Number:        lc.count,
				Timestamp:     ci.Timestamp,
				CaptureLength: ci.CaptureLength,
				Length:        ci.Length,
				LinkType:      lc.handle.LinkType(),
				Data:          data,
			}, true, nil
		case err == pcap.NextErrorTimeoutExpired:
			continue
		case err == io.EOF, err == pcap.NextErrorNoMorePackets:
			return Frame{}, false, nil
		default:
			return Frame{}, false, &CapFileError{Kind: Other, Filename: lc.iface, Detail: err.Error(), Err: err}
		}
	}
}

// LinkType returns the link layer type of the interface.
func (lc *LiveCapture) LinkType() layers.LinkType {
	return lc.handle.LinkType()
}

// Interface returns the interface name.
func (lc *LiveCapture) Interface() string {
	return lc.iface
}

// Stats returns capture statistics.
func (lc *LiveCapture) Stats() (received, dropped int, err error) {
	stats, err := lc.handle.Stats()
	if err != nil {
		return 0, 0, err
	}
	return stats.PacketsReceived, stats.PacketsDropped, nil
}

// Close stops the capture.
func (lc *LiveCapture) Close() error {
	if lc.handle != nil {
		lc.handle.Close()
	}
	return nil
}
