package dissect

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// columns builds the summary line of a frame: relative time, network
// addresses (falling back to link addresses), the highest recognized
// protocol and its info string.
func (b *builder) columns(pkt gopacket.Packet, rel time.Duration) *Columns {
	c := &Columns{
		Timestamp: fmt.Sprintf("%.6f", rel.Seconds()),
		Protocol:  b.protocol,
		Info:      b.info,
	}

	switch {
	case pkt.Layer(layers.LayerTypeIPv4) != nil:
		ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		c.Source, c.Destination = ip.SrcIP.String(), ip.DstIP.String()
	case pkt.Layer(layers.LayerTypeIPv6) != nil:
		ip := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		c.Source, c.Destination = ip.SrcIP.String(), ip.DstIP.String()
	case pkt.Layer(layers.LayerTypeARP) != nil:
		arp := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
		c.Source = net.HardwareAddr(arp.SourceHwAddress).String()
		c.Destination = "Broadcast"
		if arp.Operation == layers.ARPReply {
			c.Destination = net.HardwareAddr(arp.DstHwAddress).String()
		}
	case pkt.Layer(layers.LayerTypeEthernet) != nil:
		eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
		c.Source, c.Destination = eth.SrcMAC.String(), eth.DstMAC.String()
	}

	if c.Protocol == "" {
		switch {
		case pkt.Layer(layers.LayerTypeIPv6) != nil:
			c.Protocol = "IPv6"
		case pkt.Layer(layers.LayerTypeIPv4) != nil:
			c.Protocol = "IPv4"
		case pkt.Layer(layers.LayerTypeEthernet) != nil:
			c.Protocol = "Ethernet"
		default:
			c.Protocol = "Unknown"
		}
	}
	return c
}
