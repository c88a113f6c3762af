// Package wire serializes segments into real IPv4/TCP packet bytes and back.
// It lets the simulated engine exchange traffic in the same on-wire shape a
// kernel stack would produce, and gives tests a malformed-input surface.
package wire

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/FoCDoT-Tech/protocols-sub003/lib"
)

// TcpCodec encodes segments as IPv4+TCP packets via gopacket. The protocolID
// goes into the IPv4 Protocol field so captures are distinguishable from real
// TCP traffic when run over a shared medium.
type TcpCodec struct {
	protocolID uint8
}

// NewTcpCodec returns a codec stamping packets with the given IP protocol
// number.
func NewTcpCodec(protocolID uint8) *TcpCodec {
	return &TcpCodec{protocolID: protocolID}
}

// Encode serializes a segment into raw IPv4/TCP packet bytes.
func (c *TcpCodec) Encode(seg *lib.Segment) ([]byte, error) {
	srcIP := addrIP(seg.SrcAddr)
	dstIP := addrIP(seg.DestAddr)
	if srcIP == nil || dstIP == nil {
		return nil, fmt.Errorf("wire: segment is missing source or destination address")
	}

	ipLayer := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocol(c.protocolID),
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}

	tcpLayer := &layers.TCP{
		SrcPort:    layers.TCPPort(seg.SourcePort),
		DstPort:    layers.TCPPort(seg.DestinationPort),
		Seq:        seg.SequenceNumber,
		Ack:        seg.AcknowledgmentNum,
		Window:     seg.WindowSize,
		SYN:        seg.Flags&lib.SYNFlag != 0,
		ACK:        seg.Flags&lib.ACKFlag != 0,
		FIN:        seg.Flags&lib.FINFlag != 0,
		DataOffset: 5,
	}
	if err := tcpLayer.SetNetworkLayerForChecksum(ipLayer); err != nil {
		return nil, fmt.Errorf("wire: checksum setup: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ipLayer, tcpLayer, gopacket.Payload(seg.Payload)); err != nil {
		return nil, fmt.Errorf("wire: serialize: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses raw IPv4/TCP packet bytes back into a segment. Packets that
// do not carry a well-formed TCP layer, or whose flag combination is not one
// the engine generates, are rejected.
func (c *TcpCodec) Decode(data []byte) (*lib.Segment, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)
	if err := packet.ErrorLayer(); err != nil {
		return nil, fmt.Errorf("wire: malformed packet: %v", err.Error())
	}

	ipRaw := packet.Layer(layers.LayerTypeIPv4)
	if ipRaw == nil {
		return nil, fmt.Errorf("wire: packet has no IPv4 layer")
	}
	ipLayer := ipRaw.(*layers.IPv4)
	if uint8(ipLayer.Protocol) != c.protocolID {
		return nil, fmt.Errorf("wire: unexpected IP protocol %d", ipLayer.Protocol)
	}

	// decode the transport header explicitly: with a custom protocol
	// number gopacket will not chain into the TCP decoder on its own
	tcpLayer := &layers.TCP{}
	if err := tcpLayer.DecodeFromBytes(ipLayer.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("wire: malformed transport header: %w", err)
	}

	var flags uint8
	if tcpLayer.SYN {
		flags |= lib.SYNFlag
	}
	if tcpLayer.ACK {
		flags |= lib.ACKFlag
	}
	if tcpLayer.FIN {
		flags |= lib.FINFlag
	}
	if !lib.ValidFlags(flags) {
		return nil, fmt.Errorf("wire: unsupported flag combination %#02x", flags)
	}

	payload := tcpLayer.Payload
	body := make([]byte, len(payload))
	copy(body, payload)

	seg := &lib.Segment{
		SrcAddr:           &net.IPAddr{IP: ipLayer.SrcIP},
		DestAddr:          &net.IPAddr{IP: ipLayer.DstIP},
		SourcePort:        uint16(tcpLayer.SrcPort),
		DestinationPort:   uint16(tcpLayer.DstPort),
		SequenceNumber:    tcpLayer.Seq,
		AcknowledgmentNum: tcpLayer.Ack,
		WindowSize:        tcpLayer.Window,
		Flags:             flags,
		Payload:           body,
	}
	return seg, nil
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP.To4()
	case *net.TCPAddr:
		return a.IP.To4()
	default:
		return nil
	}
}
