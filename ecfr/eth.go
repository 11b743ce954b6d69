package ecfr

import (
	"fmt"
	"net"

	"github.com/mdlayher/ethernet"
)

const (
	// EtherCATEtherType is the registered EtherType for frames carrying
	// EtherCAT datagrams.
	EtherCATEtherType = 0x88a4

	// MaxFrameLen is the largest Ethernet II frame including its 4 byte
	// FCS; it sizes receive buffers, so any frame without FCS (at most
	// 1514 bytes) fits.
	MaxFrameLen = 1518

	minFrameLen = 60
)

// PRIMARY_IF_MAC is the sentinel source MAC this core stamps on every
// frame it originates, so the driver path can recognize its own frames on
// loopback or forwarding configurations.
var PRIMARY_IF_MAC = net.HardwareAddr{0x01, 0x01, 0x01, 0x01, 0x01, 0x01}

// broadcastMAC is the destination address for every EtherCAT frame; the
// ring forwards datagrams by position, not by Ethernet address.
var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// NewETHFrame wraps an EtherCAT frame body in an Ethernet II frame,
// addressed from PRIMARY_IF_MAC to the broadcast address.
func NewETHFrame(body []byte) ([]byte, error) {
	ef := &ethernet.Frame{
		Destination: broadcastMAC,
		Source:      PRIMARY_IF_MAC,
		EtherType:   EtherCATEtherType,
		Payload:     body,
	}

	b, err := ef.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshalling ethernet frame: %w", err)
	}

	if len(b) < minFrameLen {
		padded := make([]byte, minFrameLen)
		copy(padded, b)
		b = padded
	}

	return b, nil
}

// StripETHHeader validates and removes the Ethernet II header from a
// received frame, returning the EtherCAT payload. Any padding the sender
// added to reach the Ethernet minimum length is returned with it.
func StripETHHeader(raw []byte) ([]byte, error) {
	var ef ethernet.Frame
	if err := ef.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshalling ethernet frame: %w", err)
	}

	if ef.EtherType != EtherCATEtherType {
		return nil, fmt.Errorf("unexpected ethertype %#04x", uint16(ef.EtherType))
	}

	return ef.Payload, nil
}
