package ecfr

import (
	"bytes"
	"testing"
)

func TestNewETHFramePadsToMinimumLength(t *testing.T) {
	body := []byte{0x01, 0x02, 0x03}

	b, err := NewETHFrame(body)
	if err != nil {
		t.Fatalf("NewETHFrame: %v", err)
	}

	if len(b) < minFrameLen {
		t.Fatalf("expected frame padded to at least %d bytes, got %d", minFrameLen, len(b))
	}

	if !bytes.Equal(b[0:6], broadcastMAC) {
		t.Fatalf("expected broadcast destination, got % x", b[0:6])
	}
	if !bytes.Equal(b[6:12], PRIMARY_IF_MAC) {
		t.Fatalf("expected source %v, got % x", PRIMARY_IF_MAC, b[6:12])
	}
}

func TestStripETHHeaderRoundTrip(t *testing.T) {
	body := []byte{0xde, 0xad, 0xbe, 0xef, 0xca, 0xfe}

	wire, err := NewETHFrame(body)
	if err != nil {
		t.Fatalf("NewETHFrame: %v", err)
	}

	got, err := StripETHHeader(wire)
	if err != nil {
		t.Fatalf("StripETHHeader: %v", err)
	}

	// a body this short comes back zero-padded to the 46 byte minimum
	// Ethernet payload NewETHFrame pads it to.
	want := make([]byte, minFrameLen-14)
	copy(want, body)

	if !bytes.Equal(got, want) {
		t.Fatalf("expected payload % x, got % x", want, got)
	}
}

func TestStripETHHeaderRejectsWrongEtherType(t *testing.T) {
	ef := make([]byte, 64)
	copy(ef[0:6], broadcastMAC)
	copy(ef[6:12], PRIMARY_IF_MAC)
	ef[12] = 0x08
	ef[13] = 0x00 // IPv4, not EtherCAT

	if _, err := StripETHHeader(ef); err == nil {
		t.Fatalf("expected an error for a non-EtherCAT ethertype")
	}
}
