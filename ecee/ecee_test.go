package ecee

import (
	"testing"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecfr"
	"github.com/distributed/ecat/ecmd"
)

// fakeCommander is a synchronous, single-slave stand-in for ecmd.Commander
// that answers EEPROM register traffic against an in-memory word array,
// reporting busy for exactly one poll after each command write (unlike
// sim/l2eeprom.go, which completes commands at once and never reports
// busy), without needing a real Framer or a second goroutine on the other
// end.
type fakeCommander struct {
	array   [32]uint16
	addr    uint32
	busy    bool
	pending *ecmd.ExecutingCommand
}

func (f *fakeCommander) New(datalen int) (*ecmd.ExecutingCommand, error) {
	buf := make([]byte, datalen+ecfr.DatagramOverheadLength)
	dg, err := ecfr.PointDatagramTo(buf)
	if err != nil {
		return nil, err
	}
	if err := dg.SetDataLen(datalen); err != nil {
		return nil, err
	}

	ec := &ecmd.ExecutingCommand{DatagramOut: &dg}
	f.pending = ec
	return ec, nil
}

func (f *fakeCommander) Cycle() error {
	ec := f.pending
	out := ec.DatagramOut

	switch uint16(out.Addr32) {
	case ecad.EEPROMControlStatus:
		if out.Command == ecfr.FPRD {
			var status uint16
			if f.busy {
				status = 0x8000
				f.busy = false
			}
			ec.DatagramIn = f.reply(out, []byte{byte(status), byte(status >> 8)})
		} else {
			f.busy = true
			ec.DatagramIn = f.reply(out, nil)
		}
	case ecad.EEPROMAddress:
		if out.Command == ecfr.FPWR {
			d := out.Data()
			f.addr = uint32(d[0]) | uint32(d[1])<<8 | uint32(d[2])<<16 | uint32(d[3])<<24
		}
		ec.DatagramIn = f.reply(out, nil)
	case ecad.EEPROMData:
		if out.Command == ecfr.FPRD {
			w := f.array[f.addr]
			ec.DatagramIn = f.reply(out, []byte{byte(w), byte(w >> 8), 0, 0})
		} else {
			d := out.Data()
			f.array[f.addr] = uint16(d[0]) | uint16(d[1])<<8
			ec.DatagramIn = f.reply(out, nil)
		}
	default:
		ec.DatagramIn = f.reply(out, nil)
	}

	ec.Arrived = true
	ec.Overlayed = true
	return nil
}

func (f *fakeCommander) reply(out *ecfr.Datagram, data []byte) *ecfr.Datagram {
	n := len(out.Data())
	buf := make([]byte, n+ecfr.DatagramOverheadLength)
	dg, err := ecfr.PointDatagramTo(buf)
	if err != nil {
		panic(err)
	}
	if err := dg.SetDataLen(n); err != nil {
		panic(err)
	}
	copy(dg.Data(), data)
	dg.WorkingCounter = 1
	return &dg
}

func (f *fakeCommander) Close() error { return nil }

func TestBlindEEPROMReadWriteRoundTrip(t *testing.T) {
	fc := &fakeCommander{}

	ee, err := New(fc, 0x1001)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ee.Close()

	if err := ee.WriteWord(5, 0xABCD); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}

	got, err := ee.ReadWord(5)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != 0xABCD {
		t.Fatalf("ReadWord(5) = %#04x, want %#04x", got, 0xABCD)
	}
}

func TestBlindEEPROMClosedRejectsAccess(t *testing.T) {
	fc := &fakeCommander{}

	ee, err := New(fc, 0x1001)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ee.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := ee.ReadWord(0); err == nil {
		t.Fatal("expected ReadWord on a closed handle to fail")
	}
	if err := ee.WriteWord(0, 0); err == nil {
		t.Fatal("expected WriteWord on a closed handle to fail")
	}
}
