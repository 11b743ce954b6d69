package ecbus

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/distributed/ecat/ecee"
	"github.com/distributed/ecat/sim"
)

// newSimSlave builds a simulated slave with its EEPROM preloaded so
// fetchEEPROMs has something meaningful to read back.
func newSimSlave(vendor, product uint32, mboxRecvOffs, mboxSendOffs uint16, protocols uint16) *sim.L2Slave {
	s := sim.NewL2Slave()

	putWord := func(addr uint16, w uint16) { s.EEPROM.Array[addr] = w }
	putDWord := func(addr uint16, v uint32) {
		putWord(addr, uint16(v))
		putWord(addr+1, uint16(v>>16))
	}

	putDWord(ecee.WordVendorID, vendor)
	putDWord(ecee.WordProductCode, product)
	putWord(ecee.WordRecvMboOffset, mboxRecvOffs)
	putWord(ecee.WordRecvMboOffset+1, 0x000a) // recv size 10
	putWord(ecee.WordSendMboOffset, mboxSendOffs)
	putWord(ecee.WordSendMboOffset+1, 0x000a)
	putWord(ecee.WordMailboxProtocol, protocols)
	putWord(ecee.WordEEPROMSize, 0x0007) // (7+1)*128 = 1024 bytes; version is word 0x3F, left as the sim fills it

	return s
}

func TestBusInitDiscoversAndConfiguresRing(t *testing.T) {
	s0 := newSimSlave(0x00000002, 0x44440001, 0x1000, 0x1100, 0x0004) // CoE
	s1 := newSimSlave(0x00000002, 0x44440002, 0x1000, 0x1100, 0x0004)
	s2 := newSimSlave(0x00000002, 0x44440003, 0x1000, 0x1100, 0x0000) // no mailbox

	procs := []sim.FrameProcessor{s0, s1, s2}
	socket := sim.NewSocket(procs...)

	b := NewBus(socket, len(procs))

	if err := b.Init(); err != nil {
		spew.Dump(b.Slaves())
		t.Fatalf("Init: %v", err)
	}

	got := b.Slaves()
	if len(got) != 3 {
		t.Fatalf("expected 3 discovered slaves, got %d", len(got))
	}

	for i, s := range got {
		wantAddr := uint16(0x1000 + i)
		if s.StationAddress != wantAddr {
			spew.Dump(s)
			t.Fatalf("slave %d: expected station address %#04x, got %#04x", i, wantAddr, s.StationAddress)
		}
	}

	if got[0].ProductCode != 0x44440001 || got[1].ProductCode != 0x44440002 || got[2].ProductCode != 0x44440003 {
		spew.Dump(got)
		t.Fatalf("product codes not read back in ring order")
	}

	if !got[0].SupportsCoE() || !got[1].SupportsCoE() {
		t.Fatalf("expected slaves 0 and 1 to report CoE support")
	}
	if got[2].SupportsMailbox() {
		t.Fatalf("expected slave 2 to report no mailbox support")
	}

	if got[0].EEPROMSize != 1024 {
		t.Fatalf("expected eeprom size 1024, got %d", got[0].EEPROMSize)
	}
}

func TestBusDiscoverCountsRingSize(t *testing.T) {
	procs := []sim.FrameProcessor{sim.NewL2Slave(), sim.NewL2Slave()}
	b := NewBus(sim.NewSocket(procs...), len(procs))

	n, err := b.discover()
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 slaves, got %d", n)
	}
}

func TestBusAssignAddressesIsStableUnderReRun(t *testing.T) {
	s0 := sim.NewL2Slave()
	s1 := sim.NewL2Slave()
	procs := []sim.FrameProcessor{s0, s1}
	b := NewBus(sim.NewSocket(procs...), len(procs))

	b.slaves = []*Slave{{}, {}}
	if err := b.assignAddresses(); err != nil {
		t.Fatalf("assignAddresses: %v", err)
	}
	if b.slaves[0].StationAddress != 0x1000 || b.slaves[1].StationAddress != 0x1001 {
		spew.Dump(b.slaves)
		t.Fatalf("unexpected station addresses after first assign")
	}

	// re-running with a fresh station-address target must still succeed:
	// APWR addresses by ring position, not by any address already set.
	if err := b.assignAddresses(); err != nil {
		t.Fatalf("assignAddresses (second run): %v", err)
	}
	if b.slaves[0].StationAddress != 0x1000 || b.slaves[1].StationAddress != 0x1001 {
		t.Fatalf("station addresses changed on re-run")
	}
}

func TestDecodeEEPROMSizeMatchesWordLayout(t *testing.T) {
	size, version := ecee.DecodeEEPROMSize(0x00070002)
	if size != 384 {
		t.Fatalf("expected size 384, got %d", size)
	}
	if version != 7 {
		t.Fatalf("expected version 7, got %d", version)
	}
}
