package ecbus

import (
	"fmt"
	"time"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/eclog"
	"github.com/distributed/ecat/ecfr"
)

var log = eclog.For("ecbus")

const (
	waitStatePollInterval = 10 * time.Millisecond
	waitStateTimeout      = 10 * time.Second

	smRecvControl = 0x26 // mailbox mode, master writes, PDI interrupt enabled
	smSendControl = 0x22 // mailbox mode, master reads, PDI interrupt enabled
	smActivate    = 0x01
)

// Bus is C4: the EtherCAT bus controller. It owns the wire index counter,
// drives a LinkPipeline for every batch of datagrams it issues, and keeps
// the discovered slave list current through bring-up.
type Bus struct {
	link *LinkPipeline

	nextIdx uint8
	slaves  []*Slave
}

// NewBus wraps socket in a LinkPipeline sized for expectedSlaves and
// returns a Bus ready to run Init.
func NewBus(socket ecfr.Socket, expectedSlaves int) *Bus {
	return &Bus{
		link: NewLinkPipeline(socket, expectedSlaves),
	}
}

// nextIndex hands out the next datagram index, wrapping at 256 per
// spec §4.2; the index is purely diagnostic (echoed back by slaves) and
// never consulted for sequencing.
func (b *Bus) nextIndex() uint8 {
	idx := b.nextIdx
	b.nextIdx++
	return idx
}

// Slaves returns the bus's current view of the ring, valid after Init.
func (b *Bus) Slaves() []*Slave {
	return b.slaves
}

// Link returns the Bus's LinkPipeline, so the mailbox engine can batch its
// FPWR/FPRD traffic through the same socket and frame buffers the bus
// controller itself uses, rather than opening a second pipeline over the
// same duplex link.
func (b *Bus) Link() *LinkPipeline {
	return b.link
}

// Init runs the full bring-up sequence of spec §4.4: discover the ring,
// reset every slave to INIT, assign fixed station addresses, read out
// EEPROMs, configure standard mailbox sync managers on slaves that
// support them, and request PRE_OP.
func (b *Bus) Init() error {
	n, err := b.discover()
	if err != nil {
		return err
	}
	log.WithField("slaves", n).Info("discovered ring")

	b.slaves = make([]*Slave, n)
	for i := range b.slaves {
		b.slaves[i] = &Slave{}
	}

	if err := b.reset(); err != nil {
		return err
	}

	if err := b.assignAddresses(); err != nil {
		return err
	}

	if err := b.fetchEEPROMs(); err != nil {
		return err
	}

	if err := b.configureSyncManagers(); err != nil {
		return err
	}

	if err := b.requestState(StatePreOp); err != nil {
		return err
	}

	return b.waitForState(StatePreOp, waitStateTimeout)
}

// discover counts the ring by broadcast-reading a register every slave
// has: its working counter after a BRD is the slave count.
func (b *Bus) discover() (int, error) {
	b.link.Clear()
	idx := b.nextIndex()
	dgaddr := ecfr.CreateAddress(0, ecad.Type)
	if _, err := b.link.AddDatagram(idx, ecfr.BRD, dgaddr, nil, 1); err != nil {
		return 0, err
	}
	if err := b.link.ProcessFrames(); err != nil {
		return 0, err
	}

	dg, err := b.link.NextDatagram()
	if err != nil {
		return 0, err
	}

	return int(dg.WorkingCounter), nil
}

// reset broadcasts every register write spec §4.4 step 2 requires to put
// a ring of unknown prior state cleanly into INIT: clear port loopback and
// error counters, clear FMMUs and sync managers, clear the DC system time
// and disable DC sync, restore the DC speed-counter start value and time
// filter to their power-on defaults, request INIT, and disable EEPROM
// PDI takeover.
func (b *Bus) reset() error {
	zero := func(size int) []byte { return make([]byte, size) }

	writes := []struct {
		addr uint16
		data []byte
	}{
		{ecad.DLPort, zero(1)},
		{ecad.RXError, zero(8)},
		{ecad.FMMUBase, zero(256)},
		{ecad.SyncMangerBase, zero(128)},
		{ecad.DCSystemTime, zero(8)},
		{ecad.DCSyncActivation, zero(1)},
		{ecad.DCSpeedCountStart, []byte{0x00, 0x10}},
		{ecad.DCTimeFilter, []byte{0x00, 0x0c}},
	}

	b.link.Clear()
	for _, w := range writes {
		idx := b.nextIndex()
		dgaddr := ecfr.CreateAddress(0, w.addr)
		if _, err := b.link.AddDatagram(idx, ecfr.BWR, dgaddr, w.data, len(w.data)); err != nil {
			return err
		}
	}
	if err := b.link.ProcessFrames(); err != nil {
		return err
	}
	for range writes {
		if _, err := b.link.NextDatagram(); err != nil {
			return err
		}
		// working counters aren't checked here: a slave with no DC
		// hardware legitimately acks fewer of these writes than the
		// ring size, so the checked INIT state request right below is
		// the true gate.
	}

	if err := b.requestState(StateInit); err != nil {
		return err
	}

	b.link.Clear()
	idx := b.nextIndex()
	dgaddr := ecfr.CreateAddress(0, ecad.EEPROMConfiguration)
	if _, err := b.link.AddDatagram(idx, ecfr.BWR, dgaddr, zero(2), 2); err != nil {
		return err
	}
	if err := b.link.ProcessFrames(); err != nil {
		return err
	}
	if _, err := b.link.NextDatagram(); err != nil {
		return err
	}

	return nil
}

// assignAddresses gives every slave a fixed station address of
// 0x1000+position, per spec §4.4 step 3, so every later datagram can use
// FPRD/FPWR/FPRW instead of depending on ring order staying stable.
func (b *Bus) assignAddresses() error {
	n := len(b.slaves)

	b.link.Clear()
	for i := 0; i < n; i++ {
		idx := b.nextIndex()
		station := uint16(0x1000 + i)
		dgaddr := ecfr.CreateAddress(int16(-i), ecad.ConfiguredStationAddress)
		data := []byte{byte(station), byte(station >> 8)}
		if _, err := b.link.AddDatagram(idx, ecfr.APWR, dgaddr, data, len(data)); err != nil {
			return err
		}
	}
	if err := b.link.ProcessFrames(); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		dg, err := b.link.NextDatagram()
		if err != nil {
			return err
		}
		if dg.WorkingCounter != 1 {
			return &StateRequestFailedError{WKC: dg.WorkingCounter, N: 1}
		}
		b.slaves[i].StationAddress = uint16(0x1000 + i)
	}

	return nil
}

// configureSyncManagers writes the standard mailbox's SM0 (master write,
// slave read) and SM1 (slave write, master read) channel configuration to
// every slave whose EEPROM advertised mailbox support, per spec §4.4
// step 5. Slaves without a mailbox are skipped entirely.
func (b *Bus) configureSyncManagers() error {
	type write struct {
		station uint16
		data    []byte
	}
	var writes []write

	for _, s := range b.slaves {
		if !s.SupportsMailbox() {
			continue
		}

		sm0 := smConfig(s.Standard.RecvOffset, s.Standard.RecvSize, smRecvControl)
		sm1 := smConfig(s.Standard.SendOffset, s.Standard.SendSize, smSendControl)
		writes = append(writes, write{s.StationAddress, sm0}, write{s.StationAddress, sm1})
	}

	if len(writes) == 0 {
		return nil
	}

	b.link.Clear()
	for i, w := range writes {
		base := ecad.SM0
		if i%2 == 1 {
			base = ecad.SM1
		}

		idx := b.nextIndex()
		dgaddr := ecfr.CreateAddress(int16(w.station), uint16(base))
		if _, err := b.link.AddDatagram(idx, ecfr.FPWR, dgaddr, w.data, len(w.data)); err != nil {
			return err
		}
	}
	if err := b.link.ProcessFrames(); err != nil {
		return err
	}
	for range writes {
		dg, err := b.link.NextDatagram()
		if err != nil {
			return err
		}
		if dg.WorkingCounter != 1 {
			return &StateRequestFailedError{WKC: dg.WorkingCounter, N: 1}
		}
	}

	return nil
}

// smConfig builds the 8 byte sync manager channel register image: phys
// start address, length, control, status (unused on write), activate,
// PDI control (unused on write).
func smConfig(physAddr, length uint16, control byte) []byte {
	return []byte{
		byte(physAddr), byte(physAddr >> 8),
		byte(length), byte(length >> 8),
		control,
		0x00,
		smActivate,
		0x00,
	}
}

// requestState broadcasts an AL_CONTROL write carrying s, requiring every
// slave to ack (wkc == slave count).
func (b *Bus) requestState(s ALState) error {
	n := len(b.slaves)
	if n == 0 {
		return nil
	}

	b.link.Clear()
	idx := b.nextIndex()
	// the error-acknowledge bit is set on every state request: it is a
	// no-op on a slave that isn't erroring, and clears the error flag on
	// one that is, so a request never gets silently ignored.
	data := []byte{byte(s) | stateAck, 0x00}
	dgaddr := ecfr.CreateAddress(0, ecad.ALControl)
	if _, err := b.link.AddDatagram(idx, ecfr.BWR, dgaddr, data, len(data)); err != nil {
		return err
	}
	if err := b.link.ProcessFrames(); err != nil {
		return err
	}

	dg, err := b.link.NextDatagram()
	if err != nil {
		return err
	}
	if int(dg.WorkingCounter) != n {
		return &StateRequestFailedError{Want: s, WKC: dg.WorkingCounter, N: n}
	}

	return nil
}

// getCurrentState reads one slave's AL_STATUS, returning ALStateError
// instead of the bare state whenever the error flag (bit 4) is set, so
// callers see the AL_STATUS_CODE the minimal core's source discarded.
func (b *Bus) getCurrentState(s *Slave) (ALState, error) {
	b.link.Clear()
	idx := b.nextIndex()
	dgaddr := ecfr.CreateAddress(int16(s.StationAddress), ecad.ALStatus)
	if _, err := b.link.AddDatagram(idx, ecfr.FPRD, dgaddr, nil, 2); err != nil {
		return 0, err
	}
	if err := b.link.ProcessFrames(); err != nil {
		return 0, err
	}

	dg, err := b.link.NextDatagram()
	if err != nil {
		return 0, err
	}
	status := dg.Data()
	al := ALState(status[0] &^ stateErrorFlag)
	errored := status[0]&stateErrorFlag != 0

	if !errored {
		return al, nil
	}

	code, err := b.readStatusCode(s)
	if err != nil {
		return al, err
	}
	return al, &ALStateError{StationAddress: s.StationAddress, State: al, Code: code}
}

func (b *Bus) readStatusCode(s *Slave) (uint16, error) {
	b.link.Clear()
	idx := b.nextIndex()
	dgaddr := ecfr.CreateAddress(int16(s.StationAddress), ecad.ALStatusCode)
	if _, err := b.link.AddDatagram(idx, ecfr.FPRD, dgaddr, nil, 2); err != nil {
		return 0, err
	}
	if err := b.link.ProcessFrames(); err != nil {
		return 0, err
	}
	dg, err := b.link.NextDatagram()
	if err != nil {
		return 0, err
	}
	d := dg.Data()
	return uint16(d[0]) | uint16(d[1])<<8, nil
}

// waitForState polls every slave's AL state until all report target or
// the timeout elapses. A slave reporting an AL error aborts immediately
// rather than spinning out the full timeout, per spec §9's resolution of
// the "what happens on bring-up failure" open question: Init returns a
// wrapped ALStateError instead of panicking.
func (b *Bus) waitForState(target ALState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		allMatch := true
		for _, s := range b.slaves {
			state, err := b.getCurrentState(s)
			if err != nil {
				return fmt.Errorf("ecbus: waiting for state %v: %w", target, err)
			}
			if state != target {
				allMatch = false
			}
		}

		if allMatch {
			return nil
		}

		if time.Now().After(deadline) {
			return &StateRequestFailedError{Want: target, N: len(b.slaves)}
		}

		time.Sleep(waitStatePollInterval)
	}
}

// CheckMailboxes refreshes CanRead/CanWrite on every mailbox-capable
// slave by polling SM0 and SM1's status byte (bit 3: mailbox full).
func (b *Bus) CheckMailboxes() error {
	var targets []*Slave
	for _, s := range b.slaves {
		if s.SupportsMailbox() {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	b.link.Clear()
	for _, s := range targets {
		idx := b.nextIndex()
		dgaddr := ecfr.CreateAddress(int16(s.StationAddress), ecad.SM0+ecad.SyncManagerStatusOffset)
		if _, err := b.link.AddDatagram(idx, ecfr.FPRD, dgaddr, nil, 1); err != nil {
			return err
		}
		idx = b.nextIndex()
		dgaddr = ecfr.CreateAddress(int16(s.StationAddress), ecad.SM1+ecad.SyncManagerStatusOffset)
		if _, err := b.link.AddDatagram(idx, ecfr.FPRD, dgaddr, nil, 1); err != nil {
			return err
		}
	}
	if err := b.link.ProcessFrames(); err != nil {
		return err
	}

	const mailboxFull = 0x08
	for _, s := range targets {
		sm0, err := b.link.NextDatagram()
		if err != nil {
			return err
		}
		sm1, err := b.link.NextDatagram()
		if err != nil {
			return err
		}
		// SM0 is master->slave: the slave can accept a write once the
		// buffer it last wrote into has been drained, i.e. NOT full.
		s.Standard.CanWrite = sm0.Data()[0]&mailboxFull == 0
		s.Standard.CanRead = sm1.Data()[0]&mailboxFull != 0
	}

	return nil
}
