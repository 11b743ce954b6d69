package ecbus

import (
	"time"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecee"
	"github.com/distributed/ecat/ecfr"
)

const (
	eepromPollIterations = 10
	eepromPollInterval   = 200 * time.Microsecond
	eepromBusyBit        = 0x8000
)

// eepromField selects which Slave field a readEEPROM word gets applied
// to, per design note 3: a typed enum in place of the source's mutable
// closure capture, so the routine stays allocation free.
type eepromField int

const (
	fieldVendorID eepromField = iota
	fieldProductCode
	fieldRevisionNumber
	fieldSerialNumber
	fieldStandardRecv
	fieldStandardSend
	fieldMailboxProtocol
	fieldEEPROMSize
)

func applyEEPROMWord(s *Slave, field eepromField, word uint32) {
	switch field {
	case fieldVendorID:
		s.VendorID = word
	case fieldProductCode:
		s.ProductCode = word
	case fieldRevisionNumber:
		s.Revision = word
	case fieldSerialNumber:
		s.Serial = word
	case fieldStandardRecv:
		s.Standard.RecvOffset = uint16(word)
		s.Standard.RecvSize = uint16(word >> 16)
	case fieldStandardSend:
		s.Standard.SendOffset = uint16(word)
		s.Standard.SendSize = uint16(word >> 16)
	case fieldMailboxProtocol:
		s.MailboxProtocols = uint16(word)
	case fieldEEPROMSize:
		s.EEPROMSize, s.EEPROMVersion = ecee.DecodeEEPROMSize(word)
	}
}

// fetchEEPROMs runs the bulk bring-up EEPROM readout of spec §4.4 step 4:
// one readEEPROM call per word address, applied to every slave at once.
func (b *Bus) fetchEEPROMs() error {
	words := []struct {
		addr  uint16
		field eepromField
	}{
		{ecee.WordVendorID, fieldVendorID},
		{ecee.WordProductCode, fieldProductCode},
		{ecee.WordRevisionNumber, fieldRevisionNumber},
		{ecee.WordSerialNumber, fieldSerialNumber},
		{ecee.WordRecvMboOffset, fieldStandardRecv},
		{ecee.WordSendMboOffset, fieldStandardSend},
		{ecee.WordMailboxProtocol, fieldMailboxProtocol},
		{ecee.WordEEPROMSize, fieldEEPROMSize},
	}

	for _, w := range words {
		if err := b.readEEPROM(w.addr, w.field); err != nil {
			return err
		}
	}

	return nil
}

// readEEPROM reads one 32 bit EEPROM word from every slave and applies it
// to each slave's corresponding field, per spec §4.4's "EEPROM read
// subroutine".
func (b *Bus) readEEPROM(addr uint16, field eepromField) error {
	n := len(b.slaves)

	if err := b.startEEPROMRead(addr); err != nil {
		return err
	}

	if err := b.waitEEPROMReady(addr); err != nil {
		return err
	}

	b.link.Clear()
	for i := range b.slaves {
		idx := b.nextIndex()
		dgaddr := ecfr.CreateAddress(int16(0x1000+i), ecad.EEPROMData)
		if _, err := b.link.AddDatagram(idx, ecfr.FPRD, dgaddr, nil, 4); err != nil {
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
		d := dg.Data()
		word := uint32(d[0]) | uint32(d[1])<<8 | uint32(d[2])<<16 | uint32(d[3])<<24
		applyEEPROMWord(b.slaves[i], field, word)
	}

	return nil
}

// startEEPROMRead issues the broadcast {command=READ, addrLow=addr,
// addrHigh=0} write to EEPROM_CONTROL that kicks off a read at addr on
// every slave simultaneously.
func (b *Bus) startEEPROMRead(addr uint16) error {
	n := len(b.slaves)

	b.link.Clear()
	idx := b.nextIndex()
	data := []byte{
		byte(eepromCmdRead & 0xff), byte(eepromCmdRead >> 8),
		byte(addr), byte(addr >> 8),
		0x00, 0x00,
	}
	dgaddr := ecfr.CreateAddress(0, ecad.EEPROMControlStatus)
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
		return &StateRequestFailedError{WKC: dg.WorkingCounter, N: n}
	}
	return nil
}

// waitEEPROMReady polls every slave's EEPROM_CONTROL busy bit until all
// are clear, up to eepromPollIterations tries. Any slave still busy
// restarts the whole poll from a fresh frame, matching spec §9's note
// that "any not ready" must retry the whole iteration rather than the
// source's shadowed-variable version of that check.
func (b *Bus) waitEEPROMReady(addr uint16) error {
	n := len(b.slaves)

	for iter := 0; iter < eepromPollIterations; iter++ {
		b.link.Clear()
		for i := range b.slaves {
			idx := b.nextIndex()
			dgaddr := ecfr.CreateAddress(int16(0x1000+i), ecad.EEPROMControlStatus)
			if _, err := b.link.AddDatagram(idx, ecfr.FPRD, dgaddr, nil, 2); err != nil {
				return err
			}
		}
		if err := b.link.ProcessFrames(); err != nil {
			return err
		}

		ready := true
		for i := 0; i < n; i++ {
			dg, err := b.link.NextDatagram()
			if err != nil {
				return err
			}
			d := dg.Data()
			status := uint16(d[0]) | uint16(d[1])<<8
			if status&eepromBusyBit != 0 {
				ready = false
			}
		}

		if ready {
			return nil
		}

		time.Sleep(eepromPollInterval)
	}

	return &EepromTimeoutError{Addr: addr}
}
