package ecee

import (
	"errors"
	"fmt"
	"time"

	"github.com/distributed/ecat/ecad"
	"github.com/distributed/ecat/ecfr"
	"github.com/distributed/ecat/ecmd"
)

// EEPROM gives ad-hoc, single-slave access to the ESC's EEPROM interface
// after bring-up, for diagnostics. Bulk EEPROM readout during bring-up
// does not use this type: it is batched across every slave at once by
// ecbus, which talks to the EEPROM registers directly.
type blindEEPROM struct {
	station      uint16
	commander    ecmd.Commander
	readCommand  ecfr.CommandType
	writeCommand ecfr.CommandType
	closed       bool
}

type EEPROM interface {
	ReadWord(addr uint32) (word uint16, err error)
	WriteWord(addr uint32, word uint16) (err error)
	Close() error
}

// New opens an EEPROM handle for the slave at the given configured
// station address.
func New(commander ecmd.Commander, station uint16) (EEPROM, error) {
	ee := &blindEEPROM{
		station:      station,
		commander:    commander,
		readCommand:  ecfr.FPRD,
		writeCommand: ecfr.FPWR,
	}

	if err := ee.waitForIdle(0); err != nil {
		return nil, err
	}

	return ee, nil
}

func (ee *blindEEPROM) addr(offset uint16) ecfr.DatagramAddress {
	a32 := ecfr.CreateAddress(int16(ee.station), offset)
	return ecfr.DatagramAddressFromCommand(a32, ee.readCommand)
}

func (ee *blindEEPROM) waitForIdle(timeout time.Duration) error {
	if timeout == 0 {
		timeout = 250 * time.Millisecond
	}

	deadline := time.Now().Add(timeout)

	for {
		rb, err := ecmd.ExecuteRead(ee.commander, ee.readCommand, ee.addr(ecad.EEPROMControlStatus), 2, 1)
		if err != nil {
			return err
		}

		if rb[1]&0x80 == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return errors.New("ecee: eeprom busy, timed out waiting for idle")
		}
	}
}

func (ee *blindEEPROM) ReadWord(addr uint32) (word uint16, err error) {
	if ee.closed {
		err = errors.New("ecee: eeprom is already closed")
		return
	}

	if err = ee.waitForIdle(0); err != nil {
		return
	}

	wb := make([]byte, 4)
	wb[0] = uint8(addr)
	wb[1] = uint8(addr >> 8)
	wb[2] = uint8(addr >> 16)
	wb[3] = uint8(addr >> 24)
	if err = ecmd.ExecuteWrite(ee.commander, ee.writeCommand, ee.addr(ecad.EEPROMAddress), wb, 1); err != nil {
		return
	}

	wb = []byte{0x00, 0x01} // read command
	if err = ecmd.ExecuteWrite(ee.commander, ee.writeCommand, ee.addr(ecad.EEPROMControlStatus), wb, 1); err != nil {
		return
	}

	if err = ee.waitForIdle(0); err != nil {
		return
	}

	var rb []byte
	rb, err = ecmd.ExecuteRead(ee.commander, ee.readCommand, ee.addr(ecad.EEPROMControlStatus), 2, 1)
	if err != nil {
		return
	}

	if rb[1]&0xE0 != 0x00 {
		err = fmt.Errorf("EEPROM status word bits indicate error, bytes are % x", rb)
		return
	}

	rb, err = ecmd.ExecuteRead(ee.commander, ee.readCommand, ee.addr(ecad.EEPROMData), 4, 1)
	if err != nil {
		return
	}

	word = uint16(rb[0]) | uint16(rb[1])<<8
	return
}

func (ee *blindEEPROM) WriteWord(addr uint32, word uint16) (err error) {
	if ee.closed {
		err = errors.New("ecee: eeprom is already closed")
		return
	}

	if err = ee.waitForIdle(0); err != nil {
		return
	}

	wb := make([]byte, 4)
	wb[0] = uint8(addr)
	wb[1] = uint8(addr >> 8)
	wb[2] = uint8(addr >> 16)
	wb[3] = uint8(addr >> 24)
	if err = ecmd.ExecuteWrite(ee.commander, ee.writeCommand, ee.addr(ecad.EEPROMAddress), wb, 1); err != nil {
		return
	}

	wb = []byte{uint8(word), uint8(word >> 8)}
	if err = ecmd.ExecuteWrite(ee.commander, ee.writeCommand, ee.addr(ecad.EEPROMData), wb, 1); err != nil {
		return
	}

	wb = []byte{0x01, 0x02} // write command
	if err = ecmd.ExecuteWrite(ee.commander, ee.writeCommand, ee.addr(ecad.EEPROMControlStatus), wb, 1); err != nil {
		return
	}

	if err = ee.waitForIdle(0); err != nil {
		return
	}

	var rb []byte
	rb, err = ecmd.ExecuteRead(ee.commander, ee.readCommand, ee.addr(ecad.EEPROMControlStatus), 2, 1)
	if err != nil {
		return
	}

	if rb[1]&0xE0 != 0x00 {
		err = fmt.Errorf("EEPROM status word bits indicate error, bytes are % x", rb)
		return
	}

	return
}

func (ee *blindEEPROM) Close() error {
	ee.closed = true
	return nil
}
