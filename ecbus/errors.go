package ecbus

import (
	"fmt"
)

// LinkIoError wraps a socket send/recv failure encountered while a frame
// batch was in flight. Per spec §7 it is fatal for the current batch:
// whatever was already written into frames during this Process call is
// discarded by the caller.
type LinkIoError struct {
	Op  string
	Err error
}

func (e *LinkIoError) Error() string { return fmt.Sprintf("ecbus: link i/o on %s: %v", e.Op, e.Err) }
func (e *LinkIoError) Unwrap() error { return e.Err }

// EepromTimeoutError reports that the EEPROM busy bit never cleared
// within the polling budget spec §4.4 allots.
type EepromTimeoutError struct {
	Addr uint16
}

func (e *EepromTimeoutError) Error() string {
	return fmt.Sprintf("ecbus: eeprom readiness timed out at word address %#04x", e.Addr)
}

// StateRequestFailedError reports that a broadcast AL_CONTROL write's
// working counter did not equal the slave count. It is also returned, with
// Want left zero, when a station-address, sync-manager or EEPROM-command
// write is not acknowledged as expected, and with WKC zero when
// waitForState times out.
type StateRequestFailedError struct {
	Want ALState
	WKC  uint16
	N    int
}

func (e *StateRequestFailedError) Error() string {
	return fmt.Sprintf("ecbus: AL state request %v failed, wkc %d want %d", e.Want, e.WKC, e.N)
}

// ALStateError surfaces AL_STATUS's error flag (bit 4, per spec §4.4 and
// design note 2) together with the slave's AL_STATUS_CODE, which the
// minimal core's source left unread.
type ALStateError struct {
	StationAddress uint16
	State          ALState
	Code           uint16
}

func (e *ALStateError) Error() string {
	return fmt.Sprintf("ecbus: slave %#04x reported AL state %v with error code %#04x",
		e.StationAddress, e.State, e.Code)
}

// ALState is a slave's coarse application-layer lifecycle state.
type ALState uint8

const (
	StateInit   ALState = 0x01
	StatePreOp  ALState = 0x02
	StateBoot   ALState = 0x03
	StateSafeOp ALState = 0x04
	StateOp     ALState = 0x08

	stateAck       = 0x10
	stateErrorFlag = 0x10
)

func (s ALState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePreOp:
		return "PRE_OP"
	case StateBoot:
		return "BOOT"
	case StateSafeOp:
		return "SAFE_OP"
	case StateOp:
		return "OP"
	default:
		return fmt.Sprintf("ALState(%#02x)", uint8(s))
	}
}

// EEPROM control-word command codes for the {command, addrLow, addrHigh}
// structure spec §4.4 writes to EEPROM_CONTROL.
const (
	eepromCmdRead   = 0x0100
	eepromCmdWrite  = 0x0201
	eepromCmdReload = 0x0300
)
