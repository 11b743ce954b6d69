package ecmailbox

import (
	"encoding/binary"
	"fmt"
)

// Emergency is a CoE emergency frame, CiA 301's fixed 8 byte error report
// (error code, error register, 5 bytes manufacturer data) that a slave
// can send unsolicited at any time.
type Emergency struct {
	StationAddr  uint16
	ErrorCode    uint16
	ErrorReg     byte
	Manufacturer [5]byte
}

func (e Emergency) String() string {
	return fmt.Sprintf("ecmailbox: emergency from slave %#04x: code %#04x register %#02x data %x",
		e.StationAddr, e.ErrorCode, e.ErrorReg, e.Manufacturer)
}

// parseEmergency decodes an emergency service body (CoE header already
// stripped by the caller). body shorter than the fixed 8 byte layout is
// zero-padded rather than rejected: a malformed emergency is still worth
// surfacing to the caller.
func parseEmergency(body []byte, stationAddr uint16) Emergency {
	var padded [8]byte
	copy(padded[:], body)

	e := Emergency{
		StationAddr: stationAddr,
		ErrorCode:   binary.LittleEndian.Uint16(padded[0:2]),
		ErrorReg:    padded[2],
	}
	copy(e.Manufacturer[:], padded[3:8])
	return e
}
