package ecfr

import (
	"fmt"
)

// DatagramOverheadLength is the byte cost of a datagram beyond its payload:
// a 10 byte header plus a trailing 16 bit working counter.
const DatagramOverheadLength = datagramHeaderByteLen + 2

type Datagram struct {
	DatagramHeader
	data           []byte
	WorkingCounter uint16

	buffer []byte
}

func (dg *Datagram) Overlay(d []byte) (b []byte, err error) {
	b, err = dg.DatagramHeader.Overlay(d)
	if err != nil {
		return
	}

	if len(b) < int(dg.DataLength()) {
		err = fmt.Errorf("overlaying ecat dgram: need %d bytes of data, have %d", dg.DataLength(), len(b))
		return
	}

	dg.data = b[:dg.DataLength()]
	b = b[dg.DataLength():]

	if len(b) < 2 {
		err = fmt.Errorf("overlaying ecat dgram: need 2 bytes for working counter, got %d", len(b))
		return
	}

	// guarded by condition above
	dg.WorkingCounter, b = getUint16(b)
	dg.buffer = d[:DatagramOverheadLength+int(dg.DataLength())]
	return
}

// PointDatagramTo overlays a fresh, zeroed datagram onto buf. buf must be at
// least DatagramOverheadLength bytes; the caller fixes the payload length
// with SetDataLen before using Data().
func PointDatagramTo(buf []byte) (dg Datagram, err error) {
	if len(buf) < DatagramOverheadLength {
		err = fmt.Errorf("buffer too small to contain a datagram, need %d, have %d", DatagramOverheadLength, len(buf))
		return
	}

	clear(buf)
	dg.buffer = buf
	dg.data = buf[datagramHeaderByteLen : len(buf)-2]
	return
}

// SetDataLen fixes the payload length of a datagram pointed to with
// PointDatagramTo, re-slicing the backing buffer's data and working
// counter windows to match.
func (dg *Datagram) SetDataLen(n int) error {
	need := n + DatagramOverheadLength
	if need > len(dg.buffer) {
		return fmt.Errorf("SetDataLen: %d bytes requested, buffer only holds %d", n, len(dg.buffer)-DatagramOverheadLength)
	}

	dg.LenWord &^= (1 << 11) - 1
	dg.LenWord |= uint16(n) & ((1 << 11) - 1)
	dg.data = dg.buffer[datagramHeaderByteLen : datagramHeaderByteLen+n]
	return nil
}

func (dg *Datagram) Data() []byte {
	return dg.data
}

// ByteLen is the total wire size of the datagram: header, payload and
// working counter.
func (dg *Datagram) ByteLen() int {
	return DatagramOverheadLength + len(dg.data)
}

func (dg *Datagram) Commit() (d []byte, err error) {
	b := dg.buffer
	b, err = dg.DatagramHeader.Commit(b)
	if err != nil {
		return
	}
	n := copy(b, dg.data)
	b = b[n:]
	putUint16(b, dg.WorkingCounter)
	d = dg.buffer[:dg.ByteLen()]
	return
}

func (dg *Datagram) Summary() string {
	return fmt.Sprintf("idx %d cmd %v addr %#08x len %d wkc %d", dg.Index, dg.Command, dg.Addr32, dg.DataLength(), dg.WorkingCounter)
}

type DatagramHeader struct {
	Command   CommandType
	Index     uint8
	Addr32    uint32
	LenWord   uint16
	Interrupt uint16
}

const (
	datagramHeaderByteLen = 10
)

func (dh *DatagramHeader) Overlay(d []byte) (b []byte, err error) {
	b = d
	if len(b) < datagramHeaderByteLen {
		err = fmt.Errorf("need %d bytes for dgram header, have %d", datagramHeaderByteLen, len(b))
		return
	}

	var c8 uint8
	c8, b = getUint8(b)
	dh.Command = CommandType(c8)
	dh.Index, b = getUint8(b)
	dh.Addr32, b = getUint32(b)
	dh.LenWord, b = getUint16(b)
	dh.Interrupt, b = getUint16(b)

	return
}

func (dh *DatagramHeader) Commit(b []byte) ([]byte, error) {
	if len(b) < datagramHeaderByteLen {
		return b, fmt.Errorf("need %d bytes for dgram header, have %d", datagramHeaderByteLen, len(b))
	}

	b = putUint8(b, uint8(dh.Command))
	b = putUint8(b, dh.Index)
	b = putUint32(b, dh.Addr32)
	b = putUint16(b, dh.LenWord)
	b = putUint16(b, dh.Interrupt)
	return b, nil
}

func (dh *DatagramHeader) SlaveAddr() uint16 {
	return uint16(dh.Addr32 >> 16)
}

func (dh *DatagramHeader) OffsetAddr() uint16 {
	return uint16(dh.Addr32)
}

func (dh *DatagramHeader) LogicalAddr() uint32 {
	return dh.Addr32
}

func (dh *DatagramHeader) DataLength() uint16 {
	return dh.LenWord & ((1 << 11) - 1)
}

// Circulating reports whether this datagram has already made a full trip
// around the ring back to the master (bit 14 of the length word).
func (dh *DatagramHeader) Circulating() bool {
	return (dh.LenWord & (1 << circulatingBit)) != 0
}

// Last reports whether this is the final datagram in its frame; Multiple
// is its complement and matches the spec's "multiple" flag naming.
func (dh *DatagramHeader) Last() bool {
	return (dh.LenWord & (1 << multipleBit)) == 0
}

func (dh *DatagramHeader) Multiple() bool {
	return !dh.Last()
}

func (dh *DatagramHeader) SetLast(last bool) {
	if last {
		dh.LenWord &^= 1 << multipleBit
	} else {
		dh.LenWord |= 1 << multipleBit
	}
}

const (
	circulatingBit = 14
	multipleBit    = 15
)

type CommandType uint8

func (ct CommandType) String() string {
	if cts, ok := commandTypeName[ct]; ok {
		return cts
	}
	return fmt.Sprintf("CommandType(%d)", uint(ct))
}

// DoesRead reports whether the ESC reads its registers/memory onto the
// wire for this command.
func (ct CommandType) DoesRead() bool {
	switch ct {
	case APRD, APRW, FPRD, FPRW, BRD, BRW, LRD, LRW, ARMW, FRMW:
		return true
	}
	return false
}

// DoesWrite reports whether the ESC writes wire data into its own
// registers/memory for this command.
func (ct CommandType) DoesWrite() bool {
	switch ct {
	case APWR, APRW, FPWR, FPRW, BWR, BRW, LWR, LRW:
		return true
	}
	return false
}

const (
	NOP  CommandType = 0
	APRD CommandType = 1
	APWR CommandType = 2
	APRW CommandType = 3
	FPRD CommandType = 4
	FPWR CommandType = 5
	FPRW CommandType = 6
	BRD  CommandType = 7
	BWR  CommandType = 8
	BRW  CommandType = 9
	LRD  CommandType = 10
	LWR  CommandType = 11
	LRW  CommandType = 12
	ARMW CommandType = 13
	FRMW CommandType = 14
)

var commandTypeName = map[CommandType]string{
	NOP:  "NOP",
	APRD: "APRD",
	APWR: "APWR",
	APRW: "APRW",
	FPRD: "FPRD",
	FPWR: "FPWR",
	FPRW: "FPRW",
	BRD:  "BRD",
	BWR:  "BWR",
	BRW:  "BRW",
	LRD:  "LRD",
	LWR:  "LWR",
	LRW:  "LRW",
	ARMW: "ARMW",
	FRMW: "FRMW",
}

// AddressType classifies how the ESC decides whether a datagram's address
// matches it: by ring position (auto-increment), by configured station
// address, or unconditionally (broadcast).
type AddressType uint8

const (
	Positional AddressType = iota
	Fixed
	Broadcast
	Logical
)

// DatagramAddress is the decoded form of a datagram's 32 bit address
// field, aware of which addressing mode the issuing command selects.
type DatagramAddress struct {
	addr32 uint32
	typ    AddressType
}

// CreateAddress packs a position-or-station-address and a register offset
// into the 32 bit address field: (positionOrAddr << 16) | ado. Auto-increment
// addressing passes the two's complement of the target's ring position;
// configured addressing passes the station address directly.
func CreateAddress(positionOrAddr int16, ado uint16) uint32 {
	return uint32(uint16(positionOrAddr))<<16 | uint32(ado)
}

// DatagramAddressFromCommand derives the addressing mode from the command
// that carries addr32, since the wire format itself does not tag it.
func DatagramAddressFromCommand(addr32 uint32, cmd CommandType) DatagramAddress {
	da := DatagramAddress{addr32: addr32}
	switch cmd {
	case APRD, APWR, APRW, ARMW:
		da.typ = Positional
	case FPRD, FPWR, FPRW, FRMW:
		da.typ = Fixed
	case BRD, BWR, BRW:
		da.typ = Broadcast
	case LRD, LWR, LRW:
		da.typ = Logical
	}
	return da
}

func (da DatagramAddress) Type() AddressType { return da.typ }
func (da DatagramAddress) Addr32() uint32    { return da.addr32 }

// IsPhysical reports whether this address selects a device by ring
// position or station address, as opposed to the logical process-data
// address space (out of scope for this core).
func (da DatagramAddress) IsPhysical() bool {
	return da.typ == Positional || da.typ == Fixed || da.typ == Broadcast
}

// Offset is the register/mailbox offset carried in the low 16 bits.
func (da DatagramAddress) Offset() uint16 {
	return uint16(da.addr32)
}

func (da *DatagramAddress) SetOffset(o uint16) {
	da.addr32 &^= 0xffff
	da.addr32 |= uint32(o)
}

// PositionOrAddress is the high 16 bits: the wrapped ring position for
// Positional addressing, or the configured station address for Fixed.
func (da DatagramAddress) PositionOrAddress() uint16 {
	return uint16(da.addr32 >> 16)
}

// IncrementSlaveAddr advances the ring-position field by one, the way each
// slave does as an auto-increment-addressed datagram passes through it.
func (da *DatagramAddress) IncrementSlaveAddr() {
	pos := uint16(da.addr32>>16) + 1
	da.addr32 = uint32(pos)<<16 | (da.addr32 & 0xffff)
}
