package ecfr

import (
	"errors"
	"fmt"
	"time"
)

const (
	// FrameOverheadLen is the EtherCAT frame header size, excluding the
	// Ethernet header handled separately by NewETHFrame/StripETHHeader.
	FrameOverheadLen = 2

	// MaxDatagramsPerFrame bounds how many datagrams one frame may carry,
	// per MAX_ETHERCAT_DATAGRAMS.
	MaxDatagramsPerFrame = 15
)

// ErrFrameFull is returned by AddDatagram when a frame has reached its
// datagram count limit or lacks free space for the requested payload.
var ErrFrameFull = errors.New("ecfr: frame full")

// Socket is the duplex link the frame pipeline writes frames to and reads
// replies from. Implementations: ll/raw (a real AF_PACKET socket) and the
// sim package (an in-memory simulated bus).
type Socket interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	SetTimeout(d time.Duration) error
}

type Frame struct {
	Header    Header
	Datagrams []*Datagram
	buffer    []byte

	readCursor int
}

// PointFrameTo prepares a fresh, zeroed frame over buf, ready to receive
// datagrams via AddDatagram/NewDatagram.
func PointFrameTo(d []byte) (f Frame, err error) {
	if len(d) < FrameOverheadLen {
		err = errors.New("buffer too small to even contain frame header")
		return
	}

	d[0] = 0
	d[1] = 0
	_, err = f.Header.Overlay(d)
	if err != nil {
		return
	}
	f.Header.SetType(EtherCATFrameType)

	f.buffer = d

	return
}

// Overlay decodes a received frame's header and walks its datagrams,
// stopping at the one whose Last() bit is set. Used on reply frames.
func (f *Frame) Overlay(d []byte) (b []byte, err error) {
	b, err = f.Header.Overlay(d)
	if err != nil {
		return
	}

	dgbl := f.Header.FrameLength()
	if int(dgbl) > len(b) {
		err = fmt.Errorf("frame expected %d bytes, only have %d", dgbl, len(b))
		return
	}

	f.Datagrams = nil
	for {
		dg := &Datagram{}
		b, err = dg.Overlay(b)
		if err != nil {
			return
		}
		f.Datagrams = append(f.Datagrams, dg)

		if dg.Last() {
			break
		}
	}

	f.buffer = d
	f.readCursor = 0

	return
}

func (f *Frame) Commit() (d []byte, err error) {
	var incbuf []byte
	totlen := 0

	if len(f.Datagrams) == 0 {
		err = errors.New("ecat frame needs at least one datagram")
		return
	}

	clen := f.ByteLen()
	if clen > len(f.buffer) {
		err = fmt.Errorf("datagrams too long for frame, need %d, have %d", clen, len(f.buffer))
		return
	}

	lenmask := uint16((1 << 11) - 1)
	f.Header.Word &^= lenmask
	f.Header.Word |= uint16(clen-FrameOverheadLen) & lenmask

	incbuf, err = f.Header.Commit()
	if err != nil {
		return
	}
	totlen += len(incbuf)

	for _, dgram := range f.Datagrams {
		incbuf, err = dgram.Commit()
		if err != nil {
			return
		}
		totlen += len(incbuf)
	}

	d = f.buffer[0:totlen]

	return
}

func (f *Frame) ByteLen() int {
	clen := FrameOverheadLen
	for _, dgram := range f.Datagrams {
		clen += dgram.ByteLen()
	}
	return clen
}

// FreeSpace is how many payload bytes could still be added to this frame
// via NewDatagram, ignoring the per-datagram header/wkc overhead.
func (f *Frame) FreeSpace() int {
	free := len(f.buffer) - f.ByteLen()
	if free < 0 {
		return 0
	}
	return free
}

func (f *Frame) DatagramCount() int {
	return len(f.Datagrams)
}

// Clear drops all datagrams, resetting the frame to an empty, reusable
// state over the same backing buffer.
func (f *Frame) Clear() {
	f.Datagrams = nil
	f.readCursor = 0
}

// NewDatagram reserves space for a new, empty datagram of datalen payload
// bytes at the end of the frame. It fails with ErrFrameFull if the
// datagram count limit is reached or there isn't enough free space.
func (f *Frame) NewDatagram(datalen int) (*Datagram, error) {
	if len(f.Datagrams) >= MaxDatagramsPerFrame {
		return nil, ErrFrameFull
	}

	curlen := f.ByteLen()
	maxlen := len(f.buffer)
	curfree := maxlen - curlen
	need := datalen + DatagramOverheadLength
	if need > curfree {
		return nil, ErrFrameFull
	}

	dgram, err := PointDatagramTo(f.buffer[curlen : curlen+need])
	if err != nil {
		return nil, err
	}

	err = dgram.SetDataLen(datalen)
	if err != nil {
		return nil, err
	}

	// every datagram starts out "last"; AddDatagram on a non-empty frame
	// clears the previous last bit once a new one is appended.
	if len(f.Datagrams) > 0 {
		f.Datagrams[len(f.Datagrams)-1].SetLast(false)
	}
	dgram.SetLast(true)

	f.Datagrams = append(f.Datagrams, &dgram)

	return &dgram, nil
}

// AddDatagram reserves and fills a new datagram in one call, per the C2
// contract: add_datagram(idx, cmd, addr, data, size).
func (f *Frame) AddDatagram(idx uint8, cmd CommandType, addr uint32, data []byte, size int) (*Datagram, error) {
	dg, err := f.NewDatagram(size)
	if err != nil {
		return nil, err
	}

	dg.Index = idx
	dg.Command = cmd
	dg.Addr32 = addr
	if data != nil {
		copy(dg.Data(), data)
	}

	return dg, nil
}

// WriteThenRead serializes the frame, sends it, and blocks for a reply
// frame on the same socket. On success the frame is re-overlaid with the
// reply in place, ready for NextDatagram iteration.
func (f *Frame) WriteThenRead(socket Socket) error {
	out, err := f.Commit()
	if err != nil {
		return err
	}

	eth, err := NewETHFrame(out)
	if err != nil {
		return err
	}

	if _, err := socket.Write(eth); err != nil {
		return err
	}

	rbuf := make([]byte, MaxFrameLen)
	n, err := socket.Read(rbuf)
	if err != nil {
		return err
	}

	payload, err := StripETHHeader(rbuf[:n])
	if err != nil {
		return err
	}

	buf := f.buffer
	m := copy(buf, payload)
	_, err = f.Overlay(buf[:m])
	f.buffer = buf
	return err
}

// NextDatagram pops the next reply datagram in issue order. Its result is
// only valid until the next call to NextDatagram or Overlay.
func (f *Frame) NextDatagram() (*Datagram, error) {
	if f.readCursor >= len(f.Datagrams) {
		return nil, errors.New("ecfr: no more datagrams in frame")
	}
	dg := f.Datagrams[f.readCursor]
	f.readCursor++
	return dg, nil
}
