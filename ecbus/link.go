package ecbus

import (
	"errors"

	"github.com/distributed/ecat/ecfr"
)

// frameBodyLen is the per-frame payload budget this pipeline reserves:
// just under Ethernet's 1500 byte MTU once the 2 byte EtherCAT frame
// header is accounted for, matching the teacher's CommandFramer sizing.
const frameBodyLen = 1470

// LinkPipeline is C3: a dense array of frames with a fill cursor, batching
// many datagrams across as few frames as fit and running them over a
// socket with write-then-read semantics, one frame at a time. Both the
// bus controller and the mailbox engine enqueue datagrams into the same
// pipeline instance, per spec §4.5.
type LinkPipeline struct {
	socket ecfr.Socket

	frames  []ecfr.Frame
	current int // index of the frame still accepting datagrams

	readFrame int // index of the frame NextDatagram is draining
}

// NewLinkPipeline reserves frames up front sized for expectedDatagrams so
// steady-state bring-up traffic never allocates, per spec §4.3's capacity
// planning: ceil(expected/15)*2 frames.
func NewLinkPipeline(socket ecfr.Socket, expectedDatagrams int) *LinkPipeline {
	n := (expectedDatagrams + ecfr.MaxDatagramsPerFrame - 1) / ecfr.MaxDatagramsPerFrame * 2
	if n < 2 {
		n = 2
	}

	lp := &LinkPipeline{socket: socket}
	lp.frames = make([]ecfr.Frame, n)
	for i := range lp.frames {
		lp.resetFrame(i)
	}
	return lp
}

func (lp *LinkPipeline) resetFrame(i int) {
	buf := make([]byte, frameBodyLen+ecfr.FrameOverheadLen)
	f, err := ecfr.PointFrameTo(buf)
	if err != nil {
		// frameBodyLen is a compile-time constant comfortably above
		// FrameOverheadLen; this can only happen if that invariant breaks.
		panic(err)
	}
	lp.frames[i] = f
}

// AddDatagram routes to the current frame, advancing to (or allocating) the
// next frame when the current one is full, per spec §4.3.
func (lp *LinkPipeline) AddDatagram(idx uint8, cmd ecfr.CommandType, addr uint32, data []byte, size int) (*ecfr.Datagram, error) {
	for {
		dg, err := lp.frames[lp.current].AddDatagram(idx, cmd, addr, data, size)
		if err == nil {
			return dg, nil
		}
		if !errors.Is(err, ecfr.ErrFrameFull) {
			return nil, err
		}

		lp.current++
		if lp.current == len(lp.frames) {
			lp.frames = append(lp.frames, ecfr.Frame{})
			lp.resetFrame(lp.current)
		}
	}
}

// ProcessFrames transmits frames 0..current inclusive, each with a
// write-then-read round trip, stopping at the first frame with no
// datagrams queued. A socket failure aborts the call and discards
// whatever of the batch was not yet sent.
func (lp *LinkPipeline) ProcessFrames() error {
	lp.readFrame = 0

	for i := 0; i <= lp.current && i < len(lp.frames); i++ {
		f := &lp.frames[i]
		if f.DatagramCount() == 0 {
			break
		}

		if err := f.WriteThenRead(lp.socket); err != nil {
			return &LinkIoError{Op: "write_then_read", Err: err}
		}
	}

	return nil
}

// NextDatagram pops the next reply datagram in issue order, transparently
// crossing frame boundaries. Its result is only valid until the next call
// to NextDatagram or a further ProcessFrames.
func (lp *LinkPipeline) NextDatagram() (*ecfr.Datagram, error) {
	for lp.readFrame <= lp.current && lp.readFrame < len(lp.frames) {
		dg, err := lp.frames[lp.readFrame].NextDatagram()
		if err == nil {
			return dg, nil
		}
		lp.readFrame++
	}
	return nil, errors.New("ecbus: no more datagrams in this batch")
}

// Clear drops all queued/received datagrams and rewinds to the first
// frame, reusing the same backing buffers for the next batch.
func (lp *LinkPipeline) Clear() {
	for i := range lp.frames {
		lp.frames[i].Clear()
	}
	lp.current = 0
	lp.readFrame = 0
}

// DatagramCount is the total number of datagrams queued across every
// frame in the current batch.
func (lp *LinkPipeline) DatagramCount() int {
	n := 0
	for i := 0; i <= lp.current && i < len(lp.frames); i++ {
		n += lp.frames[i].DatagramCount()
	}
	return n
}
