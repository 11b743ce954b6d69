package ecmd

import (
	"errors"

	"github.com/distributed/ecat/ecfr"
)

const (
	// CommandFramerMaxDatagramsLen bounds the payload a single frame may
	// carry, leaving room under Ethernet's MTU for the frame and datagram
	// headers this package adds on top.
	CommandFramerMaxDatagramsLen = 1470
)

type outgoingFrame struct {
	frame *ecfr.Frame
	cmds  []*ExecutingCommand
}

// CommandFramer implements Commander by coalescing New() calls into as
// few frames as fit, then handing the batch to a Framer at Cycle() time
// and matching replies back to the commands that requested them. This is
// the single-command-at-a-time entry point used by diagnostic tools such
// as ecee; bulk bring-up traffic goes straight through ecbus's own frame
// array instead, per spec's link-pipeline contract.
type CommandFramer struct {
	currentIndex uint8

	frameOpen          bool
	currentFrame       *ecfr.Frame
	currentFrameLen    uint16
	currentFrameOffset uint16
	currentCmds        []*ExecutingCommand

	frameQueue []outgoingFrame

	inFrameQueue []*ecfr.Frame

	framer Framer
}

func NewCommandFramer(framer Framer) *CommandFramer {
	return &CommandFramer{framer: framer}
}

func (cf *CommandFramer) New(datalen int) (*ExecutingCommand, error) {
	dbgl := datalen + ecfr.DatagramOverheadLength
	if dbgl > CommandFramerMaxDatagramsLen {
		return nil, errors.New("datalen exceeds maximum datagram length")
	}

	var err error
	if cf.frameOpen {
		if dbgl > int(cf.currentFrameLen-cf.currentFrameOffset) {
			cf.finishFrame()
			if err = cf.newFrame(); err != nil {
				return nil, err
			}
		}
	} else if err = cf.newFrame(); err != nil {
		return nil, err
	}

	dg, err := cf.currentFrame.NewDatagram(datalen)
	if err != nil {
		return nil, err
	}

	cf.currentFrameOffset += uint16(dbgl)

	cmd := &ExecutingCommand{DatagramOut: dg}
	cf.currentCmds = append(cf.currentCmds, cmd)
	return cmd, nil
}

func (cf *CommandFramer) finishFrame() {
	if len(cf.currentFrame.Datagrams) > 0 {
		for i := 0; i < len(cf.currentFrame.Datagrams)-1; i++ {
			cf.currentFrame.Datagrams[i].SetLast(false)
		}
		cf.currentFrame.Datagrams[0].Index = cf.currentIndex
		cf.currentFrame.Datagrams[len(cf.currentFrame.Datagrams)-1].SetLast(true)
		cf.frameQueue = append(cf.frameQueue, outgoingFrame{cf.currentFrame, cf.currentCmds})
	}

	cf.frameOpen = false
	cf.currentFrame = nil
	cf.currentFrameLen = 0
	cf.currentFrameOffset = 0xffff
	cf.currentCmds = nil
	cf.currentIndex++
}

func (cf *CommandFramer) newFrame() error {
	frame, err := cf.framer.New(CommandFramerMaxDatagramsLen)
	if err != nil {
		return err
	}

	cf.currentFrame = frame
	cf.currentCmds = nil
	cf.frameOpen = true
	cf.currentFrameLen = CommandFramerMaxDatagramsLen
	cf.currentFrameOffset = 0
	return nil
}

// Cycle flushes any open frame, asks the underlying Framer to send the
// queued frames and collect replies, then matches each reply frame back
// to the outgoing frame it answers by datagram shape and issue order.
func (cf *CommandFramer) Cycle() error {
	if cf.currentFrame != nil && len(cf.currentFrame.Datagrams) > 0 {
		cf.finishFrame()
	}

	var err error
	cf.inFrameQueue, err = cf.framer.Cycle()
	if err != nil {
		return err
	}

	oi := 0
	for _, infr := range cf.inFrameQueue {
		if oi == len(cf.frameQueue) {
			break
		}

		for i := oi; i < len(cf.frameQueue); i++ {
			ofr := cf.frameQueue[i].frame
			if infr.Header.FrameLength() != ofr.Header.FrameLength() {
				continue
			}

			if len(infr.Datagrams) == 0 || len(ofr.Datagrams) == 0 {
				continue
			}

			if len(infr.Datagrams) != len(ofr.Datagrams) {
				continue
			}

			if infr.Datagrams[0].Index != ofr.Datagrams[0].Index {
				continue
			}

			for j, ocmd := range cf.frameQueue[i].cmds {
				odgram := ocmd.DatagramOut
				indgram := infr.Datagrams[j]

				if odgram.Command != indgram.Command {
					continue
				}

				if odgram.DataLength() != indgram.DataLength() {
					continue
				}

				ocmd.DatagramIn = indgram
				ocmd.Arrived = true
				ocmd.Overlayed = true
				ocmd.Error = nil
			}

			oi = i
		}
	}

	cf.frameQueue = nil
	cf.inFrameQueue = nil

	return nil
}

func (cf *CommandFramer) Close() error {
	return cf.framer.Close()
}

// Framer sends a batch of queued frames and collects whatever replies
// arrived, decoupling CommandFramer from the transport: ll/raw for a real
// NIC, sim.L2Bus for tests.
type Framer interface {
	New(maxdatalen int) (*ecfr.Frame, error)
	Cycle() ([]*ecfr.Frame, error)
	Close() error
}
