package sim

import (
	"errors"
	"time"

	"github.com/distributed/ecat/ecfr"
)

// Socket is an in-process ecfr.Socket that runs each written frame through
// a chain of FrameProcessors (simulated slaves) and hands the result back
// to the next Read, the same ring-walk L2Bus.Cycle does but adapted to the
// one-frame-at-a-time write/read contract ecbus.LinkPipeline drives.
type Socket struct {
	Slaves []FrameProcessor

	pending []byte
}

// NewSocket returns a Socket whose ring is slaves, in ring order.
func NewSocket(slaves ...FrameProcessor) *Socket {
	return &Socket{Slaves: slaves}
}

func (s *Socket) Write(b []byte) (int, error) {
	body, err := ecfr.StripETHHeader(b)
	if err != nil {
		return 0, err
	}

	var fr ecfr.Frame
	cbuf := make([]byte, len(body))
	copy(cbuf, body)
	if _, err := fr.Overlay(cbuf); err != nil {
		return 0, err
	}

	cur := &fr
	for _, slave := range s.Slaves {
		cur = slave.ProcessFrame(cur)
		if cur == nil {
			break
		}
	}

	if cur == nil {
		s.pending = nil
		return len(b), nil
	}

	out, err := cur.Commit()
	if err != nil {
		return 0, err
	}

	eth, err := ecfr.NewETHFrame(out)
	if err != nil {
		return 0, err
	}
	s.pending = eth

	return len(b), nil
}

func (s *Socket) Read(b []byte) (int, error) {
	if s.pending == nil {
		return 0, errors.New("sim: no reply pending (frame dropped, or Read without matching Write)")
	}

	n := copy(b, s.pending)
	s.pending = nil
	return n, nil
}

func (s *Socket) SetTimeout(d time.Duration) error { return nil }

func (s *Socket) Close() error { return nil }
