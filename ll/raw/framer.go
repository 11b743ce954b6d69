package raw

import (
	"time"

	"github.com/distributed/ecat/ecfr"
)

const maxDatagramsLen = 1470

// Framer adapts a raw Socket to ecmd.Framer: queue frames with New, send
// them all and collect whatever replies arrive within cycleTimeout on
// Cycle. It is the real-NIC counterpart to sim.L2Bus, grounded on the
// teacher's ll/udp.UDPFramer send-then-drain-until-timeout loop.
type Framer struct {
	sock         *Socket
	cycleTimeout time.Duration

	oframes []*ecfr.Frame
}

// NewFramer wraps sock for use as an ecmd.Framer with the given per-cycle
// receive timeout.
func NewFramer(sock *Socket, cycleTimeout time.Duration) *Framer {
	return &Framer{sock: sock, cycleTimeout: cycleTimeout}
}

func (f *Framer) New(maxdatalen int) (*ecfr.Frame, error) {
	buf := make([]byte, maxDatagramsLen+ecfr.FrameOverheadLen)
	frame, err := ecfr.PointFrameTo(buf)
	if err != nil {
		return nil, err
	}

	fr := &frame
	f.oframes = append(f.oframes, fr)
	return fr, nil
}

func (f *Framer) Cycle() (iframes []*ecfr.Frame, err error) {
	defer func() { f.oframes = nil }()

	for _, oframe := range f.oframes {
		obytes, err := oframe.Commit()
		if err != nil {
			return nil, err
		}

		eth, err := ecfr.NewETHFrame(obytes)
		if err != nil {
			return nil, err
		}

		if _, err := f.sock.Write(eth); err != nil {
			return nil, err
		}
	}

	if err := f.sock.SetTimeout(f.cycleTimeout); err != nil {
		return nil, err
	}

	rbuf := make([]byte, readBufLen)
	for {
		n, rerr := f.sock.Read(rbuf)
		if isTimeout(rerr) {
			break
		}
		if rerr != nil {
			return nil, rerr
		}

		payload, perr := ecfr.StripETHHeader(rbuf[:n])
		if perr != nil {
			// discard frames that are not ours and keep draining
			continue
		}

		var fr ecfr.Frame
		if _, err := fr.Overlay(payload); err != nil {
			continue
		}

		iframes = append(iframes, &fr)
	}

	return iframes, nil
}

func (f *Framer) Close() error {
	return f.sock.Close()
}

type timeouter interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return isTimeout(u.Unwrap())
	}
	return false
}
