package ecmailbox

import (
	"errors"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/distributed/ecat/eclog"
)

var log = eclog.For("ecmailbox")

// runRequest asks the Runner's owning goroutine to enqueue msg on its
// Mailbox and notifies done once msg reaches a terminal status.
type runRequest struct {
	msg  message
	done chan struct{}
}

// Runner drives a Mailbox's Cycle on a fixed tick from a single goroutine,
// supervised by a tomb.v2, per spec.md §4.5/§5's call for a supervised
// background path for unsolicited mailbox traffic (CoE emergencies).
// Grounded on the teacher's ecmd/mux.go: a single owning goroutine reached
// only through a request channel, so the Mailbox and LinkPipeline it
// drives are never touched from two goroutines at once.
type Runner struct {
	mbx      *Mailbox
	interval time.Duration

	reqChan      chan runRequest
	snapshotChan chan chan []Emergency
	t            tomb.Tomb
}

// NewRunner starts a Runner over mbx, cycling it every interval even when
// no transfer is outstanding, and returns immediately; the goroutine runs
// until Stop is called.
func NewRunner(mbx *Mailbox, interval time.Duration) *Runner {
	r := &Runner{
		mbx:          mbx,
		interval:     interval,
		reqChan:      make(chan runRequest),
		snapshotChan: make(chan chan []Emergency),
	}
	r.t.Go(r.loop)
	return r
}

func (r *Runner) loop() error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var pending []runRequest

	drain := func() {
		if err := r.mbx.Cycle(); err != nil {
			log.WithError(err).Warn("mailbox cycle failed")
			return
		}
		i := 0
		for _, p := range pending {
			if p.msg.status().Terminal() {
				close(p.done)
				continue
			}
			pending[i] = p
			i++
		}
		pending = pending[:i]
	}

	for {
		select {
		case <-r.t.Dying():
			return nil
		case req := <-r.reqChan:
			r.mbx.enqueue(req.msg)
			pending = append(pending, req)
			drain()
		case <-ticker.C:
			drain()
		case respCh := <-r.snapshotChan:
			snap := make([]Emergency, len(r.mbx.Emergencies))
			copy(snap, r.mbx.Emergencies)
			respCh <- snap
		}
	}
}

// Stop kills the Runner's goroutine and waits for it to exit.
func (r *Runner) Stop() error {
	r.t.Kill(nil)
	return r.t.Wait()
}

// errStopped is returned by Upload/Download when the Runner's goroutine
// exits while a transfer was outstanding.
var errStopped = errors.New("ecmailbox: runner stopped")

// submit hands msg to the loop goroutine and blocks until it terminates,
// the Runner is stopped, or transferTimeout elapses. A timed-out message
// is left on the loop's pending list (harmless: it simply never reaches
// Terminal and is cleaned up when Stop tears the goroutine down).
func (r *Runner) submit(msg message) error {
	done := make(chan struct{})
	select {
	case r.reqChan <- runRequest{msg: msg, done: done}:
	case <-r.t.Dying():
		return errStopped
	}
	select {
	case <-done:
		return nil
	case <-r.t.Dying():
		return errStopped
	case <-time.After(transferTimeout):
		return errors.New("ecmailbox: transfer timed out")
	}
}

// Upload runs a complete SDO upload through the Runner's goroutine,
// blocking the caller but never touching the Mailbox from this goroutine.
func (r *Runner) Upload(index uint16, subindex uint8, completeAccess bool, buf []byte) (int, error) {
	size := len(buf)
	t := createSDO(index, subindex, completeAccess, Upload, buf, &size)
	if err := r.submit(t); err != nil {
		return 0, err
	}
	return size, t.err(r.mbx.slave.StationAddress)
}

// Download runs a complete SDO download through the Runner's goroutine.
func (r *Runner) Download(index uint16, subindex uint8, completeAccess bool, data []byte) error {
	size := len(data)
	t := createSDO(index, subindex, completeAccess, Download, data, &size)
	if err := r.submit(t); err != nil {
		return err
	}
	return t.err(r.mbx.slave.StationAddress)
}

// Emergencies returns the emergency frames the Mailbox has collected so
// far. The copy is taken by the loop goroutine itself, round-tripped
// through snapshotChan the same way submit hands off a transfer, so this
// never touches the Mailbox's Emergencies slice from the caller's
// goroutine while the loop might be appending to it.
func (r *Runner) Emergencies() []Emergency {
	respCh := make(chan []Emergency, 1)
	select {
	case r.snapshotChan <- respCh:
	case <-r.t.Dying():
		return nil
	}
	select {
	case snap := <-respCh:
		return snap
	case <-r.t.Dying():
		return nil
	}
}
