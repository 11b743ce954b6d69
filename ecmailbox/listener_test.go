package ecmailbox

import (
	"testing"
	"time"

	"github.com/distributed/ecat/ecbus"
	"github.com/distributed/ecat/sim"
)

func newTestMailbox() *Mailbox {
	slave := &ecbus.Slave{StationAddress: 0x1000}
	link := ecbus.NewLinkPipeline(sim.NewSocket(sim.NewL2Slave()), 4)
	return NewMailbox(slave, link)
}

func TestRunnerStopIsClean(t *testing.T) {
	r := NewRunner(newTestMailbox(), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// TestRunnerStopUnblocksPendingUpload checks that a caller blocked in
// Upload is released once the Runner's goroutine is killed, rather than
// hanging forever on a transfer that will never complete (there is no
// live CoE responder on the simulated slave here).
func TestRunnerStopUnblocksPendingUpload(t *testing.T) {
	r := NewRunner(newTestMailbox(), time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 4)
		_, err := r.Upload(0x1018, 0x01, false, buf)
		errCh <- err
	}()

	time.Sleep(5 * time.Millisecond)
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected an error once the runner stopped mid-transfer")
		}
	case <-time.After(time.Second):
		t.Fatal("Upload did not return after Stop")
	}
}
