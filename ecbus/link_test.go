package ecbus

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/distributed/ecat/ecfr"
	"github.com/distributed/ecat/sim"
)

// TestLinkPipelineCrossesFrameBoundaryInOrder queues more than one frame's
// worth of datagrams and checks NextDatagram hands them back in issue
// order regardless of which underlying ecfr.Frame each one landed in, per
// spec.md's batching/reorder-freedom property for the frame pipeline.
func TestLinkPipelineCrossesFrameBoundaryInOrder(t *testing.T) {
	socket := sim.NewSocket(sim.NewL2Slave())

	// Deliberately undersized so AddDatagram has to grow the frame array
	// mid-batch, not just fill the frames NewLinkPipeline preallocated.
	lp := NewLinkPipeline(socket, 1)

	const n = ecfr.MaxDatagramsPerFrame*2 + 3 // spans 3 frames
	addr := ecfr.CreateAddress(0x1000, 0)

	for i := 0; i < n; i++ {
		if _, err := lp.AddDatagram(uint8(i), ecfr.FPRD, addr, nil, 1); err != nil {
			t.Fatalf("AddDatagram %d: %v", i, err)
		}
	}

	if got := lp.DatagramCount(); got != n {
		t.Fatalf("expected %d queued datagrams, got %d", n, got)
	}

	if err := lp.ProcessFrames(); err != nil {
		t.Fatalf("ProcessFrames: %v", err)
	}

	for i := 0; i < n; i++ {
		dg, err := lp.NextDatagram()
		if err != nil {
			t.Fatalf("NextDatagram %d: %v", i, err)
		}
		if dg.Index != uint8(i) {
			spew.Dump(dg)
			t.Fatalf("datagram %d: expected index %d, got %d", i, i, dg.Index)
		}
	}

	if _, err := lp.NextDatagram(); err == nil {
		t.Fatal("expected an error once every datagram has been drained")
	}
}
