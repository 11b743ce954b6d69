package ecmailbox

import "encoding/binary"

// Request distinguishes an SDO upload (read the slave's object
// dictionary) from a download (write it), the two operations createSDO
// produces messages for.
type Request int

const (
	Upload Request = iota
	Download
)

const segmentDataLen = 7

// sdoTransfer is the SDO state machine message kind: spec.md §4.5 names
// four variants (expedited/segmented upload/download); here they are one
// type whose behavior forks on request and segmented.
type sdoTransfer struct {
	index          uint16
	subindex       uint8
	completeAccess bool
	reqKind        Request

	data     []byte // client buffer: source for Download, destination for Upload
	dataSize *int   // capacity on entry (Upload) / bytes transferred on exit

	segmented   bool // true once initiate established a non-expedited transfer
	toggle      bool
	transferred int

	// pendingChunkLen/pendingLast describe the segment request() most
	// recently built for a Download, consumed by the next process() call
	// once its response arrives.
	pendingChunkLen int
	pendingLast     bool

	started bool
	st      Status
	abort   uint32
}

// createSDO builds a new SDO transfer message, per spec.md §4.5's
// factory. For Upload, *dataSize is the capacity of data on entry and is
// overwritten with the actual byte count on completion; for Download it
// is the number of bytes of data to send.
func createSDO(index uint16, subindex uint8, completeAccess bool, request Request, data []byte, dataSize *int) *sdoTransfer {
	return &sdoTransfer{
		index:          index,
		subindex:       subindex,
		completeAccess: completeAccess,
		reqKind:        request,
		data:           data,
		dataSize:       dataSize,
		st:             StatusRunning,
	}
}

func (t *sdoTransfer) status() Status { return t.st }

// request satisfies the message interface.
func (t *sdoTransfer) request() []byte {
	if !t.started {
		t.started = true
		if t.reqKind == Upload {
			return t.buildInitiateUpload()
		}
		return t.buildInitiateDownload()
	}

	if t.reqKind == Upload {
		return t.buildUploadSegmentRequest()
	}
	return t.buildDownloadSegmentRequest()
}

func (t *sdoTransfer) caBit() byte {
	if t.completeAccess {
		return sdoBitCompleteAccessOrToggle
	}
	return 0
}

func (t *sdoTransfer) buildInitiateUpload() []byte {
	b := make([]byte, coeHeaderLen+8)
	putCoEHeader(b, coeServiceSDORequest)
	cmd := byte(ccsInitiateUpload)<<5 | t.caBit()
	b[coeHeaderLen] = cmd
	binary.LittleEndian.PutUint16(b[coeHeaderLen+1:], t.index)
	b[coeHeaderLen+3] = t.subindex
	return b
}

func (t *sdoTransfer) buildUploadSegmentRequest() []byte {
	b := make([]byte, coeHeaderLen+8)
	putCoEHeader(b, coeServiceSDORequest)
	cmd := byte(ccsUploadSegment) << 5
	if t.toggle {
		cmd |= sdoBitCompleteAccessOrToggle
	}
	b[coeHeaderLen] = cmd
	return b
}

func (t *sdoTransfer) buildInitiateDownload() []byte {
	b := make([]byte, coeHeaderLen+8)
	putCoEHeader(b, coeServiceSDORequest)

	if len(t.data) <= 4 {
		n := 4 - len(t.data)
		cmd := byte(ccsInitiateDownload)<<5 | t.caBit() | sdoBitExpedited | sdoBitSizeIndicated | byte(n&0x03)
		b[coeHeaderLen] = cmd
		binary.LittleEndian.PutUint16(b[coeHeaderLen+1:], t.index)
		b[coeHeaderLen+3] = t.subindex
		copy(b[coeHeaderLen+4:], t.data)
		return b
	}

	cmd := byte(ccsInitiateDownload)<<5 | t.caBit() | sdoBitSizeIndicated
	b[coeHeaderLen] = cmd
	binary.LittleEndian.PutUint16(b[coeHeaderLen+1:], t.index)
	b[coeHeaderLen+3] = t.subindex
	binary.LittleEndian.PutUint32(b[coeHeaderLen+4:], uint32(len(t.data)))
	return b
}

func (t *sdoTransfer) buildDownloadSegmentRequest() []byte {
	remaining := t.data[t.transferred:]
	n := segmentDataLen
	last := false
	if len(remaining) <= segmentDataLen {
		n = len(remaining)
		last = true
	}

	b := make([]byte, coeHeaderLen+1+segmentDataLen)
	putCoEHeader(b, coeServiceSDORequest)
	cmd := byte(ccsDownloadSegment) << 5
	if t.toggle {
		cmd |= sdoBitCompleteAccessOrToggle
	}
	cmd |= byte((segmentDataLen-n)&0x07) << 1
	if last {
		cmd |= sdoBitLastSegment
	}
	b[coeHeaderLen] = cmd
	copy(b[coeHeaderLen+1:], remaining[:n])

	t.pendingChunkLen = n
	t.pendingLast = last

	return b
}

// process dispatches a received CoE payload (mailbox header already
// stripped by the Mailbox, CoE header still attached). A payload whose CoE
// header doesn't name the SDO response service is left for the next
// candidate on to_process, per message.process's Noop contract.
func (t *sdoTransfer) process(payload []byte) ProcessingResult {
	if len(payload) < coeHeaderLen+1 {
		return ResultNoop
	}
	if coeService(payload) != coeServiceSDOResponse {
		return ResultNoop
	}
	body := payload[coeHeaderLen:]
	cmd := body[0]

	if cmd == 0x80 {
		t.st = StatusAborted
		if len(body) >= 8 {
			t.abort = binary.LittleEndian.Uint32(body[4:8])
		}
		return ResultFinalize
	}

	if t.reqKind == Upload {
		return t.processUpload(cmd, body)
	}
	return t.processDownload(cmd, body)
}

func (t *sdoTransfer) processUpload(cmd byte, payload []byte) ProcessingResult {
	if !t.segmented && t.transferred == 0 && !t.hasStartedSegments() {
		if got := sdoCommandSpecifier(cmd); got != scsInitiateUpload {
			return t.rejectSpecifier(got)
		}

		if cmd&sdoBitExpedited != 0 {
			n := sdoInitiateUnusedBytes(cmd)
			size := 4 - n
			if size > len(t.data) {
				t.st = StatusClientBufferTooSmall
				return ResultFinalize
			}
			copy(t.data, payload[4:4+size])
			*t.dataSize = size
			t.st = StatusSuccess
			return ResultFinalize
		}

		t.segmented = true
		t.toggle = false
		return ResultContinue
	}

	if got := sdoCommandSpecifier(cmd); got != scsUploadSegment {
		return t.rejectSpecifier(got)
	}

	got := cmd&sdoBitCompleteAccessOrToggle != 0
	if got != t.toggle {
		t.st = StatusBadToggleBit
		return ResultFinalize
	}

	n := sdoSegmentUnusedBytes(cmd)
	segLen := segmentDataLen - n
	if t.transferred+segLen > len(t.data) {
		t.st = StatusClientBufferTooSmall
		return ResultFinalize
	}
	copy(t.data[t.transferred:], payload[1:1+segLen])
	t.transferred += segLen

	if cmd&sdoBitLastSegment != 0 {
		*t.dataSize = t.transferred
		t.st = StatusSuccess
		return ResultFinalize
	}

	t.toggle = !t.toggle
	return ResultContinue
}

// rejectSpecifier finalizes the transfer after a response whose command
// specifier didn't match what this phase expected: StatusWrongService for
// one of CoE's five defined specifiers arriving out of turn,
// StatusUnknownService for a specifier CoE never assigned.
func (t *sdoTransfer) rejectSpecifier(specifier byte) ProcessingResult {
	if knownSCS(specifier) {
		t.st = StatusWrongService
	} else {
		t.st = StatusUnknownService
	}
	return ResultFinalize
}

// hasStartedSegments distinguishes "segmented upload, first segment
// reply not seen yet" from "expedited, nothing seen yet": both have
// transferred==0, but the former already flipped segmented to true.
func (t *sdoTransfer) hasStartedSegments() bool { return t.segmented }

func (t *sdoTransfer) processDownload(cmd byte, payload []byte) ProcessingResult {
	if !t.segmented {
		if got := sdoCommandSpecifier(cmd); got != scsInitiateDownload {
			return t.rejectSpecifier(got)
		}

		if len(t.data) <= 4 {
			*t.dataSize = len(t.data)
			t.st = StatusSuccess
			return ResultFinalize
		}

		t.segmented = true
		t.toggle = false
		return ResultContinue
	}

	if got := sdoCommandSpecifier(cmd); got != scsDownloadSegment {
		return t.rejectSpecifier(got)
	}

	got := cmd&sdoBitCompleteAccessOrToggle != 0
	if got != t.toggle {
		t.st = StatusBadToggleBit
		return ResultFinalize
	}

	t.transferred += t.pendingChunkLen
	if t.pendingLast {
		*t.dataSize = t.transferred
		t.st = StatusSuccess
		return ResultFinalize
	}

	t.toggle = !t.toggle
	return ResultContinue
}

// err converts a terminal non-success status into an error the caller of
// Mailbox.Upload/Download can return; nil while running or on success.
func (t *sdoTransfer) err(stationAddr uint16) error {
	switch t.st {
	case StatusRunning, StatusSuccess:
		return nil
	case StatusAborted:
		return &AbortError{Code: t.abort, Index: t.index, Subindex: t.subindex, StationAddr: stationAddr}
	default:
		return &StatusError{Status: t.st, Index: t.index, Subindex: t.subindex, StationAddr: stationAddr}
	}
}

func putCoEHeader(b []byte, service byte) {
	binary.LittleEndian.PutUint16(b, uint16(service)<<12)
}
