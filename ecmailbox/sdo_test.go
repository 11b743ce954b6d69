package ecmailbox

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

// coeResponse builds a CoE response payload (header + SDO body), the same
// shape Mailbox.receive hands to message.process.
func coeResponse(cmd byte, rest ...byte) []byte {
	b := make([]byte, coeHeaderLen+1)
	binary.LittleEndian.PutUint16(b, uint16(coeServiceSDOResponse)<<12)
	b[coeHeaderLen] = cmd
	return append(b, rest...)
}

func TestSDOExpeditedUploadRoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	size := len(buf)
	tr := createSDO(0x6000, 0x01, false, Upload, buf, &size)

	req := tr.request()
	if sdoCommandSpecifier(req[coeHeaderLen]) != ccsInitiateUpload {
		spew.Dump(req)
		t.Fatalf("expected initiate upload request")
	}

	want := []byte{0xde, 0xad, 0xbe, 0xef}
	cmd := byte(scsInitiateUpload)<<5 | sdoBitExpedited | sdoBitSizeIndicated
	resp := coeResponse(cmd, 0, 0, 0, want[0], want[1], want[2], want[3])

	if r := tr.process(resp); r != ResultFinalize {
		t.Fatalf("expected ResultFinalize, got %v", r)
	}
	if tr.status() != StatusSuccess {
		t.Fatalf("expected success, got %v", tr.status())
	}
	if size != 4 || !bytes.Equal(buf, want) {
		spew.Dump(buf, size)
		t.Fatalf("expedited upload didn't round trip")
	}
}

func TestSDOSegmentedUploadRoundTrip(t *testing.T) {
	payload := []byte("this object dictionary entry is longer than a single segment")
	buf := make([]byte, len(payload))
	size := len(buf)
	tr := createSDO(0x1018, 0x00, false, Upload, buf, &size)

	_ = tr.request() // initiate upload

	initCmd := byte(scsInitiateUpload) << 5 // not expedited: normal/segmented transfer
	if r := tr.process(coeResponse(initCmd)); r != ResultContinue {
		t.Fatalf("expected ResultContinue after non-expedited initiate, got %v", r)
	}

	var got []byte
	wantToggle := false
	for off := 0; off < len(payload); {
		req := tr.request()
		gotToggle := req[coeHeaderLen]&sdoBitCompleteAccessOrToggle != 0
		if gotToggle != wantToggle {
			t.Fatalf("segment request toggle mismatch: got %v want %v", gotToggle, wantToggle)
		}

		n := segmentDataLen
		last := false
		if len(payload)-off <= segmentDataLen {
			n = len(payload) - off
			last = true
		}

		cmd := byte(scsUploadSegment) << 5
		if wantToggle {
			cmd |= sdoBitCompleteAccessOrToggle
		}
		cmd |= byte((segmentDataLen-n)&0x07) << 1
		if last {
			cmd |= sdoBitLastSegment
		}

		body := append([]byte{cmd}, payload[off:off+n]...)
		resp := append(coeResponse(0)[:coeHeaderLen], body...)

		result := tr.process(resp)
		got = append(got, payload[off:off+n]...)
		off += n

		if last {
			if result != ResultFinalize {
				t.Fatalf("expected ResultFinalize on last segment, got %v", result)
			}
		} else {
			if result != ResultContinue {
				t.Fatalf("expected ResultContinue, got %v", result)
			}
			wantToggle = !wantToggle
		}
	}

	if tr.status() != StatusSuccess {
		spew.Dump(tr)
		t.Fatalf("expected success, got %v", tr.status())
	}
	if size != len(payload) || !bytes.Equal(got, payload) {
		t.Fatalf("segmented upload didn't round trip")
	}
}

func TestSDOUploadBadToggleAborts(t *testing.T) {
	buf := make([]byte, 32)
	size := len(buf)
	tr := createSDO(0x1018, 0x00, false, Upload, buf, &size)
	_ = tr.request()
	tr.process(coeResponse(byte(scsInitiateUpload) << 5))

	_ = tr.request() // first segment request, toggle expected false

	cmd := byte(scsUploadSegment)<<5 | sdoBitCompleteAccessOrToggle // wrong toggle
	resp := append(coeResponse(0)[:coeHeaderLen], cmd)
	resp = append(resp, make([]byte, segmentDataLen)...)

	if r := tr.process(resp); r != ResultFinalize {
		t.Fatalf("expected ResultFinalize on bad toggle, got %v", r)
	}
	if tr.status() != StatusBadToggleBit {
		t.Fatalf("expected StatusBadToggleBit, got %v", tr.status())
	}
}

func TestSDOUploadWrongServiceAborts(t *testing.T) {
	buf := make([]byte, 4)
	size := len(buf)
	tr := createSDO(0x6000, 0x01, false, Upload, buf, &size)
	_ = tr.request() // initiate upload, expects scsInitiateUpload back

	// scsDownloadSegment is a defined specifier, just not the one this
	// phase is waiting for.
	resp := coeResponse(byte(scsDownloadSegment) << 5)
	if r := tr.process(resp); r != ResultFinalize {
		t.Fatalf("expected ResultFinalize, got %v", r)
	}
	if tr.status() != StatusWrongService {
		spew.Dump(tr)
		t.Fatalf("expected StatusWrongService, got %v", tr.status())
	}
}

func TestSDOUploadUnknownServiceAborts(t *testing.T) {
	buf := make([]byte, 4)
	size := len(buf)
	tr := createSDO(0x6000, 0x01, false, Upload, buf, &size)
	_ = tr.request() // initiate upload

	// specifier 7 is unassigned by CoE.
	resp := coeResponse(byte(7) << 5)
	if r := tr.process(resp); r != ResultFinalize {
		t.Fatalf("expected ResultFinalize, got %v", r)
	}
	if tr.status() != StatusUnknownService {
		spew.Dump(tr)
		t.Fatalf("expected StatusUnknownService, got %v", tr.status())
	}
}

func TestSDODownloadWrongServiceAborts(t *testing.T) {
	data := []byte{1, 2, 3}
	size := len(data)
	tr := createSDO(0x6001, 0x02, false, Download, data, &size)
	_ = tr.request() // initiate download, expects scsInitiateDownload back

	resp := coeResponse(byte(scsUploadSegment) << 5)
	if r := tr.process(resp); r != ResultFinalize {
		t.Fatalf("expected ResultFinalize, got %v", r)
	}
	if tr.status() != StatusWrongService {
		spew.Dump(tr)
		t.Fatalf("expected StatusWrongService, got %v", tr.status())
	}
}

func TestSDODownloadUnknownServiceAborts(t *testing.T) {
	data := []byte{1, 2, 3}
	size := len(data)
	tr := createSDO(0x6001, 0x02, false, Download, data, &size)
	_ = tr.request() // initiate download

	resp := coeResponse(byte(6) << 5)
	if r := tr.process(resp); r != ResultFinalize {
		t.Fatalf("expected ResultFinalize, got %v", r)
	}
	if tr.status() != StatusUnknownService {
		spew.Dump(tr)
		t.Fatalf("expected StatusUnknownService, got %v", tr.status())
	}
}

func TestSDOAbortIsSurfaced(t *testing.T) {
	buf := make([]byte, 4)
	size := len(buf)
	tr := createSDO(0x6000, 0x01, false, Upload, buf, &size)
	_ = tr.request()

	abortPayload := coeResponse(0x80, 0, 0, 0, 0x06, 0x00, 0x00, 0x00)
	if r := tr.process(abortPayload); r != ResultFinalize {
		t.Fatalf("expected ResultFinalize on abort, got %v", r)
	}
	if tr.status() != StatusAborted {
		t.Fatalf("expected StatusAborted, got %v", tr.status())
	}

	err := tr.err(0x1000)
	ae, ok := err.(*AbortError)
	if !ok {
		spew.Dump(err)
		t.Fatalf("expected *AbortError, got %T", err)
	}
	if ae.Code != 0x00000006 {
		t.Fatalf("expected abort code 0x6, got %#08x", ae.Code)
	}
}

func TestSDOExpeditedDownloadRoundTrip(t *testing.T) {
	data := []byte{1, 2, 3}
	size := len(data)
	tr := createSDO(0x6001, 0x02, false, Download, data, &size)

	req := tr.request()
	if sdoCommandSpecifier(req[coeHeaderLen]) != ccsInitiateDownload {
		t.Fatalf("expected initiate download request")
	}
	if req[coeHeaderLen]&sdoBitExpedited == 0 {
		t.Fatalf("expected expedited bit set for a 3 byte payload")
	}

	resp := coeResponse(byte(scsInitiateDownload) << 5)
	if r := tr.process(resp); r != ResultFinalize {
		t.Fatalf("expected ResultFinalize, got %v", r)
	}
	if tr.status() != StatusSuccess {
		t.Fatalf("expected success, got %v", tr.status())
	}
}

func TestSDOSegmentedDownloadRoundTrip(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	size := len(data)
	tr := createSDO(0x1c12, 0x01, false, Download, data, &size)

	_ = tr.request() // initiate download
	if r := tr.process(coeResponse(byte(scsInitiateDownload) << 5)); r != ResultContinue {
		t.Fatalf("expected ResultContinue after initiate")
	}

	transferred := 0
	wantToggle := false
	for transferred < len(data) {
		req := tr.request()
		gotToggle := req[coeHeaderLen]&sdoBitCompleteAccessOrToggle != 0
		if gotToggle != wantToggle {
			t.Fatalf("download segment toggle mismatch: got %v want %v", gotToggle, wantToggle)
		}

		last := len(data)-transferred <= segmentDataLen
		n := segmentDataLen
		if last {
			n = len(data) - transferred
		}
		transferred += n

		cmd := byte(scsDownloadSegment) << 5
		if wantToggle {
			cmd |= sdoBitCompleteAccessOrToggle
		}
		result := tr.process(coeResponse(cmd))

		if last {
			if result != ResultFinalize {
				t.Fatalf("expected ResultFinalize on last segment ack, got %v", result)
			}
		} else {
			if result != ResultContinue {
				t.Fatalf("expected ResultContinue, got %v", result)
			}
			wantToggle = !wantToggle
		}
	}

	if tr.status() != StatusSuccess || size != len(data) {
		spew.Dump(tr)
		t.Fatalf("segmented download didn't complete cleanly")
	}
}
