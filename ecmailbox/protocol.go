// Package ecmailbox is C5: the per-slave mailbox transport (CoE SDO
// upload/download, emergencies) layered over the datagrams ecbus's
// LinkPipeline carries.
package ecmailbox

// Mailbox sub-protocol type codes, carried in the high nibble of the
// mailbox header's type/counter byte. Only CoE is implemented; the
// others are named so a frame carrying them can at least be logged
// instead of misread as CoE.
const (
	TypeAoE = 0x01
	TypeEoE = 0x02
	TypeCoE = 0x03
	TypeFoE = 0x04
	TypeSoE = 0x05
	TypeVoE = 0x0f
)

// mailboxHeaderLen is the 6 byte header every mailbox payload (request or
// response) carries ahead of its sub-protocol data, per spec.md §6.
const mailboxHeaderLen = 6

// CoE service codes, the high nibble of the 2 byte CoE header.
const (
	coeServiceEmergency    = 0x1
	coeServiceSDORequest   = 0x2
	coeServiceSDOResponse  = 0x3
	coeServiceTxPDO        = 0x4
	coeServiceRxPDO        = 0x5
	coeServiceTxPDORemote  = 0x6
	coeServiceRxPDORemote  = 0x7
	coeServiceSDOInfo      = 0x8
)

// coeHeaderLen is the 2 byte CoE service header following the mailbox
// header.
const coeHeaderLen = 2

// SDO command specifiers (CCS from client, SCS from server), the top 3
// bits of the SDO command byte, per CiA 301 §7.2.4 as EtherCAT's CoE
// reuses it. Grounded on other_examples/notnil-canbus's sdoCCS*/sdoSCS*
// naming.
const (
	ccsDownloadSegment   = 0
	ccsInitiateDownload  = 1
	ccsInitiateUpload    = 2
	ccsUploadSegment     = 3
	ccsAbort             = 4

	scsUploadSegment    = 0
	scsDownloadSegment  = 1
	scsInitiateUpload   = 2
	scsInitiateDownload = 3
	scsAbort            = 4
)

// SDO command byte bit positions. Bit 4 is overloaded: on an initiate
// command it is EtherCAT CoE's Complete Access flag (ETG.1000.6); on a
// segment command it is the alternating toggle bit.
const (
	sdoBitCompleteAccessOrToggle = 1 << 4
	sdoBitExpedited              = 1 << 3
	sdoBitSizeIndicated          = 1 << 2
	sdoBitLastSegment            = 1 << 0
)

// coeService extracts the service code from a 2 byte CoE header: the high
// nibble of the header's second (high) byte once read little-endian.
func coeService(header []byte) byte {
	return byte((uint16(header[0]) | uint16(header[1])<<8) >> 12)
}

func sdoCommandSpecifier(b byte) byte { return b >> 5 }

// knownSCS reports whether a 3 bit server command specifier names one of
// CoE's five defined values (0..4). The remaining 3 bit values (5..7) are
// unassigned, so a response carrying one of those is a genuinely unknown
// service rather than a known one the client just wasn't expecting, per
// spec.md §4.5/§7's distinction between COE_WRONG_SERVICE and
// COE_UNKNOWN_SERVICE.
func knownSCS(specifier byte) bool {
	switch specifier {
	case scsUploadSegment, scsDownloadSegment, scsInitiateUpload, scsInitiateDownload, scsAbort:
		return true
	default:
		return false
	}
}

func sdoSegmentUnusedBytes(b byte) int { return int(b>>1) & 0x07 }

func sdoInitiateUnusedBytes(b byte) int { return int(b) & 0x03 }
