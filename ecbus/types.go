package ecbus

// Mailbox describes where on a slave's DPRAM the standard mailbox sync
// managers live, as read out of its EEPROM during bring-up, plus the
// live can_read/can_write flags Bus.CheckMailboxes maintains from SM
// status polls.
type Mailbox struct {
	RecvOffset, RecvSize uint16
	SendOffset, SendSize uint16

	CanRead, CanWrite bool
}

// Protocol bits a slave's EEPROM MAILBOX_PROTOCOL word may set.
const (
	ProtoEoE = 0x02
	ProtoCoE = 0x04
	ProtoFoE = 0x08
	ProtoSoE = 0x10
	ProtoVoE = 0x20
)

// Slave is one station on the ring, as discovered and configured by Bus.
// Everything but Name is written only during bring-up (or,
// for CanRead/CanWrite, by the mailbox availability poll).
type Slave struct {
	StationAddress uint16

	// Name is cosmetic, filled in by the standalone binary from config;
	// discovery never sets it.
	Name string

	VendorID    uint32
	ProductCode uint32
	Revision    uint32
	Serial      uint32

	Standard  Mailbox
	Bootstrap Mailbox

	MailboxProtocols uint16
	EEPROMSize       int
	EEPROMVersion    uint16
}

// SupportsMailbox reports whether the slave's EEPROM advertised any
// mailbox protocol at all; sync-manager configuration in bring-up step 5
// is skipped for slaves where this is false.
func (s *Slave) SupportsMailbox() bool {
	return s.MailboxProtocols != 0
}

// SupportsCoE reports whether the slave's EEPROM advertised CANopen over
// EtherCAT, the only mailbox protocol this core's ecmailbox speaks.
func (s *Slave) SupportsCoE() bool {
	return s.MailboxProtocols&ProtoCoE != 0
}
