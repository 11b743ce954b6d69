package ecee

// Word addresses (in 16 bit words, not bytes) within a slave's EEPROM that
// the bus controller's bulk bring-up readout visits. These are distinct
// from the ecad register offsets used to talk to the EEPROM *interface*;
// this is the data the interface exposes.
const (
	WordVendorID        = 0x08
	WordProductCode     = 0x0A
	WordRevisionNumber  = 0x0C
	WordSerialNumber    = 0x0E
	WordStandardMailbox = 0x18
	WordRecvMboOffset   = WordStandardMailbox + 0
	WordSendMboOffset   = WordStandardMailbox + 2
	WordMailboxProtocol = 0x1C
	WordEEPROMSize      = 0x3E
)

// DecodeEEPROMSize splits the EEPROM_SIZE word into its byte size and ESI
// version: the low byte is (kibits - 1), and the high word is the
// version. Per spec §8 property 6, word 0x0007_0002 decodes to 384 bytes,
// version 7.
func DecodeEEPROMSize(word uint32) (sizeBytes int, version uint16) {
	kibitsMinusOne := uint8(word)
	sizeBytes = (int(kibitsMinusOne) + 1) * 128
	version = uint16(word >> 16)
	return
}
