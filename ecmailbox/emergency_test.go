package ecmailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEmergency(t *testing.T) {
	body := []byte{0x30, 0x81, 0x02, 0x01, 0x02, 0x03, 0x04, 0x05}
	e := parseEmergency(body, 0x1001)

	assert.EqualValues(t, 0x1001, e.StationAddr)
	assert.EqualValues(t, 0x8130, e.ErrorCode)
	assert.EqualValues(t, 0x02, e.ErrorReg)
	assert.Equal(t, [5]byte{0x01, 0x02, 0x03, 0x04, 0x05}, e.Manufacturer)
}

func TestParseEmergencyShortBodyIsPadded(t *testing.T) {
	e := parseEmergency([]byte{0x01, 0x02}, 0x1002)
	assert.EqualValues(t, 0x0201, e.ErrorCode)
	assert.Zero(t, e.ErrorReg)
}
