package drm

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/matjam/kmsd/internal/types"
)

var ErrInvalidEDID = errors.New("invalid edid")

var edidHeader = []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

const (
	edidBlockLen       = 128
	edidDescriptorBase = 54
	edidDescriptorLen  = 18
	edidTagMonitorName = 0xfc
)

// ParseEDID extracts the manufacturer and model of an EDID base block. The
// model is the monitor name descriptor, or the product code if the monitor
// has none.
func ParseEDID(data []byte) (types.EDIDInfo, error) {
	if len(data) < edidBlockLen || !bytes.Equal(data[:8], edidHeader) {
		return types.EDIDInfo{}, ErrInvalidEDID
	}

	// three 5 bit letters, 'A' is 1
	id := uint16(data[8])<<8 | uint16(data[9])
	manufacturer := string([]byte{
		byte('A' - 1 + (id>>10)&0x1f),
		byte('A' - 1 + (id>>5)&0x1f),
		byte('A' - 1 + id&0x1f),
	})

	model := ""
	for i := 0; i < 4; i++ {
		d := data[edidDescriptorBase+i*edidDescriptorLen:][:edidDescriptorLen]
		if d[0] != 0 || d[1] != 0 || d[3] != edidTagMonitorName {
			continue
		}
		text, _, _ := bytes.Cut(d[5:], []byte{'\n'})
		model = strings.TrimSpace(string(text))
		break
	}
	if model == "" {
		product := uint16(data[10]) | uint16(data[11])<<8
		model = fmt.Sprintf("0x%04X", product)
	}

	return types.EDIDInfo{Manufacturer: manufacturer, Model: model}, nil
}
