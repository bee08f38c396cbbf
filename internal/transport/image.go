package transport

import "encoding/binary"

// Reference values held by DefaultImage.
const (
	ImageCellType        = 165
	ImageSerial          = "F23KA0142"
	ImageManufactureDate = 1614816000 // 2021-03-04 00:00:00 UTC
	ImageSystemDate      = 1696464000 // 2023-10-05 00:00:00 UTC
	ImageFirstCharge     = 1617235200 // 2021-04-01 00:00:00 UTC
	ImageLastToolUse     = 1696118400 // 2023-10-01 00:00:00 UTC
	ImageLastCharge      = 1696204800 // 2023-10-02 00:00:00 UTC
	ImageTemperatureADC  = 0x0200
	ImageTemperatureDeci = 389
	ImageAmpSeconds      = 2160000
	ImageRedlinkCharges  = 98
	ImageDumbCharges     = 24
)

// ImageCells are the per-cell millivolt readings held by DefaultImage.
var ImageCells = []uint16{3300, 3296, 3298, 3297, 3299}

// ImageBuckets are the seconds spent in each current band, lowest first.
var ImageBuckets = []uint32{36000, 18000, 7200, 3600, 1800, 900, 300, 120, 60, 0, 0, 0, 0, 0}

// DefaultImage returns the register memory of a healthy 5 Ah pack, laid out
// to match the built-in register dictionary.
func DefaultImage() map[uint16][]byte {
	ident := make([]byte, 0x13)
	binary.BigEndian.PutUint16(ident[0x00:], ImageCellType)
	copy(ident[0x04:], ImageSerial)
	binary.BigEndian.PutUint32(ident[0x0D:], ImageManufactureDate)
	binary.BigEndian.PutUint16(ident[0x11:], 0x0001)

	// note (20 bytes, blank) followed by the pack clock
	notes := make([]byte, 0x18)
	for i := 0; i < 20; i++ {
		notes[i] = '-'
	}
	binary.BigEndian.PutUint32(notes[0x14:], ImageSystemDate)

	live := make([]byte, 0x0C)
	for i, mv := range ImageCells {
		binary.BigEndian.PutUint16(live[i*2:], mv)
	}
	binary.BigEndian.PutUint16(live[0x0A:], ImageTemperatureADC)

	forge := make([]byte, 2)
	binary.BigEndian.PutUint16(forge, ImageTemperatureDeci)

	stats := make([]byte, 0x70)
	binary.BigEndian.PutUint32(stats[0x00:], ImageFirstCharge)
	binary.BigEndian.PutUint32(stats[0x04:], ImageLastToolUse)
	binary.BigEndian.PutUint32(stats[0x08:], ImageLastCharge)
	binary.BigEndian.PutUint32(stats[0x0C:], ImageAmpSeconds)
	binary.BigEndian.PutUint16(stats[0x10:], 3) // discharged to empty
	binary.BigEndian.PutUint16(stats[0x14:], 1) // overcurrent
	binary.BigEndian.PutUint16(stats[0x16:], 2) // low voltage
	var onTool uint32
	for i, s := range ImageBuckets {
		binary.BigEndian.PutUint32(stats[0x20+i*4:], s)
		onTool += s
	}
	binary.BigEndian.PutUint32(stats[0x1C:], onTool)
	binary.BigEndian.PutUint16(stats[0x60:], ImageRedlinkCharges)
	binary.BigEndian.PutUint16(stats[0x62:], ImageDumbCharges)
	binary.BigEndian.PutUint32(stats[0x66:], 360000)
	binary.BigEndian.PutUint32(stats[0x6A:], 7200)
	binary.BigEndian.PutUint16(stats[0x6E:], 1)

	return map[uint16][]byte{
		0x0000: ident,
		0x0023: notes,
		0x4000: live,
		0x6000: forge,
		0x9000: stats,
	}
}
