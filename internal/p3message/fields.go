// Package p3message decodes typed decoder messages (Passing, Status,
// Version) from the TLV fields a p3codec.Frame carries.
package p3message

// TLV field tags, validated against live capture data from a MyLaps ProChip
// decoder.
const (
	// Passing message tags.
	TagPassingNumber byte = 0x01
	TagTransponder   byte = 0x03
	TagRtcTime       byte = 0x04
	TagStrength      byte = 0x05
	TagHits          byte = 0x06
	TagFlags         byte = 0x08
	TagString        byte = 0x0A
	TagUtcTime       byte = 0x10
	TagPassingDecoderID byte = 0x81

	// Status message tags. These are the tags real decoders emit; a second,
	// incompatible community-documented tag set (0x15/0x16/0x17/0x18) exists
	// and must not be accepted — it does not match live capture data.
	TagNoise           byte = 0x01
	TagGpsStatus       byte = 0x06
	TagTemperature     byte = 0x07
	TagSatInUse        byte = 0x0A
	TagStatusDecoderID byte = 0x81

	// Version message tags (not validated against live capture; based on
	// community documentation).
	TagVersionDecoderID byte = 0x20
	TagDescription      byte = 0x21
	TagVersionString    byte = 0x22
	TagBuild            byte = 0x23
)

// Reserved transponder IDs mark gate-drop timing beacons rather than rider
// transponders.
const (
	GateDrop5m    uint32 = 9991
	GateDrop8m    uint32 = 9992
	GateDropOther uint32 = 9995
)

// IsReservedTransponderID reports whether id belongs to a gate-drop beacon
// rather than a rider's chip.
func IsReservedTransponderID(id uint32) bool {
	return id == GateDrop5m || id == GateDrop8m || id == GateDropOther
}
