package p3message

import (
	"fmt"
	"strings"

	"github.com/bmxtiming/p3server/internal/p3codec"
)

// formatDecoderID renders a decoder ID TLV value as uppercase hex, byte-for-
// byte in wire order. A derivation that reinterprets the bytes as a
// little-endian integer first produces the wrong string — this must stay a
// direct per-byte hex dump.
func formatDecoderID(value []byte) string {
	var sb strings.Builder
	for _, b := range value {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// PassingMessage is a decoded PASSING message.
type PassingMessage struct {
	PassingNumber     uint32  `json:"passing_number"`
	TransponderID     uint32  `json:"transponder_id"`
	RtcTimeUs         uint64  `json:"rtc_time_us"`
	UtcTimeUs         *uint64 `json:"utc_time_us,omitempty"`
	Strength          *uint16 `json:"strength,omitempty"`
	Hits              *uint16 `json:"hits,omitempty"`
	TransponderString *string `json:"transponder_string,omitempty"`
	Flags             uint16  `json:"flags"`
	DecoderID         *string `json:"decoder_id,omitempty"`
}

// StatusMessage is a decoded STATUS message.
type StatusMessage struct {
	Noise       uint16  `json:"noise"`
	GpsStatus   uint8   `json:"gps_status"`
	Temperature int16   `json:"temperature"`
	Satellites  uint8   `json:"satellites"`
	DecoderID   *string `json:"decoder_id,omitempty"`
}

// VersionMessage is a decoded VERSION message.
type VersionMessage struct {
	DecoderID   string  `json:"decoder_id"`
	Description string  `json:"description"`
	Version     string  `json:"version"`
	Build       *uint16 `json:"build,omitempty"`
}

// PassingFromFields builds a PassingMessage from decoded TLV fields.
func PassingFromFields(fields []p3codec.TLVField) (*PassingMessage, error) {
	var (
		passingNumber, transponderID                   *uint32
		rtcTimeUs, utcTimeUs                            *uint64
		strength, hits, flags                           *uint16
		transponderString, decoderID                    *string
	)

	for _, f := range fields {
		switch f.Tag {
		case TagPassingNumber:
			if v, ok := p3codec.DecodeU32(f.Value); ok {
				passingNumber = &v
			}
		case TagTransponder:
			if v, ok := p3codec.DecodeU32(f.Value); ok {
				transponderID = &v
			}
		case TagRtcTime:
			if v, ok := p3codec.DecodeU64(f.Value); ok {
				rtcTimeUs = &v
			}
		case TagUtcTime:
			if v, ok := p3codec.DecodeU64(f.Value); ok {
				utcTimeUs = &v
			}
		case TagStrength:
			if v, ok := p3codec.DecodeU16(f.Value); ok {
				strength = &v
			}
		case TagHits:
			if v, ok := p3codec.DecodeU16(f.Value); ok {
				hits = &v
			}
		case TagString:
			s := string(f.Value)
			transponderString = &s
		case TagFlags:
			if v, ok := p3codec.DecodeU16(f.Value); ok {
				flags = &v
			}
		case TagPassingDecoderID:
			s := formatDecoderID(f.Value)
			decoderID = &s
		}
	}

	if passingNumber == nil {
		return nil, &MissingFieldError{Field: "PASSING_NUMBER", Tag: TagPassingNumber}
	}
	if transponderID == nil {
		return nil, &MissingFieldError{Field: "TRANSPONDER", Tag: TagTransponder}
	}
	if rtcTimeUs == nil {
		return nil, &MissingFieldError{Field: "RTC_TIME", Tag: TagRtcTime}
	}
	if flags == nil {
		return nil, &MissingFieldError{Field: "FLAGS", Tag: TagFlags}
	}

	return &PassingMessage{
		PassingNumber:     *passingNumber,
		TransponderID:     *transponderID,
		RtcTimeUs:         *rtcTimeUs,
		UtcTimeUs:         utcTimeUs,
		Strength:          strength,
		Hits:              hits,
		TransponderString: transponderString,
		Flags:             *flags,
		DecoderID:         decoderID,
	}, nil
}

// StatusFromFields builds a StatusMessage from decoded TLV fields.
func StatusFromFields(fields []p3codec.TLVField) (*StatusMessage, error) {
	var (
		noise                          *uint16
		gpsStatus, satellites          *uint8
		temperature                    *int16
		decoderID                      *string
	)

	for _, f := range fields {
		switch f.Tag {
		case TagNoise:
			if v, ok := p3codec.DecodeU16(f.Value); ok {
				noise = &v
			}
		case TagGpsStatus:
			if len(f.Value) > 0 {
				v := f.Value[0]
				gpsStatus = &v
			}
		case TagTemperature:
			if v, ok := p3codec.DecodeI16(f.Value); ok {
				temperature = &v
			}
		case TagSatInUse:
			if len(f.Value) > 0 {
				v := f.Value[0]
				satellites = &v
			}
		case TagStatusDecoderID:
			s := formatDecoderID(f.Value)
			decoderID = &s
		}
	}

	if noise == nil {
		return nil, &MissingFieldError{Field: "NOISE", Tag: TagNoise}
	}
	if gpsStatus == nil {
		return nil, &MissingFieldError{Field: "GPS_STATUS", Tag: TagGpsStatus}
	}
	if temperature == nil {
		return nil, &MissingFieldError{Field: "TEMPERATURE", Tag: TagTemperature}
	}
	if satellites == nil {
		return nil, &MissingFieldError{Field: "SATINUSE", Tag: TagSatInUse}
	}

	return &StatusMessage{
		Noise:       *noise,
		GpsStatus:   *gpsStatus,
		Temperature: *temperature,
		Satellites:  *satellites,
		DecoderID:   decoderID,
	}, nil
}

// VersionFromFields builds a VersionMessage from decoded TLV fields.
func VersionFromFields(fields []p3codec.TLVField) (*VersionMessage, error) {
	var (
		decoderID, description, versionStr *string
		build                               *uint16
	)

	for _, f := range fields {
		switch f.Tag {
		case TagVersionDecoderID:
			s := formatDecoderID(f.Value)
			decoderID = &s
		case TagDescription:
			s := string(f.Value)
			description = &s
		case TagVersionString:
			s := string(f.Value)
			versionStr = &s
		case TagBuild:
			if v, ok := p3codec.DecodeU16(f.Value); ok {
				build = &v
			}
		}
	}

	if decoderID == nil {
		return nil, &MissingFieldError{Field: "DECODER_ID", Tag: TagVersionDecoderID}
	}
	if description == nil {
		return nil, &MissingFieldError{Field: "DESCRIPTION", Tag: TagDescription}
	}
	if versionStr == nil {
		return nil, &MissingFieldError{Field: "VERSION", Tag: TagVersionString}
	}

	return &VersionMessage{
		DecoderID:   *decoderID,
		Description: *description,
		Version:     *versionStr,
		Build:       build,
	}, nil
}
