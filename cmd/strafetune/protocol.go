package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Device identification
const (
	vendorID        = 0x31E3
	vendorUsagePage = 0xFF55 // the only interface that accepts writes
)

// Frame constants
const (
	magic0 = 0xD1
	magic1 = 0xDA

	handshakeByte  = 0x01
	handshakeMagic = 0x7A45465E

	fixedFrameSize  = 9 // [rid][D1][DA][cmd][param LE32]
	dataHeaderSize  = 6 // [D1][DA][cmd][options][len LE16]
	respHeaderSize  = 6 // [D1][DA][cmdEcho][status][len LE16]
	featureRespSize = 256
)

// Command identifiers
const (
	cmdActuation       = 21
	cmdRapidTrigger    = 25
	cmdActivateProfile = 23
	cmdReloadProfile   = 38
	cmdHandshake       = 39
	cmdSaveProfile     = 42
	cmdGetActuation    = 49
	cmdGetRT           = 54
)

// Response status codes
const (
	statusSuccess     = 0x88
	statusBusy        = 0x77
	statusUnsupported = 0xAA
)

// Key geometry
const (
	maxTravelMM = 4.0
	minFirmware = 7
	maxFirmware = 255
	numProfiles = 4
)

// reportSizes holds the payload size of each report ID; index 0 is unused.
var reportSizes = [...]int{0, 32, 62, 254, 510, 1022, 2046}

// Matrix positions of the movement keys, indexed keyW, keyA, keyS, keyD.
var keyPositions = [numKeys]KeyPosition{
	keyW: {Row: 2, Col: 2},
	keyA: {Row: 3, Col: 1},
	keyS: {Row: 3, Col: 2},
	keyD: {Row: 3, Col: 3},
}

var (
	// ErrDesync means a response did not carry the expected framing.
	ErrDesync = errors.New("protocol desync")
	// ErrStatus means the device answered with a non-success status.
	ErrStatus = errors.New("unexpected device status")
)

// KeyPosition is a key's place in the switch matrix.
type KeyPosition struct {
	Row uint8
	Col uint8
}

// Index returns the linear key index used on the wire.
func (p KeyPosition) Index() uint8 {
	return (p.Row&7)<<5 | (p.Col & 31)
}

// KeySetting is one per-key value in mm.
type KeySetting struct {
	Pos KeyPosition
	MM  float64
}

// KeyEntry is one decoded payload entry.
type KeyEntry struct {
	Row      uint8
	Col      uint8
	Firmware uint8
}

// Response is a decoded device response frame.
type Response struct {
	Command uint8
	Status  uint8
	Body    []byte
}

// OK reports whether the device accepted the command.
func (r Response) OK() bool {
	return r.Status == statusSuccess
}

func statusName(status uint8) string {
	switch status {
	case statusSuccess:
		return "success"
	case statusBusy:
		return "busy"
	case statusUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("0x%02X", status)
	}
}

// mmToFirmware converts a travel distance to the firmware's 8-bit scale.
// Out-of-range and NaN inputs clamp before the integer conversion.
func mmToFirmware(mm float64) uint8 {
	if math.IsNaN(mm) || mm <= 0 {
		return minFirmware
	}
	if mm >= maxTravelMM {
		return maxFirmware
	}
	v := int(mm/maxTravelMM*255 + 0.5)
	if v < minFirmware {
		v = minFirmware
	}
	if v > maxFirmware {
		v = maxFirmware
	}
	return uint8(v)
}

// firmwareToMM is the inverse scale without rounding.
func firmwareToMM(v uint8) float64 {
	return float64(v) / 255 * maxTravelMM
}

// pickReportID returns the smallest report whose payload fits dataSize bytes.
func pickReportID(dataSize int) int {
	for i := 1; i < len(reportSizes); i++ {
		if dataSize <= reportSizes[i] {
			return i
		}
	}
	return len(reportSizes) - 1
}

// encodeFixedFrame builds the 9-byte feature report used for simple commands.
func encodeFixedFrame(cmd uint8, param uint32) []byte {
	buf := make([]byte, fixedFrameSize)
	buf[0] = 0x01
	buf[1] = magic0
	buf[2] = magic1
	buf[3] = cmd
	binary.LittleEndian.PutUint32(buf[4:], param)
	return buf
}

// encodeDataFrame builds an output report carrying a length-prefixed payload.
// The returned buffer starts with the report ID and is zero-padded to the
// report's size.
func encodeDataFrame(cmd, options uint8, payload []byte) []byte {
	rid := pickReportID(dataHeaderSize + len(payload))
	buf := make([]byte, 1+reportSizes[rid])
	buf[0] = byte(rid)
	buf[1] = magic0
	buf[2] = magic1
	buf[3] = cmd
	buf[4] = options
	binary.LittleEndian.PutUint16(buf[5:], uint16(len(payload)))
	copy(buf[7:], payload)
	return buf
}

// encodeHandshakeFrame builds the data-report variant of the handshake.
func encodeHandshakeFrame() []byte {
	const dataSize = 2 + 1 + 2 + 5
	rid := pickReportID(dataSize)
	buf := make([]byte, 1+reportSizes[rid])
	buf[0] = byte(rid)
	buf[1] = magic0
	buf[2] = magic1
	buf[3] = cmdHandshake
	buf[4] = 5
	buf[5] = 0
	buf[6] = handshakeByte
	binary.LittleEndian.PutUint32(buf[7:], handshakeMagic)
	return buf
}

// writeOptions packs the save flag and target profile into the options byte.
func writeOptions(profile int, save bool) uint8 {
	var o uint8
	if save {
		o = 1
	}
	return o | uint8(profile)<<1
}

// encodeKeyPayload builds the partial-profile payload: one tag 0x08 varint
// entry per key, wrapped once in a tag 0x12 length-delimited field.
func encodeKeyPayload(keys []KeySetting) []byte {
	inner := make([]byte, 0, len(keys)*4)
	for _, k := range keys {
		entry := uint64(mmToFirmware(k.MM))<<8 | uint64(k.Pos.Index())
		inner = append(inner, 0x08)
		inner = binary.AppendUvarint(inner, entry)
	}

	out := make([]byte, 0, len(inner)+6)
	out = append(out, 0x12)
	out = binary.AppendUvarint(out, uint64(len(inner)))
	return append(out, inner...)
}

// decodeKeyPayload reverses encodeKeyPayload.
func decodeKeyPayload(b []byte) ([]KeyEntry, error) {
	if len(b) < 1 || b[0] != 0x12 {
		return nil, fmt.Errorf("%w: payload missing 0x12 tag", ErrDesync)
	}
	n, sz := binary.Uvarint(b[1:])
	if sz <= 0 {
		return nil, fmt.Errorf("%w: bad payload length", ErrDesync)
	}
	inner := b[1+sz:]
	if uint64(len(inner)) < n {
		return nil, fmt.Errorf("%w: payload truncated (want %d, have %d)", ErrDesync, n, len(inner))
	}
	inner = inner[:n]

	var entries []KeyEntry
	for len(inner) > 0 {
		if inner[0] != 0x08 {
			return nil, fmt.Errorf("%w: unexpected entry tag 0x%02X", ErrDesync, inner[0])
		}
		v, sz := binary.Uvarint(inner[1:])
		if sz <= 0 {
			return nil, fmt.Errorf("%w: bad entry varint", ErrDesync)
		}
		idx := uint8(v & 0xFF)
		entries = append(entries, KeyEntry{
			Row:      idx >> 5,
			Col:      idx & 31,
			Firmware: uint8(v >> 8),
		})
		inner = inner[1+sz:]
	}
	return entries, nil
}

// decodeResponse parses [D1][DA][cmdEcho][status][len LE16][body...] starting
// at offset. The body is truncated to the bytes actually present.
func decodeResponse(buf []byte, offset int) (Response, error) {
	if offset < 0 || len(buf) < offset+respHeaderSize {
		return Response{}, fmt.Errorf("%w: short frame (%d bytes)", ErrDesync, len(buf))
	}
	if buf[offset] != magic0 || buf[offset+1] != magic1 {
		return Response{}, fmt.Errorf("%w: bad magic %02X %02X", ErrDesync, buf[offset], buf[offset+1])
	}

	resp := Response{
		Command: buf[offset+2],
		Status:  buf[offset+3],
	}
	blen := int(binary.LittleEndian.Uint16(buf[offset+4:]))
	body := buf[offset+respHeaderSize:]
	if blen < len(body) {
		body = body[:blen]
	}
	if len(body) > 0 {
		resp.Body = append([]byte(nil), body...)
	}
	return resp, nil
}

// keySettings pairs the four movement keys with one value each.
func keySettings(values [numKeys]float64) []KeySetting {
	out := make([]KeySetting, numKeys)
	for i := range out {
		out[i] = KeySetting{Pos: keyPositions[i], MM: values[i]}
	}
	return out
}
