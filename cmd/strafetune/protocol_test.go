package main

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMMToFirmware(t *testing.T) {
	assert.Equal(t, uint8(7), mmToFirmware(0))
	assert.Equal(t, uint8(255), mmToFirmware(4.0))
	assert.Equal(t, uint8(255), mmToFirmware(9.0), "clamped high")
	assert.Equal(t, uint8(7), mmToFirmware(-1), "clamped low")
	assert.Equal(t, uint8(26), mmToFirmware(0.4))
}

func TestMMToFirmware_NonFiniteAndHuge(t *testing.T) {
	assert.Equal(t, uint8(255), mmToFirmware(1e30))
	assert.Equal(t, uint8(255), mmToFirmware(math.MaxFloat64))
	assert.Equal(t, uint8(255), mmToFirmware(math.Inf(1)))
	assert.Equal(t, uint8(7), mmToFirmware(math.Inf(-1)))
	assert.Equal(t, uint8(7), mmToFirmware(-1e30))
	assert.Equal(t, uint8(7), mmToFirmware(math.NaN()))
}

func TestFirmwareRoundTrip(t *testing.T) {
	for fw := minFirmware; fw <= maxFirmware; fw++ {
		got := int(mmToFirmware(firmwareToMM(uint8(fw))))
		if d := got - fw; d < -1 || d > 1 {
			t.Fatalf("fw %d -> %.4f mm -> fw %d", fw, firmwareToMM(uint8(fw)), got)
		}
	}
}

func TestPickReportID(t *testing.T) {
	cases := map[int]int{
		1:    1,
		32:   1,
		33:   2,
		62:   2,
		63:   3,
		254:  3,
		255:  4,
		2046: 6,
		5000: 6,
	}
	for size, want := range cases {
		assert.Equal(t, want, pickReportID(size), "size %d", size)
	}
}

func TestKeyPositionIndex(t *testing.T) {
	assert.Equal(t, uint8(66), keyPositions[keyW].Index())
	assert.Equal(t, uint8(97), keyPositions[keyA].Index())
	assert.Equal(t, uint8(98), keyPositions[keyS].Index())
	assert.Equal(t, uint8(99), keyPositions[keyD].Index())
}

func TestEncodeFixedFrame(t *testing.T) {
	got := encodeFixedFrame(cmdActivateProfile, 2)
	want := []byte{0x01, 0xD1, 0xDA, 23, 0x02, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("frame = % X, want % X", got, want)
	}
}

func TestEncodeHandshakeFrame(t *testing.T) {
	got := encodeHandshakeFrame()
	require.Len(t, got, 1+reportSizes[1])
	assert.Equal(t, []byte{0x01, 0xD1, 0xDA, 39, 5, 0, 1, 0x5E, 0x46, 0x45, 0x7A}, got[:11])
	for _, b := range got[11:] {
		if b != 0 {
			t.Fatalf("expected zero padding, got % X", got)
		}
	}
}

func TestEncodeDataFrame(t *testing.T) {
	payload := encodeKeyPayload(keySettings([numKeys]float64{1.2, 0.4, 1.2, 1.2}))
	frame := encodeDataFrame(cmdActuation, writeOptions(2, false), payload)

	rid := int(frame[0])
	assert.Equal(t, pickReportID(dataHeaderSize+len(payload)), rid)
	assert.Len(t, frame, 1+reportSizes[rid])
	assert.Equal(t, []byte{magic0, magic1, cmdActuation, 0x04}, frame[1:5])
	assert.Equal(t, uint16(len(payload)), uint16(frame[5])|uint16(frame[6])<<8)
	assert.Equal(t, payload, frame[7:7+len(payload)])
}

func TestWriteOptions(t *testing.T) {
	assert.Equal(t, uint8(0), writeOptions(0, false))
	assert.Equal(t, uint8(1), writeOptions(0, true))
	assert.Equal(t, uint8(5), writeOptions(2, true))
	assert.Equal(t, uint8(6), writeOptions(3, false))
}

func TestKeyPayloadRoundTrip(t *testing.T) {
	values := [numKeys]float64{0.15, 0.4, 2.0, 4.0}
	b := encodeKeyPayload(keySettings(values))

	entries, err := decodeKeyPayload(b)
	require.NoError(t, err)
	require.Len(t, entries, numKeys)
	for i, e := range entries {
		assert.Equal(t, keyPositions[i].Row, e.Row, "row %d", i)
		assert.Equal(t, keyPositions[i].Col, e.Col, "col %d", i)
		assert.Equal(t, mmToFirmware(values[i]), e.Firmware, "firmware %d", i)
	}
}

func TestDecodeKeyPayloadErrors(t *testing.T) {
	_, err := decodeKeyPayload([]byte{0x13, 0x00})
	assert.True(t, errors.Is(err, ErrDesync))

	good := encodeKeyPayload(keySettings([numKeys]float64{1, 1, 1, 1}))
	_, err = decodeKeyPayload(good[:len(good)-2])
	assert.True(t, errors.Is(err, ErrDesync), "truncated payload")

	_, err = decodeKeyPayload([]byte{0x12, 0x02, 0x09, 0x01})
	assert.True(t, errors.Is(err, ErrDesync), "wrong entry tag")
}

func TestDecodeResponse(t *testing.T) {
	buf := []byte{0x01, 0xD1, 0xDA, 49, statusSuccess, 0x03, 0x00, 0xAA, 0xBB, 0xCC, 0xDD}
	resp, err := decodeResponse(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, uint8(49), resp.Command)
	assert.True(t, resp.OK())
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, resp.Body)

	// Declared length past the end keeps what is present.
	resp, err = decodeResponse([]byte{0xD1, 0xDA, 21, statusBusy, 0x10, 0x00, 0x01}, 0)
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, []byte{0x01}, resp.Body)
	assert.Equal(t, "busy", statusName(resp.Status))
}

func TestDecodeResponseDesync(t *testing.T) {
	_, err := decodeResponse([]byte{0x01, 0xD1, 0xDB, 21, statusSuccess, 0, 0}, 1)
	assert.True(t, errors.Is(err, ErrDesync), "bad magic")

	_, err = decodeResponse([]byte{0x01, 0xD1}, 1)
	assert.True(t, errors.Is(err, ErrDesync), "short frame")
}
