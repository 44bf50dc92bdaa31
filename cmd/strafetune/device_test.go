package main

import (
	"errors"
	"testing"
	"time"

	"github.com/sstallion/go-hid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPort is a test double for the HID device.
type mockPort struct {
	features [][]byte // sent feature reports
	writes   [][]byte // sent output reports

	featureReply []byte // returned by GetFeatureReport, report ID first
	featureErr   error
	inputs       [][]byte // queued input reports, report ID first
	writeErr     error
	closed       bool
}

func (m *mockPort) SendFeatureReport(p []byte) (int, error) {
	m.features = append(m.features, append([]byte(nil), p...))
	return len(p), nil
}

func (m *mockPort) GetFeatureReport(p []byte) (int, error) {
	if m.featureErr != nil {
		return 0, m.featureErr
	}
	return copy(p, m.featureReply), nil
}

func (m *mockPort) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writes = append(m.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (m *mockPort) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	if len(m.inputs) == 0 {
		return 0, hid.ErrTimeout
	}
	next := m.inputs[0]
	m.inputs = m.inputs[1:]
	return copy(p, next), nil
}

func (m *mockPort) Close() error {
	m.closed = true
	return nil
}

func newTestDevice(port *mockPort) *Device {
	d := newDevice(port, DeviceInfo{UsagePage: vendorUsagePage}, discardLogger())
	d.sleep = func(time.Duration) {}
	return d
}

func reply(cmd, status uint8, body ...byte) []byte {
	out := []byte{0x01, magic0, magic1, cmd, status, byte(len(body)), byte(len(body) >> 8)}
	return append(out, body...)
}

func TestDevice_HandshakeFeature(t *testing.T) {
	port := &mockPort{featureReply: reply(cmdHandshake, statusSuccess)}
	d := newTestDevice(port)

	require.NoError(t, d.Handshake())
	require.Len(t, port.features, 1)
	assert.Equal(t, encodeFixedFrame(cmdHandshake, handshakeMagic), port.features[0])
	assert.Empty(t, port.writes, "no fallback when the feature form is acknowledged")
}

func TestDevice_HandshakeFallback(t *testing.T) {
	port := &mockPort{
		featureReply: reply(cmdHandshake, statusUnsupported),
		inputs:       [][]byte{reply(cmdHandshake, statusSuccess)},
	}
	d := newTestDevice(port)

	require.NoError(t, d.Handshake())
	require.Len(t, port.writes, 1)
	assert.Equal(t, encodeHandshakeFrame(), port.writes[0])
}

func TestDevice_HandshakeRefused(t *testing.T) {
	port := &mockPort{
		featureErr: errors.New("pipe error"),
		inputs:     [][]byte{reply(cmdHandshake, statusUnsupported)},
	}
	d := newTestDevice(port)

	err := d.Handshake()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshake)
	assert.ErrorIs(t, err, ErrStatus)
}

func TestDevice_HandshakeWithoutReplyIsAccepted(t *testing.T) {
	port := &mockPort{featureErr: errors.New("pipe error")}
	d := newTestDevice(port)

	assert.NoError(t, d.Handshake())
}

func TestDevice_HandshakeWriteFailure(t *testing.T) {
	port := &mockPort{featureErr: errors.New("pipe error"), writeErr: errors.New("gone")}
	d := newTestDevice(port)

	assert.ErrorIs(t, d.Handshake(), ErrHandshake)
}

func TestDevice_ActivateProfileCached(t *testing.T) {
	port := &mockPort{}
	d := newTestDevice(port)

	require.NoError(t, d.ActivateProfile(2))
	require.NoError(t, d.ActivateProfile(2))
	require.Len(t, port.features, 1)
	assert.Equal(t, encodeFixedFrame(cmdActivateProfile, 2), port.features[0])

	require.NoError(t, d.ActivateProfile(1))
	assert.Len(t, port.features, 2)

	assert.ErrorIs(t, d.ActivateProfile(4), ErrInvalidProfile)
	assert.ErrorIs(t, d.ActivateProfile(-1), ErrInvalidProfile)
}

func TestDevice_WriteTargets(t *testing.T) {
	port := &mockPort{}
	d := newTestDevice(port)

	targets := TargetSet{
		keyW: {AP: 1.2, RT: 1.0},
		keyA: {AP: 0.15, RT: 0.1},
		keyS: {AP: 1.2, RT: 1.0},
		keyD: {AP: 1.2, RT: 0.1},
	}
	require.NoError(t, d.WriteTargets(1, targets))
	require.Len(t, port.writes, 2)

	for i, want := range []struct {
		cmd    uint8
		values [numKeys]float64
	}{
		{cmdActuation, [numKeys]float64{1.2, 0.15, 1.2, 1.2}},
		{cmdRapidTrigger, [numKeys]float64{1.0, 0.1, 1.0, 0.1}},
	} {
		frame := port.writes[i]
		assert.Equal(t, want.cmd, frame[3])
		assert.Equal(t, writeOptions(1, false), frame[4], "RAM-only write to profile 1")

		n := int(frame[5]) | int(frame[6])<<8
		entries, err := decodeKeyPayload(frame[7 : 7+n])
		require.NoError(t, err)
		require.Len(t, entries, numKeys)
		for k, e := range entries {
			assert.Equal(t, mmToFirmware(want.values[k]), e.Firmware, "frame %d key %d", i, k)
		}
	}
}

func TestDevice_WriteErrors(t *testing.T) {
	port := &mockPort{writeErr: errors.New("device gone")}
	d := newTestDevice(port)

	err := d.WriteTargets(0, uniformTargets(1.2, 1.0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write actuation")

	assert.ErrorIs(t, d.WriteActuation(7, keySettings([numKeys]float64{}), false), ErrInvalidProfile)
	assert.Error(t, d.WriteRapidTrigger(0, nil, false))
}

func TestDevice_SaveToFlash(t *testing.T) {
	port := &mockPort{}
	d := newTestDevice(port)

	require.NoError(t, d.SaveToFlash())
	require.Len(t, port.features, 1)
	assert.Equal(t, encodeFixedFrame(cmdSaveProfile, 0), port.features[0])
}

func TestDevice_ReadProfile(t *testing.T) {
	t.Run("body in ack", func(t *testing.T) {
		port := &mockPort{inputs: [][]byte{reply(cmdGetActuation, statusSuccess, 0x12, 0x00)}}
		body, err := newTestDevice(port).ReadActuationProfile(0)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x12, 0x00}, body)
	})

	t.Run("body follows ack", func(t *testing.T) {
		port := &mockPort{inputs: [][]byte{
			reply(cmdGetRT, statusSuccess),
			{0x01, 0x02, 0x03},
		}}
		body, err := newTestDevice(port).ReadRTProfile(3)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, body)
		require.Len(t, port.features, 1)
		assert.Equal(t, encodeFixedFrame(cmdGetRT, 3), port.features[0])
	})

	t.Run("refused", func(t *testing.T) {
		port := &mockPort{inputs: [][]byte{reply(cmdGetRT, statusBusy)}}
		_, err := newTestDevice(port).ReadRTProfile(0)
		assert.ErrorIs(t, err, ErrStatus)
	})

	t.Run("short ack", func(t *testing.T) {
		port := &mockPort{inputs: [][]byte{{0x01, 0xD1}}}
		_, err := newTestDevice(port).ReadActuationProfile(0)
		assert.ErrorIs(t, err, ErrDesync)
	})

	t.Run("bad magic", func(t *testing.T) {
		port := &mockPort{inputs: [][]byte{{0x01, 0xAB, 0xCD, cmdGetRT, statusSuccess, 0, 0}}}
		_, err := newTestDevice(port).ReadRTProfile(0)
		assert.ErrorIs(t, err, ErrDesync)
	})

	t.Run("invalid profile", func(t *testing.T) {
		_, err := newTestDevice(&mockPort{}).ReadRTProfile(9)
		assert.ErrorIs(t, err, ErrInvalidProfile)
	})
}

func TestSelectInterface(t *testing.T) {
	infos := []DeviceInfo{
		{Path: "kbd", UsagePage: 0x0001, Usage: 0x06},
		{Path: "consumer", UsagePage: 0x000C},
		{Path: "vendor", UsagePage: vendorUsagePage},
		{Path: "vendor2", UsagePage: vendorUsagePage},
	}
	got, ok := selectInterface(infos)
	require.True(t, ok)
	assert.Equal(t, "vendor", got.Path)

	_, ok = selectInterface(infos[:2])
	assert.False(t, ok)
}

func TestDevice_CloseCallsExit(t *testing.T) {
	port := &mockPort{}
	d := newTestDevice(port)
	exited := false
	d.onExit = func() error { exited = true; return nil }

	require.NoError(t, d.Close())
	assert.True(t, port.closed)
	assert.True(t, exited)
}
