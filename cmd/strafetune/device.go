package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sstallion/go-hid"
)

var (
	// ErrNoDevice means no keyboard exposed the vendor interface.
	ErrNoDevice = errors.New("no compatible keyboard found")
	// ErrHandshake means the keyboard refused the handshake.
	ErrHandshake = errors.New("handshake failed")
	// ErrInvalidProfile means a profile index outside 0..3.
	ErrInvalidProfile = errors.New("invalid profile index")
)

const (
	inputReadTimeout = time.Second
	drainReadTimeout = 50 * time.Millisecond
	writeSettle      = 5 * time.Millisecond
	saveSettle       = 50 * time.Millisecond
	profileSettle    = 50 * time.Millisecond
	flashSettle      = 200 * time.Millisecond
	inputBufferSize  = 2048
)

// hidPort is the subset of *hid.Device the protocol needs.
type hidPort interface {
	SendFeatureReport(p []byte) (int, error)
	GetFeatureReport(p []byte) (int, error)
	Write(p []byte) (int, error)
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// DeviceInfo describes one HID interface of the keyboard.
type DeviceInfo struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	UsagePage    uint16
	Usage        uint16
	Interface    int
}

func fromHIDInfo(info *hid.DeviceInfo) DeviceInfo {
	return DeviceInfo{
		Path:         info.Path,
		VendorID:     info.VendorID,
		ProductID:    info.ProductID,
		Manufacturer: info.MfrStr,
		Product:      info.ProductStr,
		UsagePage:    info.UsagePage,
		Usage:        info.Usage,
		Interface:    info.InterfaceNbr,
	}
}

// Writable reports whether this interface accepts configuration writes.
func (i DeviceInfo) Writable() bool {
	return i.UsagePage == vendorUsagePage
}

// selectInterface returns the first interface on the vendor usage page.
func selectInterface(infos []DeviceInfo) (DeviceInfo, bool) {
	for _, info := range infos {
		if info.Writable() {
			return info, true
		}
	}
	return DeviceInfo{}, false
}

// EnumerateDevices lists every HID interface with the keyboard vendor ID.
// The caller must have called hid.Init.
func EnumerateDevices() ([]DeviceInfo, error) {
	var out []DeviceInfo
	err := hid.Enumerate(vendorID, 0, func(info *hid.DeviceInfo) error {
		out = append(out, fromHIDInfo(info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate hid devices: %w", err)
	}
	return out, nil
}

// Device drives the keyboard's configuration protocol.
//
// A Device is owned by a single goroutine (the effects runner, or a
// subcommand); it is not safe for concurrent use.
type Device struct {
	port   hidPort
	info   DeviceInfo
	logger *slog.Logger

	activeProfile int

	sleep  func(time.Duration)
	onExit func() error
}

func newDevice(port hidPort, info DeviceInfo, logger *slog.Logger) *Device {
	if logger == nil {
		logger = discardLogger()
	}
	return &Device{
		port:          port,
		info:          info,
		logger:        logger,
		activeProfile: -1,
		sleep:         time.Sleep,
	}
}

// OpenDevice initialises the HID library, finds the vendor interface and
// opens it in non-blocking mode.
func OpenDevice(logger *slog.Logger) (*Device, error) {
	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("hid init: %w", err)
	}

	infos, err := EnumerateDevices()
	if err != nil {
		_ = hid.Exit()
		return nil, err
	}
	info, ok := selectInterface(infos)
	if !ok {
		_ = hid.Exit()
		return nil, fmt.Errorf("%w (vid 0x%04X, usage page 0x%04X)", ErrNoDevice, vendorID, vendorUsagePage)
	}

	d, err := hid.OpenPath(info.Path)
	if err != nil {
		_ = hid.Exit()
		return nil, fmt.Errorf("open %s: %w", info.Path, err)
	}
	if err := d.SetNonblock(true); err != nil {
		_ = d.Close()
		_ = hid.Exit()
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}

	dev := newDevice(d, info, logger)
	dev.onExit = hid.Exit
	logger.Info("device opened",
		"product", info.Product,
		"vid", fmt.Sprintf("%04X", info.VendorID),
		"pid", fmt.Sprintf("%04X", info.ProductID),
		"usage_page", fmt.Sprintf("0x%04X", info.UsagePage),
		"interface", info.Interface)
	return dev, nil
}

// Info returns the opened interface description.
func (d *Device) Info() DeviceInfo {
	return d.info
}

// Close releases the device and the HID library.
func (d *Device) Close() error {
	err := d.port.Close()
	if d.onExit != nil {
		if exitErr := d.onExit(); err == nil {
			err = exitErr
		}
	}
	return err
}

// sendCommand writes a fixed command frame as a feature report.
func (d *Device) sendCommand(cmd uint8, param uint32) error {
	if _, err := d.port.SendFeatureReport(encodeFixedFrame(cmd, param)); err != nil {
		return fmt.Errorf("send command %d: %w", cmd, err)
	}
	return nil
}

// readFeatureResponse reads the response to a fixed command frame.
func (d *Device) readFeatureResponse() (Response, error) {
	buf := make([]byte, featureRespSize)
	buf[0] = 0x01
	n, err := d.port.GetFeatureReport(buf)
	if err != nil {
		return Response{}, fmt.Errorf("get feature report: %w", err)
	}
	if n < 1 {
		return Response{}, fmt.Errorf("%w: empty feature report", ErrDesync)
	}
	return decodeResponse(buf[:n], 1)
}

// readInput reads one input report. A timeout returns (0, nil).
func (d *Device) readInput(buf []byte, timeout time.Duration) (int, error) {
	n, err := d.port.ReadWithTimeout(buf, timeout)
	if errors.Is(err, hid.ErrTimeout) {
		return 0, nil
	}
	return n, err
}

// drain discards pending input reports and returns the decoded ones.
func (d *Device) drain() []Response {
	var out []Response
	buf := make([]byte, inputBufferSize)
	for {
		n, err := d.readInput(buf, drainReadTimeout)
		if err != nil || n <= 0 {
			return out
		}
		if resp, err := decodeResponse(buf[:n], 1); err == nil {
			out = append(out, resp)
		}
	}
}

// sendData writes a data frame, waits for the device to settle and discards
// its acknowledgement.
func (d *Device) sendData(cmd, options uint8, payload []byte) error {
	frame := encodeDataFrame(cmd, options, payload)
	if _, err := d.port.Write(frame); err != nil {
		return fmt.Errorf("write data frame (cmd %d): %w", cmd, err)
	}

	settle := writeSettle
	if options&1 != 0 {
		settle = saveSettle
	}
	d.sleep(settle)

	buf := make([]byte, inputBufferSize)
	_, _ = d.readInput(buf, settle)
	return nil
}

// Handshake unlocks configuration writes. The feature-report form is tried
// first; the data-report form is the fallback.
func (d *Device) Handshake() error {
	if err := d.sendCommand(cmdHandshake, handshakeMagic); err == nil {
		resp, err := d.readFeatureResponse()
		if err == nil && resp.OK() {
			d.logger.Info("handshake ok", "method", "feature")
			return nil
		}
		d.logger.Debug("feature handshake not acknowledged", "error", err, "status", statusName(resp.Status))
	} else {
		d.logger.Debug("feature handshake send failed", "error", err)
	}

	if _, err := d.port.Write(encodeHandshakeFrame()); err != nil {
		return fmt.Errorf("%w: write data frame: %v", ErrHandshake, err)
	}
	d.sleep(profileSettle)

	replies := d.drain()
	for _, r := range replies {
		if r.Command == cmdHandshake && !r.OK() {
			return fmt.Errorf("%w: %w %s", ErrHandshake, ErrStatus, statusName(r.Status))
		}
	}
	if len(replies) == 0 {
		d.logger.Warn("handshake sent without acknowledgement; continuing")
	} else {
		d.logger.Info("handshake ok", "method", "data")
	}
	return nil
}

// ActivateProfile switches the keyboard to profile (0..3) without reloading
// it, so RAM-only writes survive.
func (d *Device) ActivateProfile(profile int) error {
	if profile < 0 || profile >= numProfiles {
		return fmt.Errorf("%w: %d", ErrInvalidProfile, profile)
	}
	if d.activeProfile == profile {
		return nil
	}
	if err := d.sendCommand(cmdActivateProfile, uint32(profile)); err != nil {
		return fmt.Errorf("activate profile %d: %w", profile, err)
	}
	d.sleep(profileSettle)
	d.drain()

	d.activeProfile = profile
	d.logger.Info("profile activated", "profile", profile)
	return nil
}

// WriteActuation sets actuation points for keys on profile.
func (d *Device) WriteActuation(profile int, keys []KeySetting, save bool) error {
	return d.writeKeys(cmdActuation, profile, keys, save)
}

// WriteRapidTrigger sets rapid-trigger sensitivity for keys on profile.
func (d *Device) WriteRapidTrigger(profile int, keys []KeySetting, save bool) error {
	return d.writeKeys(cmdRapidTrigger, profile, keys, save)
}

func (d *Device) writeKeys(cmd uint8, profile int, keys []KeySetting, save bool) error {
	if profile < 0 || profile >= numProfiles {
		return fmt.Errorf("%w: %d", ErrInvalidProfile, profile)
	}
	if len(keys) == 0 {
		return errors.New("no keys to write")
	}
	return d.sendData(cmd, writeOptions(profile, save), encodeKeyPayload(keys))
}

// WriteTargets writes the AP values then the RT values of t to RAM.
func (d *Device) WriteTargets(profile int, t TargetSet) error {
	var ap, rt [numKeys]float64
	for i, k := range t {
		ap[i] = k.AP
		rt[i] = k.RT
	}
	if err := d.WriteActuation(profile, keySettings(ap), false); err != nil {
		return fmt.Errorf("write actuation: %w", err)
	}
	if err := d.WriteRapidTrigger(profile, keySettings(rt), false); err != nil {
		return fmt.Errorf("write rapid trigger: %w", err)
	}
	return nil
}

// SaveToFlash persists the active profile. Flash has limited write cycles.
func (d *Device) SaveToFlash() error {
	if err := d.sendCommand(cmdSaveProfile, 0); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	d.sleep(flashSettle)
	d.drain()
	d.logger.Info("profile saved to flash")
	return nil
}

// ReadActuationProfile returns the raw actuation profile body.
func (d *Device) ReadActuationProfile(profile int) ([]byte, error) {
	return d.readProfile(cmdGetActuation, profile)
}

// ReadRTProfile returns the raw rapid-trigger profile body.
func (d *Device) ReadRTProfile(profile int) ([]byte, error) {
	return d.readProfile(cmdGetRT, profile)
}

// readProfile sends a GET command. The device answers with an ack input
// report, which may carry the body; otherwise the body follows in the next
// report.
func (d *Device) readProfile(cmd uint8, profile int) ([]byte, error) {
	if profile < 0 || profile >= numProfiles {
		return nil, fmt.Errorf("%w: %d", ErrInvalidProfile, profile)
	}
	if err := d.sendCommand(cmd, uint32(profile)); err != nil {
		return nil, err
	}

	buf := make([]byte, inputBufferSize)
	n, err := d.readInput(buf, inputReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("read ack: %w", err)
	}
	if n < 7 {
		return nil, fmt.Errorf("%w: ack too short (%d bytes)", ErrDesync, n)
	}
	ack, err := decodeResponse(buf[:n], 1)
	if err != nil {
		return nil, err
	}
	if !ack.OK() {
		return nil, fmt.Errorf("%w: %s", ErrStatus, statusName(ack.Status))
	}
	if len(ack.Body) > 0 {
		return ack.Body, nil
	}

	n, err = d.readInput(buf, inputReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("read profile body: %w", err)
	}
	return append([]byte(nil), buf[:n]...), nil
}
