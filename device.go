// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"time"

	"github.com/boljen/go-bitmap"
	"github.com/google/gousb"
)

// capability flag positions of Device.caps
const (
	capWide16 = iota
	capFX2LP
)

// Device is one matched analyzer and all of its acquisition state. A
// Device is owned by a single goroutine; nothing in here locks.
type Device struct {
	profile *Profile
	status  DeviceStatus
	index   int

	bus     uint8
	address uint8

	// Channels is the probe list built at scan time; frontends toggle
	// Enabled and set TriggerSpec before starting an acquisition.
	Channels []*Channel

	// caps is seeded at scan time from the profile and completed at
	// open time from the revision query.
	caps bitmap.Bitmap

	firmwareDir string
	fwUpdated   time.Time

	port usbPort

	samplerates   []uint64
	curSamplerate uint64
	limitSamples  uint64

	sampleWide   bool
	triggerMask  [NumTriggerStages]uint16
	triggerValue [NumTriggerStages]uint16
	// triggerStage is the stage currently awaiting a match, or
	// triggerFired once the software trigger has fired.
	triggerStage  int
	triggerBuffer [NumTriggerStages]uint16
	triggerOffset int

	// numSamples is the count of emitted samples; -1 marks an ended
	// acquisition and fast-paths every late completion to the free path.
	numSamples         int64
	submittedTransfers int
	emptyTransferCount int

	numTransfers int
	transfers    []*bulkTransfer
	completions  chan *bulkTransfer
	submitQueue  chan *bulkTransfer
	acquiring    bool

	session SessionCallback

	dslogic  bool
	dslMode  DeviceMode
	dslTest  TestMode
	extClock bool

	dslStatus       acqState
	testInit        bool
	testSampleValue uint16

	trigger Trigger

	fwMajor uint8
	fwMinor uint8
	revid   uint8
}

// Profile returns the static hardware profile this device matched.
func (d *Device) Profile() *Profile {
	return d.profile
}

func (d *Device) Status() DeviceStatus {
	return d.status
}

// Conn returns the bus and address of the device; the address is
// unknownAddress until the device has renumerated.
func (d *Device) Conn() (uint8, uint8) {
	return d.bus, d.address
}

func (d *Device) IsDSLogic() bool {
	return d.dslogic
}

func (d *Device) Mode() DeviceMode {
	return d.dslMode
}

// Trigger returns the FPGA trigger owned by this device. Only
// meaningful on the DSLogic variant.
func (d *Device) Trigger() *Trigger {
	return &d.trigger
}

// Open locates the device on the bus, verifies the firmware and claims
// its interface. The DSLogic FPGA is not configured here; that happens
// when an acquisition starts. If a firmware upload happened during
// scan, Open first waits for the device to renumerate.
func (d *Device) Open() error {
	if d.status == StatusActive {
		return newError(ErrArg, "device is already in use")
	}

	var err error
	if !d.fwUpdated.IsZero() {
		logger.Info("waiting for device to reset")
		// Takes >= 300ms for the FX2 to be gone from the USB bus.
		time.Sleep(300 * time.Millisecond)

		for {
			if err = d.openAttempt(); err == nil {
				break
			}
			elapsed := time.Since(d.fwUpdated)
			if elapsed > maxRenumDelayMs*time.Millisecond {
				return newError(ErrTransport, "device failed to renumerate")
			}
			time.Sleep(100 * time.Millisecond)
			logger.Tracef("waited %v", elapsed)
		}
		logger.Infof("device came back after %v", time.Since(d.fwUpdated))
	} else {
		logger.Info("firmware upload was not needed")
		if err = d.openAttempt(); err != nil {
			return err
		}
	}

	if d.curSamplerate == 0 {
		// Samplerate hasn't been set; default to the slowest one.
		d.curSamplerate = d.samplerates[0]
	}

	return nil
}

// openAttempt performs one pass over the bus: find the device, check
// the firmware version, then claim the interface. The version check
// runs before the claim so an incompatible firmware never gets
// claimed.
func (d *Device) openAttempt() error {
	devs, err := usbFindDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == d.profile.VID && desc.Product == d.profile.PID
	})
	if err != nil {
		return err
	}

	var chosen *gousb.Device
	skip := 0
	for _, dev := range devs {
		if chosen != nil {
			dev.Close()
			continue
		}

		if d.status == StatusInitializing {
			// Skip devices of this type that aren't the one we want.
			if skip != d.index {
				skip++
				dev.Close()
				continue
			}
		} else if d.status == StatusInactive {
			// Fully enumerated: find it by bus and address again.
			if uint8(dev.Desc.Bus) != d.bus ||
				(d.address != unknownAddress && uint8(dev.Desc.Address) != d.address) {
				dev.Close()
				continue
			}
		}

		chosen = dev
	}

	if chosen == nil {
		return newError(ErrTransport, "device not found on the bus")
	}

	if d.address == unknownAddress {
		// First time we touch this device after FW upload, so we
		// didn't know the address until now.
		d.address = uint8(chosen.Desc.Address)
	}
	d.bus = uint8(chosen.Desc.Bus)

	major, minor, err := verifyFirmwareVersion(&devicePort{dev: chosen})
	if err != nil {
		chosen.Close()
		return err
	}

	port, err := claimPort(chosen)
	if err != nil {
		chosen.Close()
		return err
	}

	revid, err := commandGetRevidVersion(port, d.dslogic)
	if err != nil {
		port.Close()
		return err
	}

	d.port = port
	d.fwMajor = major
	d.fwMinor = minor
	d.revid = revid
	d.status = StatusActive

	d.caps.Set(capFX2LP, revid == 1)

	logger.Infof("opened device %d on %d.%d, interface %d, firmware %d.%d",
		d.index, d.bus, d.address, usbInterface, major, minor)
	fx2lp := ""
	if d.caps.Get(capFX2LP) {
		fx2lp = "A (FX2LP)"
	} else {
		fx2lp = " (FX2)"
	}
	logger.Infof("detected REVID=%d, it's a Cypress CY7C68013%s", revid, fx2lp)

	return nil
}

// Close releases the claimed interface and marks the device inactive.
func (d *Device) Close() error {
	if d.port == nil {
		return newError(ErrArg, "device is not open")
	}

	logger.Infof("closing device %d on %d.%d interface %d",
		d.index, d.bus, d.address, usbInterface)

	err := d.port.Close()
	d.port = nil
	d.status = StatusInactive

	return err
}

// verifyFirmwareVersion queries the firmware version and refuses
// anything but the supported major version.
//
// Changes in major version mean incompatible/API changes, so bail out
// if we encounter an incompatible version. Different minor versions
// are OK, they should be compatible.
func verifyFirmwareVersion(port controlPort) (uint8, uint8, error) {
	major, minor, err := commandGetFwVersion(port)
	if err != nil {
		return 0, 0, err
	}

	if major != requiredFirmwareMajor {
		return major, minor, errorf(ErrProtocol, "expected firmware version %d.x, got %d.%d",
			requiredFirmwareMajor, major, minor)
	}

	return major, minor, nil
}

// devicePort adapts a bare (unclaimed) gousb device to the control
// half of usbPort, for the firmware version query that must precede
// the interface claim.
type devicePort struct {
	dev *gousb.Device
}

func (p *devicePort) ControlIn(request uint8, data []byte, timeoutMs int) (int, error) {
	p.dev.ControlTimeout = time.Duration(timeoutMs) * time.Millisecond

	n, err := p.dev.Control(gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		request, 0x0000, 0x0000, data)
	if err != nil {
		return -1, errorf(ErrTransport, "vendor request 0x%02x failed: %v", request, err)
	}

	return n, nil
}

func (p *devicePort) ControlOut(request uint8, data []byte, timeoutMs int) (int, error) {
	p.dev.ControlTimeout = time.Duration(timeoutMs) * time.Millisecond

	n, err := p.dev.Control(gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		request, 0x0000, 0x0000, data)
	if err != nil {
		return -1, errorf(ErrTransport, "vendor request 0x%02x failed: %v", request, err)
	}

	return n, nil
}
