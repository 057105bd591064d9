// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"fmt"
	"time"

	"github.com/boljen/go-bitmap"
	"github.com/google/gousb"
)

// FirmwareUploader renumerates a pre-boot FX2 by uploading its
// application firmware. The upload protocol itself is outside this
// driver; callers plug in an implementation (e.g. an ezusb tool).
type FirmwareUploader interface {
	Upload(dev *gousb.Device, configuration int, firmware string) error
}

// ScanOptions narrows a bus scan.
type ScanOptions struct {
	// Conn restricts the scan to one "<bus>.<address>" location.
	Conn string
	// Mode selects the DSLogic operating mode by its listed name;
	// empty means logic analyzer.
	Mode string
	// FirmwareDir is where profile firmware files and the FPGA
	// bitstream live.
	FirmwareDir string
	// Uploader handles firmware upload for devices found without their
	// application firmware. May be nil, in which case such devices are
	// still returned, as StatusInitializing with an unknown address and
	// no firmware upload performed.
	Uploader FirmwareUploader
}

func parseConn(conn string) (uint8, uint8, error) {
	var bus, address int

	if _, err := fmt.Sscanf(conn, "%d.%d", &bus, &address); err != nil {
		return 0, 0, errorf(ErrArg, "invalid connection specification %q", conn)
	}

	return uint8(bus), uint8(address), nil
}

func parseModeName(name string) (DeviceMode, error) {
	for i, known := range deviceModeNames {
		if name == known {
			return DeviceMode(i), nil
		}
	}

	return 0, errorf(ErrArg, "unknown device mode %q", name)
}

func parseTestModeName(name string) (TestMode, error) {
	for i, known := range testModeNames {
		if name == known {
			return TestMode(i), nil
		}
	}

	return 0, errorf(ErrArg, "unknown test mode %q", name)
}

// Scan walks the USB bus and returns a device record for every piece
// of supported hardware found. Devices without their application
// firmware are uploaded to (via opts.Uploader) and come back as
// StatusInitializing; devices already running it are StatusInactive
// and ready to Open.
func Scan(opts ScanOptions) ([]*Device, error) {
	mode := ModeLogic
	if opts.Mode != "" {
		var err error
		if mode, err = parseModeName(opts.Mode); err != nil {
			return nil, err
		}
	}

	var connBus, connAddress uint8
	if opts.Conn != "" {
		var err error
		if connBus, connAddress, err = parseConn(opts.Conn); err != nil {
			return nil, err
		}
	}

	usbDevices, err := usbFindDevices(func(desc *gousb.DeviceDesc) bool {
		if !profileCandidate(desc.Vendor, desc.Product) {
			return false
		}
		if opts.Conn != "" &&
			(uint8(desc.Bus) != connBus || uint8(desc.Address) != connAddress) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	var devices []*Device
	for _, usbDev := range usbDevices {
		manufacturer, err := usbDev.Manufacturer()
		if err != nil {
			logger.Warnf("failed to get manufacturer string descriptor: %v", err)
			manufacturer = ""
		}
		product, err := usbDev.Product()
		if err != nil {
			logger.Warnf("failed to get product string descriptor: %v", err)
			product = ""
		}

		prof := matchProfile(usbDev.Desc.Vendor, usbDev.Desc.Product,
			manufacturer, product)
		if prof == nil {
			usbDev.Close()
			continue
		}

		d := newDevice(prof, mode, len(devices))
		d.firmwareDir = opts.FirmwareDir

		if hasFirmware(manufacturer, product) {
			// Already runs the application firmware, so remember the
			// final address.
			logger.Debug("found an fx2lafw device")
			d.status = StatusInactive
			d.bus = uint8(usbDev.Desc.Bus)
			d.address = uint8(usbDev.Desc.Address)
		} else {
			d.bus = uint8(usbDev.Desc.Bus)
			d.address = unknownAddress
			if opts.Uploader == nil {
				logger.Warnf("device %d needs a firmware upload but no uploader is configured",
					d.index)
			} else if err := opts.Uploader.Upload(usbDev, usbConfiguration,
				prof.Firmware); err != nil {
				logger.Errorf("firmware upload failed for device %d: %v", d.index, err)
			} else {
				// Store when this device's FW was updated.
				d.fwUpdated = time.Now()
			}
		}

		devices = append(devices, d)
		usbDev.Close()
	}

	return devices, nil
}

// hasFirmware checks the "configuration profile": string descriptors
// prove the application firmware is resident.
func hasFirmware(manufacturer string, product string) bool {
	return hasPrefixAny(manufacturer, firmwareManufacturers) &&
		hasPrefixAny(product, firmwareProducts)
}

// newDevice allocates a device record with its channel list built from
// the profile capabilities and the requested operating mode.
func newDevice(prof *Profile, mode DeviceMode, index int) *Device {
	d := &Device{
		profile:      prof,
		status:       StatusInitializing,
		index:        index,
		dslogic:      prof.Model == "DSLogic",
		dslMode:      mode,
		triggerStage: triggerFired,
		caps:         bitmap.New(8),
	}
	d.caps.Set(capWide16, prof.wide16Bit())

	if d.dslogic {
		d.samplerates = dslogicSamplerates
		d.trigger.Reset()
	} else {
		d.samplerates = samplerates
	}

	numChannels := 8
	if prof.wide16Bit() {
		numChannels = 16
	}

	for i := 0; i < numChannels; i++ {
		chType := ChannelLogic
		if d.dslogic && mode != ModeLogic {
			chType = ChannelAnalog
		}
		d.Channels = append(d.Channels, &Channel{
			Index:   i,
			Type:    chType,
			Enabled: true,
			Name:    channelNames[i],
		})
	}

	return d
}
