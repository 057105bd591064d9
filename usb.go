// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"context"
	"errors"
	"time"

	"github.com/google/gousb"
)

var usbCtx *gousb.Context = nil

// InitializeUSB sets up the libusb context. Must be called once before
// Scan or Device.Open.
func InitializeUSB() error {
	if usbCtx == nil {
		usbCtx = gousb.NewContext()
		usbCtx.Debug(2)

		logger.Debug("initialized libusb context")
		return nil
	}

	logger.Warn("USB already initialized")
	return nil
}

// CloseUSB tears down the libusb context.
func CloseUSB() {
	if usbCtx != nil {
		usbCtx.Close()
		usbCtx = nil
	} else {
		logger.Warn("could not close uninitialized usb context")
	}
}

// usbFindDevices opens every connected device accepted by match. The
// caller owns the returned handles.
func usbFindDevices(match func(desc *gousb.DeviceDesc) bool) ([]*gousb.Device, error) {
	if usbCtx == nil {
		return nil, newError(ErrBug, "usb context not initialized")
	}

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return match(desc)
	})

	if err != nil {
		// OpenDevices returns the devices it could open even on error;
		// a single unrelated device failing to open is not fatal.
		logger.Debugf("usb device scan reported: %v", err)
	}

	return devices, nil
}

// usbPort is the claimed-device transport the driver talks through.
// The gousb implementation below drives real hardware; tests substitute
// a scripted fake.
type usbPort interface {
	controlPort
	// BulkIn reads from a bulk-in endpoint. Deadline and cancellation
	// arrive through ctx; a timed-out read may still return data.
	BulkIn(ctx context.Context, endpoint int, buf []byte) (int, error)
	// BulkOut writes to a bulk-out endpoint.
	BulkOut(ctx context.Context, endpoint int, buf []byte) (int, error)
	Close() error
}

type gousbPort struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	inEndpoints  map[int]*gousb.InEndpoint
	outEndpoints map[int]*gousb.OutEndpoint
}

// claimPort claims usbConfiguration/usbInterface on an open device and
// wraps it as a usbPort. The device handle is owned by the port from
// here on.
func claimPort(dev *gousb.Device) (usbPort, error) {
	cfg, err := dev.Config(usbConfiguration)
	if err != nil {
		logger.Debug(err)
		return nil, errorf(ErrTransport, "could not select configuration %d", usbConfiguration)
	}

	intf, err := cfg.Interface(usbInterface, 0)
	if err != nil {
		cfg.Close()
		logger.Debug(err)
		if errors.Is(err, gousb.ErrorBusy) {
			return nil, newError(ErrTransport,
				"could not claim usb interface, another program or driver has already claimed it")
		}
		return nil, errorf(ErrTransport, "could not claim interface %d", usbInterface)
	}

	return &gousbPort{
		dev:          dev,
		cfg:          cfg,
		intf:         intf,
		inEndpoints:  make(map[int]*gousb.InEndpoint),
		outEndpoints: make(map[int]*gousb.OutEndpoint),
	}, nil
}

func (p *gousbPort) control(requestType uint8, request uint8, data []byte, timeoutMs int) (int, error) {
	p.dev.ControlTimeout = time.Duration(timeoutMs) * time.Millisecond

	n, err := p.dev.Control(requestType, request, 0x0000, 0x0000, data)
	if err != nil {
		return -1, errorf(ErrTransport, "vendor request 0x%02x failed: %v", request, err)
	}

	return n, nil
}

func (p *gousbPort) ControlIn(request uint8, data []byte, timeoutMs int) (int, error) {
	return p.control(gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		request, data, timeoutMs)
}

func (p *gousbPort) ControlOut(request uint8, data []byte, timeoutMs int) (int, error) {
	return p.control(gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		request, data, timeoutMs)
}

func (p *gousbPort) inEndpoint(endpoint int) (*gousb.InEndpoint, error) {
	if ep, ok := p.inEndpoints[endpoint]; ok {
		return ep, nil
	}

	ep, err := p.intf.InEndpoint(endpoint)
	if err != nil {
		return nil, errorf(ErrTransport, "no bulk-in endpoint %d: %v", endpoint, err)
	}

	p.inEndpoints[endpoint] = ep
	return ep, nil
}

func (p *gousbPort) outEndpoint(endpoint int) (*gousb.OutEndpoint, error) {
	if ep, ok := p.outEndpoints[endpoint]; ok {
		return ep, nil
	}

	ep, err := p.intf.OutEndpoint(endpoint)
	if err != nil {
		return nil, errorf(ErrTransport, "no bulk-out endpoint %d: %v", endpoint, err)
	}

	p.outEndpoints[endpoint] = ep
	return ep, nil
}

func (p *gousbPort) BulkIn(ctx context.Context, endpoint int, buf []byte) (int, error) {
	ep, err := p.inEndpoint(endpoint)
	if err != nil {
		return 0, err
	}

	bytesRead, err := ep.ReadContext(ctx, buf)

	if err != nil {
		return bytesRead, err
	}

	logger.Tracef("read %d bytes from bulk-in endpoint %d", bytesRead, endpoint)
	return bytesRead, nil
}

func (p *gousbPort) BulkOut(ctx context.Context, endpoint int, buf []byte) (int, error) {
	ep, err := p.outEndpoint(endpoint)
	if err != nil {
		return 0, err
	}

	bytesWritten, err := ep.WriteContext(ctx, buf)

	if err != nil {
		return bytesWritten, err
	}

	logger.Tracef("wrote %d bytes to bulk-out endpoint %d", bytesWritten, endpoint)
	return bytesWritten, nil
}

func (p *gousbPort) Close() error {
	p.intf.Close()
	p.cfg.Close()
	return p.dev.Close()
}

// classifyTransferError maps a bulk completion error onto the transfer
// status the acquisition handlers dispatch on.
func classifyTransferError(err error) TransferStatus {
	switch {
	case err == nil:
		return TransferCompleted
	case errors.Is(err, gousb.TransferTimedOut) || errors.Is(err, context.DeadlineExceeded):
		return TransferTimedOut
	case errors.Is(err, gousb.TransferNoDevice) || errors.Is(err, gousb.ErrorNoDevice):
		return TransferNoDevice
	case errors.Is(err, gousb.TransferCancelled) || errors.Is(err, context.Canceled):
		return TransferCancelled
	default:
		return TransferError
	}
}
