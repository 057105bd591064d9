// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this driver is mainly modeled on the fx2lafw/DSLogic protocol used by
// the libsigrok project, for detailed information see

// https://sigrok.org/wiki/Fx2lafw

package fx2lafw

// controlPort is the synchronous vendor-request half of the transport.
// Both claimed ports and bare pre-claim device handles provide it.
type controlPort interface {
	// ControlIn performs a synchronous vendor control-in request.
	ControlIn(request uint8, data []byte, timeoutMs int) (int, error)
	// ControlOut performs a synchronous vendor control-out request.
	ControlOut(request uint8, data []byte, timeoutMs int) (int, error)
}

// commandGetFwVersion queries the firmware version pair.
func commandGetFwVersion(port controlPort) (uint8, uint8, error) {
	version := make([]byte, 2)

	_, err := port.ControlIn(cmdGetFwVersion, version, controlTimeoutMs)
	if err != nil {
		logger.Errorf("unable to get version info: %v", err)
		return 0, 0, err
	}

	return version[0], version[1], nil
}

// commandGetRevidVersion queries the FX2 silicon revision. The DSLogic
// firmware serves it on a different request code.
func commandGetRevidVersion(port controlPort, dslogic bool) (uint8, error) {
	request := uint8(cmdGetRevidVersion)
	if dslogic {
		request = cmdDSLogicGetRevidVersion
	}

	revid := make([]byte, 1)

	_, err := port.ControlIn(request, revid, controlTimeoutMs)
	if err != nil {
		logger.Errorf("unable to get REVID: %v", err)
		return 0, err
	}

	return revid[0], nil
}

// commandStartAcquisition arms the GPIF sampling engine. On the base
// variant the three payload bytes carry the clock/width flags and the
// sample delay; the DSLogic runs from its FPGA settings instead and
// gets delay zero.
func (d *Device) commandStartAcquisition() error {
	var flags uint8
	var delay int

	if d.dslogic {
		flags = startFlagsClk30MHz
		delay = 0
	} else {
		var err error
		delay, flags, err = solveSampleDelay(d.curSamplerate, d.sampleWide)
		if err != nil {
			return err
		}
	}

	if d.sampleWide {
		flags |= startFlagsSample16Bit
	} else {
		flags |= startFlagsSample8Bit
	}

	cmd := []byte{flags, byte(delay >> 8), byte(delay)}

	request := uint8(cmdStart)
	timeout := controlTimeoutMs
	if d.dslogic {
		request = cmdDSLogicStart
		timeout = dslogicControlTimeoutMs
	}

	if _, err := d.port.ControlOut(request, cmd, timeout); err != nil {
		logger.Errorf("unable to send start command: %v", err)
		return err
	}

	return nil
}

// commandStopAcquisition stops a possibly still running DSLogic
// acquisition left over from an earlier session.
func commandStopAcquisition(port controlPort) error {
	cmd := []byte{startFlagsDSLogicStop, 0, 0}

	if _, err := port.ControlOut(cmdDSLogicStart, cmd, dslogicControlTimeoutMs); err != nil {
		logger.Errorf("unable to send stop command: %v", err)
		return err
	}

	return nil
}

// commandFpgaConfig puts the FX2 into FPGA configuration mode.
func commandFpgaConfig(port controlPort) error {
	if _, err := port.ControlOut(cmdDSLogicConfig, nil, dslogicControlTimeoutMs); err != nil {
		logger.Errorf("unable to send FPGA configure command: %v", err)
		return err
	}

	return nil
}

// commandFpgaSetting announces a settings frame of settingCount 16-bit
// words on the bulk-out endpoint.
func commandFpgaSetting(port controlPort, settingCount uint32) error {
	cmd := []byte{
		byte(settingCount),
		byte(settingCount >> 8),
		byte(settingCount >> 16),
	}

	if _, err := port.ControlOut(cmdDSLogicSetting, cmd, controlTimeoutMs); err != nil {
		logger.Errorf("unable to send FPGA setting command: %v", err)
		return err
	}

	return nil
}
