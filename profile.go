// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import "github.com/google/gousb"

// Profile is one static entry of the supported-hardware table.
type Profile struct {
	VID gousb.ID
	PID gousb.ID

	Vendor       string
	Model        string
	ModelVersion string

	// Firmware is the file name of the FX2 firmware, relative to the
	// configured firmware directory.
	Firmware string

	DevCaps uint32

	// USBManufacturer/USBProduct, when non-empty, must additionally
	// match the device's string descriptors.
	USBManufacturer string
	USBProduct      string
}

func (p *Profile) wide16Bit() bool {
	return p.DevCaps&devCaps16Bit != 0
}

// supportedProfiles is walked in order during scan; the first matching
// entry wins, so the post-upload DSLogic entry must stay ahead of the
// Saleae Logic entry that shares its VID/PID.
var supportedProfiles = []Profile{
	/*
	 * CWAV USBee AX
	 * EE Electronics ESLA201A
	 * ARMFLY AX-Pro
	 */
	{0x08a9, 0x0014, "CWAV", "USBee AX", "",
		"fx2lafw-cwav-usbeeax.fw",
		0, "", ""},

	/*
	 * CWAV USBee DX
	 * XZL-Studio DX
	 */
	{0x08a9, 0x0015, "CWAV", "USBee DX", "",
		"fx2lafw-cwav-usbeedx.fw",
		devCaps16Bit, "", ""},

	// CWAV USBee SX
	{0x08a9, 0x0009, "CWAV", "USBee SX", "",
		"fx2lafw-cwav-usbeesx.fw",
		0, "", ""},

	// DreamSourceLab DSLogic (before FW upload)
	{0x2a0e, 0x0001, "DreamSourceLab", "DSLogic", "",
		"dreamsourcelab-dslogic-fx2.fw",
		devCaps16Bit, "", ""},

	// DreamSourceLab DSLogic (after FW upload)
	{0x0925, 0x3881, "DreamSourceLab", "DSLogic", "",
		"dreamsourcelab-dslogic-fx2.fw",
		devCaps16Bit, "DreamSourceLab", "DSLogic"},

	/*
	 * Saleae Logic
	 * EE Electronics ESLA100
	 * Robomotic MiniLogic
	 * Robomotic BugLogic 3
	 */
	{0x0925, 0x3881, "Saleae", "Logic", "",
		"fx2lafw-saleae-logic.fw",
		0, "", ""},

	/*
	 * Default Cypress FX2 without EEPROM, e.g.:
	 * Lcsoft Mini Board
	 * Braintechnology USB Interface V2.x
	 */
	{0x04b4, 0x8613, "Cypress", "FX2", "",
		"fx2lafw-cypress-fx2.fw",
		devCaps16Bit, "", ""},

	// Braintechnology USB-LPS
	{0x16d0, 0x0498, "Braintechnology", "USB-LPS", "",
		"fx2lafw-braintechnology-usb-lps.fw",
		devCaps16Bit, "", ""},
}

// dslogicFpgaBitstream is the FPGA image streamed at acquisition
// start, relative to the firmware directory.
const dslogicFpgaBitstream = "dreamsourcelab-dslogic-fpga.bitstream"

// string descriptor prefixes that mark a device as already running the
// application firmware
var (
	firmwareManufacturers = []string{"sigrok", "DreamSourceLab"}
	firmwareProducts      = []string{"fx2lafw", "DSLogic"}
)

var channelNames = []string{
	"0", "1", "2", "3", "4", "5", "6", "7",
	"8", "9", "10", "11", "12", "13", "14", "15",
}

var samplerates = []uint64{
	20 * khz,
	25 * khz,
	50 * khz,
	100 * khz,
	200 * khz,
	250 * khz,
	500 * khz,
	1 * mhz,
	2 * mhz,
	3 * mhz,
	4 * mhz,
	6 * mhz,
	8 * mhz,
	12 * mhz,
	16 * mhz,
	24 * mhz,
}

var dslogicSamplerates = []uint64{
	10 * khz,
	20 * khz,
	50 * khz,
	100 * khz,
	200 * khz,
	500 * khz,
	1 * mhz,
	2 * mhz,
	5 * mhz,
	10 * mhz,
	20 * mhz,
	25 * mhz,
	50 * mhz,
	100 * mhz,
	200 * mhz,
	400 * mhz,
}

var deviceModeNames = []string{
	"Logic Analyzer",
	"Oscilloscope",
	"Data Acquisition",
}

var testModeNames = []string{
	"None",
	"Internal Test",
	"External Test",
	"DRAM Loopback Test",
}

// Channel is one probe pin of a device.
type Channel struct {
	Index   int
	Type    ChannelType
	Enabled bool
	Name    string

	// TriggerSpec programs the software trigger of the base variant,
	// one symbol out of TriggerTypeSymbols per stage.
	TriggerSpec string
}

// matchProfile returns the first profile entry matching the descriptor
// and string descriptors, or nil.
func matchProfile(vid gousb.ID, pid gousb.ID, manufacturer string, product string) *Profile {
	for i := range supportedProfiles {
		prof := &supportedProfiles[i]
		if prof.VID != vid || prof.PID != pid {
			continue
		}
		if prof.USBManufacturer != "" && prof.USBManufacturer != manufacturer {
			continue
		}
		if prof.USBProduct != "" && prof.USBProduct != product {
			continue
		}
		return prof
	}

	return nil
}

// profileCandidate reports whether any profile entry claims this
// VID/PID, before string descriptors are known.
func profileCandidate(vid gousb.ID, pid gousb.ID) bool {
	for i := range supportedProfiles {
		if supportedProfiles[i].VID == vid && supportedProfiles[i].PID == pid {
			return true
		}
	}

	return false
}
