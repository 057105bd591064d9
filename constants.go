// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// this driver is mainly modeled on the fx2lafw/DSLogic protocol used by
// the libsigrok project, for detailed information see

// https://sigrok.org/wiki/Fx2lafw

package fx2lafw

// usb topology of the fx2lafw firmware
const (
	usbInterface     = 0
	usbConfiguration = 1

	bulkDataEndpoint    = 2 // bulk-in, base variant sample data
	bulkDSLogicEndpoint = 6 // bulk-in, DSLogic sample data and trigger position
	bulkFpgaEndpoint    = 2 // bulk-out, DSLogic bitstream and settings frame
)

// software trigger of the base variant
const (
	NumTriggerStages = 4
	triggerFired     = -1
)

// TriggerTypeSymbols lists the per-channel trigger characters accepted by
// Channel.TriggerSpec on the base variant.
const TriggerTypeSymbols = "01"

const (
	maxRenumDelayMs   = 3000
	numSimulTransfers = 32
	maxEmptyTransfers = numSimulTransfers * 2

	requiredFirmwareMajor = 1
)

const (
	khz uint64 = 1000
	mhz        = 1000 * khz
)

const (
	maxSamplerate8Bit  = 24 * mhz
	maxSamplerate16Bit = 12 * mhz

	// 6 delay states of up to 256 clock ticks
	maxSampleDelay = 6 * 256
)

// vendor request codes
const (
	cmdGetFwVersion    = 0xb0
	cmdStart           = 0xb1
	cmdGetRevidVersion = 0xb2

	// the DSLogic firmware moves the revid query and reuses its slot
	cmdDSLogicGetRevidVersion = 0xb1
	cmdDSLogicStart           = 0xb2
	cmdDSLogicConfig          = 0xb3
	cmdDSLogicSetting         = 0xb4
)

// cmdStart flag bits
const (
	startFlagsWidePos   = 5
	startFlagsClkSrcPos = 6
	startFlagsStopPos   = 7

	startFlagsSample8Bit  = 0 << startFlagsWidePos
	startFlagsSample16Bit = 1 << startFlagsWidePos

	startFlagsClk30MHz = 0 << startFlagsClkSrcPos
	startFlagsClk48MHz = 1 << startFlagsClkSrcPos

	startFlagsDSLogicStop = 1 << startFlagsStopPos
)

// control transfer timeouts in milliseconds
const (
	controlTimeoutMs        = 100
	dslogicControlTimeoutMs = 3000
	fpgaChunkTimeoutMs      = 1000
)

// size of one XC6SLX9 bitstream chunk streamed during FPGA configuration
const fpgaBitstreamChunkSize = 340604

// device capability bits of a profile
const (
	devCaps16BitPos = 0

	devCaps16Bit = 1 << devCaps16BitPos
)

// DSLogic trigger matrix dimensions
const (
	TriggerStages = 16
	TriggerProbes = 16
)

// DeviceMode selects how a DSLogic reinterprets its channels.
type DeviceMode int

const (
	// ModeLogic is the logic analyzer mode (logic channels).
	ModeLogic DeviceMode = iota
	// ModeDSO is the oscilloscope mode; the channels are analog.
	ModeDSO
	// ModeAnalog is the data acquisition mode; the channels are analog.
	ModeAnalog
)

// TestMode selects one of the DSLogic self-test data sources.
type TestMode int

const (
	TestNone TestMode = iota
	TestInternal
	TestExternal
	TestLoopback
)

// modulus of the arithmetic test pattern emitted in internal/external test mode
const testPatternModulus = 65001

// acquisition substates of the DSLogic two-phase start sequence
type acqState int

const (
	acqError acqState = iota - 1
	acqInit
	acqStart
	acqTriggered
	acqData
	acqStop
)

// DeviceStatus tracks the enumeration lifecycle of a scanned device.
type DeviceStatus int

const (
	// StatusInitializing means the device was matched but has not
	// renumerated with its application firmware yet.
	StatusInitializing DeviceStatus = iota
	// StatusInactive means the device is enumerated and ready to open.
	StatusInactive
	// StatusActive means the device is open and claimed.
	StatusActive
)

// TransferStatus classifies the outcome of one bulk transfer.
type TransferStatus int

const (
	TransferCompleted TransferStatus = iota
	TransferTimedOut
	TransferNoDevice
	TransferCancelled
	TransferError
)

// ChannelType distinguishes logic probes from analog inputs.
type ChannelType int

const (
	ChannelLogic ChannelType = iota
	ChannelAnalog
)

// sentinel device address before renumeration has assigned one
const unknownAddress = 0xff
