// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import "fmt"

// ConfigKey identifies one entry of the configuration surface.
type ConfigKey int

const (
	// ConfConn is the "<bus>.<address>" location of a device.
	ConfConn ConfigKey = iota
	// ConfSamplerate is the acquisition samplerate in Hz.
	ConfSamplerate
	// ConfLimitSamples bounds the number of captured samples.
	ConfLimitSamples
	// ConfDeviceMode is the DSLogic operating mode, by name.
	ConfDeviceMode
	// ConfExternalClock samples on an externally supplied clock
	// (DSLogic only).
	ConfExternalClock
	// ConfTestMode selects a DSLogic self-test data source, by name.
	ConfTestMode
	// ConfTriggerType lists the accepted per-channel trigger symbols.
	ConfTriggerType
	// ConfScanOptions and ConfDeviceOptions enumerate the surface
	// itself.
	ConfScanOptions
	ConfDeviceOptions
)

type variantKind int

const (
	variantUint64 variantKind = iota
	variantInt32
	variantString
	variantBool
	variantUint64Pair
	variantUint64List
	variantInt32List
	variantStringList
)

// Variant is the tagged value type carried across the configuration
// surface.
type Variant struct {
	kind variantKind

	u64  uint64
	i32  int32
	str  string
	b    bool
	pair [2]uint64

	u64s []uint64
	i32s []int32
	strs []string
}

func VariantUint64(v uint64) Variant     { return Variant{kind: variantUint64, u64: v} }
func VariantInt32(v int32) Variant       { return Variant{kind: variantInt32, i32: v} }
func VariantString(v string) Variant     { return Variant{kind: variantString, str: v} }
func VariantBool(v bool) Variant         { return Variant{kind: variantBool, b: v} }
func VariantUint64Pair(a, b uint64) Variant {
	return Variant{kind: variantUint64Pair, pair: [2]uint64{a, b}}
}
func VariantUint64List(v []uint64) Variant { return Variant{kind: variantUint64List, u64s: v} }
func VariantInt32List(v []int32) Variant   { return Variant{kind: variantInt32List, i32s: v} }
func VariantStringList(v []string) Variant { return Variant{kind: variantStringList, strs: v} }

func (v Variant) Uint64() (uint64, error) {
	if v.kind != variantUint64 {
		return 0, newError(ErrArg, "variant does not hold a uint64")
	}
	return v.u64, nil
}

func (v Variant) Int32() (int32, error) {
	if v.kind != variantInt32 {
		return 0, newError(ErrArg, "variant does not hold an int32")
	}
	return v.i32, nil
}

func (v Variant) Str() (string, error) {
	if v.kind != variantString {
		return "", newError(ErrArg, "variant does not hold a string")
	}
	return v.str, nil
}

func (v Variant) Bool() (bool, error) {
	if v.kind != variantBool {
		return false, newError(ErrArg, "variant does not hold a bool")
	}
	return v.b, nil
}

func (v Variant) Uint64Pair() (uint64, uint64, error) {
	if v.kind != variantUint64Pair {
		return 0, 0, newError(ErrArg, "variant does not hold a uint64 pair")
	}
	return v.pair[0], v.pair[1], nil
}

func (v Variant) Uint64List() ([]uint64, error) {
	if v.kind != variantUint64List {
		return nil, newError(ErrArg, "variant does not hold a uint64 list")
	}
	return v.u64s, nil
}

func (v Variant) Int32List() ([]int32, error) {
	if v.kind != variantInt32List {
		return nil, newError(ErrArg, "variant does not hold an int32 list")
	}
	return v.i32s, nil
}

func (v Variant) StringList() ([]string, error) {
	if v.kind != variantStringList {
		return nil, newError(ErrArg, "variant does not hold a string list")
	}
	return v.strs, nil
}

// scan-time and per-device option sets, as listed by ConfigList
var (
	scanOptions = []int32{
		int32(ConfConn),
		int32(ConfDeviceMode),
		int32(ConfExternalClock),
		int32(ConfTestMode),
	}

	deviceOptions = []int32{
		int32(ConfTriggerType),
		int32(ConfSamplerate),
		int32(ConfLimitSamples),
	}
)

// ConfigGet reads one configuration value of the device.
func (d *Device) ConfigGet(key ConfigKey) (Variant, error) {
	switch key {
	case ConfConn:
		if d.address == unknownAddress {
			// Still needs to renumerate after firmware upload, so the
			// future address is unknown.
			return Variant{}, newError(ErrArg, "device address not known yet")
		}
		return VariantString(fmt.Sprintf("%d.%d", d.bus, d.address)), nil
	case ConfLimitSamples:
		return VariantUint64(d.limitSamples), nil
	case ConfSamplerate:
		return VariantUint64(d.curSamplerate), nil
	case ConfDeviceMode:
		return VariantString(deviceModeNames[d.dslMode]), nil
	case ConfExternalClock:
		if !d.dslogic {
			return Variant{}, newError(ErrUnavailable, "external clock requires a DSLogic")
		}
		return VariantBool(d.extClock), nil
	case ConfTestMode:
		if !d.dslogic {
			return Variant{}, newError(ErrUnavailable, "test modes require a DSLogic")
		}
		return VariantString(testModeNames[d.dslTest]), nil
	default:
		return Variant{}, errorf(ErrArg, "config key %d is not readable", key)
	}
}

// ConfigSet writes one configuration value of the device.
func (d *Device) ConfigSet(key ConfigKey, value Variant) error {
	if d.status != StatusActive {
		return newError(ErrArg, "device is not open")
	}

	switch key {
	case ConfSamplerate:
		rate, err := value.Uint64()
		if err != nil {
			return err
		}
		d.curSamplerate = rate
		return nil
	case ConfLimitSamples:
		limit, err := value.Uint64()
		if err != nil {
			return err
		}
		d.limitSamples = limit
		return nil
	case ConfExternalClock:
		if !d.dslogic {
			return newError(ErrUnavailable, "external clock requires a DSLogic")
		}
		ext, err := value.Bool()
		if err != nil {
			return err
		}
		d.extClock = ext
		return nil
	case ConfTestMode:
		if !d.dslogic {
			return newError(ErrUnavailable, "test modes require a DSLogic")
		}
		name, err := value.Str()
		if err != nil {
			return err
		}
		mode, err := parseTestModeName(name)
		if err != nil {
			return err
		}
		d.dslTest = mode
		return nil
	default:
		return errorf(ErrArg, "config key %d is not writable", key)
	}
}

// ConfigList enumerates the option sets and value tables of the
// device.
func (d *Device) ConfigList(key ConfigKey) (Variant, error) {
	switch key {
	case ConfScanOptions:
		return VariantInt32List(scanOptions), nil
	case ConfDeviceOptions:
		return VariantInt32List(deviceOptions), nil
	case ConfSamplerate:
		return VariantUint64List(d.samplerates), nil
	case ConfTriggerType:
		return VariantString(TriggerTypeSymbols), nil
	case ConfDeviceMode:
		return VariantStringList(deviceModeNames), nil
	case ConfTestMode:
		return VariantStringList(testModeNames), nil
	default:
		return Variant{}, errorf(ErrArg, "config key %d is not listable", key)
	}
}
