// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"encoding/binary"
	"testing"
)

// section value offsets inside the serialized settings frame
const (
	frameModeOffset    = 6
	frameDividerOffset = 12
	frameCountOffset   = 20
	frameTrigPosOffset = 28
	frameTrigGlbOffset = 34
	frameTrigAdpOffset = 40

	frameMask0Offset  = 52
	frameMask1Offset  = 88
	frameValue0Offset = 124
	frameValue1Offset = 160
	frameEdge0Offset  = 196
	frameEdge1Offset  = 232
	frameCount0Offset = 268
	frameCount1Offset = 304
	frameLogic0Offset = 340
	frameLogic1Offset = 376
)

func frameWord(frame []byte, section int, stage int) uint16 {
	return binary.LittleEndian.Uint16(frame[section+4+stage*2:])
}

func dslogicTestDevice() *Device {
	var prof *Profile
	for i := range supportedProfiles {
		if supportedProfiles[i].Model == "DSLogic" {
			prof = &supportedProfiles[i]
			break
		}
	}

	d := newDevice(prof, ModeLogic, 0)
	d.curSamplerate = 100 * mhz
	d.limitSamples = 1000
	return d
}

func TestSettingFrameLayout(t *testing.T) {
	d := dslogicTestDevice()
	frame := d.buildSettingFrame().Bytes()

	if len(frame) != settingFrameSize {
		t.Fatalf("frame size = %d, want %d", len(frame), settingFrameSize)
	}
	if settingWordCount != 208 {
		t.Errorf("settingWordCount = %d, want 208", settingWordCount)
	}

	if got := binary.LittleEndian.Uint32(frame); got != 0xffffffff {
		t.Errorf("sync = %08x, want ffffffff", got)
	}
	if got := binary.LittleEndian.Uint32(frame[len(frame)-4:]); got != 0 {
		t.Errorf("end sync = %08x, want 0", got)
	}

	headers := []struct {
		offset int
		want   uint32
	}{
		{8, settingDividerHeader},
		{16, settingCountHeader},
		{24, settingTrigPosHeader},
		{36, settingTrigAdpHeader},
		{44, settingTrigSdaHeader},
		{frameMask0Offset, settingTrigMask0Header},
		{frameMask1Offset, settingTrigMask1Header},
		{frameValue0Offset, settingTrigValue0Header},
		{frameValue1Offset, settingTrigValue1Header},
		{frameEdge0Offset, settingTrigEdge0Header},
		{frameEdge1Offset, settingTrigEdge1Header},
		{frameCount0Offset, settingTrigCount0Header},
		{frameCount1Offset, settingTrigCount1Header},
		{frameLogic0Offset, settingTrigLogic0Header},
		{frameLogic1Offset, settingTrigLogic1Header},
	}
	for _, h := range headers {
		if got := binary.LittleEndian.Uint32(frame[h.offset:]); got != h.want {
			t.Errorf("header at %d = %08x, want %08x", h.offset, got, h.want)
		}
	}

	if got := binary.LittleEndian.Uint16(frame[4:]); got != settingModeHeader {
		t.Errorf("mode header = %04x, want %04x", got, settingModeHeader)
	}
	if got := binary.LittleEndian.Uint16(frame[32:]); got != settingTrigGlbHeader {
		t.Errorf("trig_glb header = %04x, want %04x", got, settingTrigGlbHeader)
	}
}

func TestSettingModeWordRates(t *testing.T) {
	tests := []struct {
		name       string
		rate       uint64
		mode       DeviceMode
		wantBits   uint16
		divider    uint32
	}{
		{"400MHz", 400 * mhz, ModeLogic, 1 << settingModeQuadRatePos, 1},
		{"200MHz", 200 * mhz, ModeLogic, 1 << settingModeHalfRatePos, 1},
		{"100MHz", 100 * mhz, ModeLogic, 0, 1},
		{"25MHz", 25 * mhz, ModeLogic, 0, 4},
		{"analog", 1 * mhz, ModeAnalog,
			1<<settingModeHalfRatePos | 1<<settingModeAnalogPos | 1<<settingModeNonLogicPos, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dslogicTestDevice()
			d.curSamplerate = tt.rate
			d.dslMode = tt.mode

			frame := d.buildSettingFrame().Bytes()

			if got := binary.LittleEndian.Uint16(frame[frameModeOffset:]); got != tt.wantBits {
				t.Errorf("mode word = %04x, want %04x", got, tt.wantBits)
			}
			if got := binary.LittleEndian.Uint32(frame[frameDividerOffset:]); got != tt.divider {
				t.Errorf("divider = %d, want %d", got, tt.divider)
			}
		})
	}
}

func TestSettingModeWordFlags(t *testing.T) {
	d := dslogicTestDevice()
	d.extClock = true
	d.dslTest = TestExternal
	d.trigger.SetEnabled(true)

	frame := d.buildSettingFrame().Bytes()
	mode := binary.LittleEndian.Uint16(frame[frameModeOffset:])

	want := uint16(1<<settingModeExtTest2Pos | 1<<settingModeExtTestPos |
		1<<settingModeExtClockPos | 1<<settingModeTrigEnPos)
	if mode != want {
		t.Errorf("mode word = %04x, want %04x", mode, want)
	}

	d.dslTest = TestLoopback
	frame = d.buildSettingFrame().Bytes()
	mode = binary.LittleEndian.Uint16(frame[frameModeOffset:])
	if mode&(1<<settingModeLoopbackPos) == 0 {
		t.Error("loopback test mode bit not set")
	}
}

func TestSettingTriggerPosition(t *testing.T) {
	d := dslogicTestDevice()
	d.limitSamples = 1000
	if err := d.trigger.SetPosition(50); err != nil {
		t.Fatal(err)
	}
	if err := d.trigger.SetStageCount(3); err != nil {
		t.Fatal(err)
	}

	frame := d.buildSettingFrame().Bytes()

	if got := binary.LittleEndian.Uint32(frame[frameCountOffset:]); got != 1000 {
		t.Errorf("count = %d, want 1000", got)
	}
	if got := binary.LittleEndian.Uint32(frame[frameTrigPosOffset:]); got != 500 {
		t.Errorf("trig_pos = %d, want 500", got)
	}
	if got := binary.LittleEndian.Uint32(frame[frameTrigAdpOffset:]); got != 499 {
		t.Errorf("trig_adp = %d, want 499", got)
	}
	if got := binary.LittleEndian.Uint16(frame[frameTrigGlbOffset:]); got != 3 {
		t.Errorf("trig_glb = %d, want 3", got)
	}
}

func TestSettingSimpleTriggerRoundTrip(t *testing.T) {
	d := dslogicTestDevice()
	d.trigger.SetMode(TriggerSimple)
	if err := d.trigger.ProbeSet(0, 'R', 'R'); err != nil {
		t.Fatal(err)
	}

	frame := d.buildSettingFrame().Bytes()

	// probe 0 armed on a rising edge, the other 15 cells don't care
	if got := frameWord(frame, frameEdge0Offset, 0); got != 0x0001 {
		t.Errorf("trig_edge0[0] = %04x, want 0001", got)
	}
	if got := frameWord(frame, frameEdge1Offset, 0); got != 0x0001 {
		t.Errorf("trig_edge1[0] = %04x, want 0001", got)
	}
	if got := frameWord(frame, frameValue0Offset, 0); got != 0x0001 {
		t.Errorf("trig_value0[0] = %04x, want 0001", got)
	}
	if got := frameWord(frame, frameValue1Offset, 0); got != 0x0001 {
		t.Errorf("trig_value1[0] = %04x, want 0001", got)
	}
	if got := frameWord(frame, frameMask0Offset, 0) & 1; got != 0 {
		t.Errorf("trig_mask0[0] bit 0 = %d, want 0", got)
	}
	if got := frameWord(frame, frameMask1Offset, 0) & 1; got != 0 {
		t.Errorf("trig_mask1[0] bit 0 = %d, want 0", got)
	}
	if got := frameWord(frame, frameLogic0Offset, 0); got != 2 {
		t.Errorf("trig_logic0[0] = %d, want 2", got)
	}

	// every following stage is inert
	for stage := 1; stage < TriggerStages; stage++ {
		if got := frameWord(frame, frameMask0Offset, stage); got != 1 {
			t.Errorf("trig_mask0[%d] = %d, want 1", stage, got)
		}
		if got := frameWord(frame, frameValue0Offset, stage); got != 0 {
			t.Errorf("trig_value0[%d] = %d, want 0", stage, got)
		}
		if got := frameWord(frame, frameEdge0Offset, stage); got != 0 {
			t.Errorf("trig_edge0[%d] = %d, want 0", stage, got)
		}
		if got := frameWord(frame, frameLogic0Offset, stage); got != 2 {
			t.Errorf("trig_logic0[%d] = %d, want 2", stage, got)
		}
	}
}

func TestSettingAdvancedTriggerPlanes(t *testing.T) {
	d := dslogicTestDevice()
	d.trigger.SetMode(TriggerAdvanced)

	if err := d.trigger.StageSetSymbols(0, 1, "1", "1"); err != nil {
		t.Fatal(err)
	}
	if err := d.trigger.StageSetCount(1, 16, 7, 9); err != nil {
		t.Fatal(err)
	}
	if err := d.trigger.StageSetLogic(1, 16, 1); err != nil {
		t.Fatal(err)
	}
	if err := d.trigger.StageSetInv(1, 16, 1, 0); err != nil {
		t.Fatal(err)
	}

	frame := d.buildSettingFrame().Bytes()

	if got := frameWord(frame, frameValue0Offset, 0) & 1; got != 1 {
		t.Errorf("trig_value0[0] bit 0 = %d, want 1", got)
	}
	if got := frameWord(frame, frameCount0Offset, 1); got != 7 {
		t.Errorf("trig_count0[1] = %d, want 7", got)
	}
	if got := frameWord(frame, frameCount1Offset, 1); got != 9 {
		t.Errorf("trig_count1[1] = %d, want 9", got)
	}
	// logic word packs (logic << 1) | invert
	if got := frameWord(frame, frameLogic0Offset, 1); got != 3 {
		t.Errorf("trig_logic0[1] = %d, want 3", got)
	}
	if got := frameWord(frame, frameLogic1Offset, 1); got != 2 {
		t.Errorf("trig_logic1[1] = %d, want 2", got)
	}

	// stages beyond the hardware's four are neutralized
	for stage := NumTriggerStages; stage < TriggerStages; stage++ {
		if got := frameWord(frame, frameMask0Offset, stage); got != 1 {
			t.Errorf("trig_mask0[%d] = %d, want 1", stage, got)
		}
		if got := frameWord(frame, frameLogic0Offset, stage); got != 2 {
			t.Errorf("trig_logic0[%d] = %d, want 2", stage, got)
		}
	}
}
