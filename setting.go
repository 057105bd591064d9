// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

// Section headers of the packed FPGA settings frame. The frame is a
// fixed sequence of (header, value) fields, little-endian throughout.
const (
	settingSync          = 0xffffffff
	settingEndSync       = 0x00000000
	settingModeHeader    = 0x0001
	settingDividerHeader = 0x0102ffff
	settingCountHeader   = 0x0302ffff
	settingTrigPosHeader = 0x0502ffff
	settingTrigGlbHeader = 0x0701
	settingTrigAdpHeader = 0x0a02ffff
	settingTrigSdaHeader = 0x0c02ffff

	settingTrigMask0Header  = 0x1010ffff
	settingTrigMask1Header  = 0x1110ffff
	settingTrigValue0Header = 0x1410ffff
	settingTrigValue1Header = 0x1510ffff
	settingTrigEdge0Header  = 0x1810ffff
	settingTrigEdge1Header  = 0x1910ffff
	settingTrigCount0Header = 0x1c10ffff
	settingTrigCount1Header = 0x1d10ffff
	settingTrigLogic0Header = 0x2010ffff
	settingTrigLogic1Header = 0x2110ffff
)

// mode word bit positions
const (
	settingModeTrigEnPos   = 0
	settingModeExtClockPos = 1
	settingModeNonLogicPos = 4
	settingModeHalfRatePos = 5
	settingModeQuadRatePos = 6
	settingModeAnalogPos   = 7
	settingModeLoopbackPos = 13
	settingModeExtTestPos  = 14
	settingModeExtTest2Pos = 15
)

// frame byte size: sync + 7 scalar fields + 10 plane sections of 16
// words each + end sync
const settingFrameSize = 4 + (2 + 2) + (4+4)*2 + (4 + 4) + (2 + 2) + (4+4)*2 +
	10*(4+2*TriggerStages) + 4

// settingWordCount is what the FPGA-setting vendor request announces.
const settingWordCount = settingFrameSize / 2

// settingPlanes holds one derived 16-bit word per frame stage for each
// of the ten trigger sections.
type settingPlanes struct {
	mask0, mask1   [TriggerStages]uint16
	value0, value1 [TriggerStages]uint16
	edge0, edge1   [TriggerStages]uint16
	count0, count1 [TriggerStages]uint16
	logic0, logic1 [TriggerStages]uint16
}

// neutralStage writes the inert placeholder the FPGA ignores: mask 1,
// zero value/edge/count, logic 2.
func (p *settingPlanes) neutralStage(i int) {
	p.mask0[i] = 1
	p.mask1[i] = 1
	p.value0[i] = 0
	p.value1[i] = 0
	p.edge0[i] = 0
	p.edge1[i] = 0
	p.count0[i] = 0
	p.count1[i] = 0
	p.logic0[i] = 2
	p.logic1[i] = 2
}

func (t *Trigger) derivePlanes() *settingPlanes {
	planes := &settingPlanes{}

	if t.mode == TriggerSimple {
		// Only the terminal "simple" row is armed; every other frame
		// stage gets the neutral placeholder.
		simple := uint16(TriggerStages)
		planes.mask0[0] = t.Mask0(simple)
		planes.mask1[0] = t.Mask1(simple)
		planes.value0[0] = t.Value0(simple)
		planes.value1[0] = t.Value1(simple)
		planes.edge0[0] = t.Edge0(simple)
		planes.edge1[0] = t.Edge1(simple)
		planes.count0[0] = t.count0[TriggerStages]
		planes.count1[0] = t.count1[TriggerStages]
		planes.logic0[0] = uint16(t.logic[TriggerStages])<<1 + uint16(t.inv0[TriggerStages])
		planes.logic1[0] = uint16(t.logic[TriggerStages])<<1 + uint16(t.inv1[TriggerStages])

		for i := 1; i < TriggerStages; i++ {
			planes.neutralStage(i)
		}
	} else {
		for i := 0; i < NumTriggerStages; i++ {
			stage := uint16(i)
			planes.mask0[i] = t.Mask0(stage)
			planes.mask1[i] = t.Mask1(stage)
			planes.value0[i] = t.Value0(stage)
			planes.value1[i] = t.Value1(stage)
			planes.edge0[i] = t.Edge0(stage)
			planes.edge1[i] = t.Edge1(stage)
			planes.count0[i] = t.count0[i]
			planes.count1[i] = t.count1[i]
			planes.logic0[i] = uint16(t.logic[i])<<1 + uint16(t.inv0[i])
			planes.logic1[i] = uint16(t.logic[i])<<1 + uint16(t.inv1[i])
		}
		// The FPGA only consults the first NumTriggerStages stages;
		// the remaining frame slots are neutralized rather than sent
		// uninitialized.
		for i := NumTriggerStages; i < TriggerStages; i++ {
			planes.neutralStage(i)
		}
	}

	return planes
}

// settingMode composes the 16-bit operating-mode word of the frame.
func (d *Device) settingMode() uint16 {
	var mode uint16

	if d.dslTest == TestExternal {
		mode |= 1 << settingModeExtTest2Pos
		mode |= 1 << settingModeExtTestPos
	}
	if d.dslTest == TestLoopback {
		mode |= 1 << settingModeLoopbackPos
	}
	if d.trigger.enabled {
		mode |= 1 << settingModeTrigEnPos
	}
	if d.dslMode > ModeLogic {
		mode |= 1 << settingModeNonLogicPos
	}
	if d.extClock {
		mode |= 1 << settingModeExtClockPos
	}
	if d.curSamplerate == 200*mhz || d.dslMode == ModeAnalog {
		mode |= 1 << settingModeHalfRatePos
	}
	if d.curSamplerate == 400*mhz {
		mode |= 1 << settingModeQuadRatePos
	}
	if d.dslMode == ModeAnalog {
		mode |= 1 << settingModeAnalogPos
	}

	return mode
}

// buildSettingFrame serializes the packed settings frame delivered on
// the bulk-out endpoint after the FPGA-setting command.
func (d *Device) buildSettingFrame() *Buffer {
	// ceil(100 MHz / samplerate)
	divider := uint32((100*mhz + d.curSamplerate - 1) / d.curSamplerate)
	count := uint32(d.limitSamples)
	trigPos := uint32(uint64(d.trigger.position) * d.limitSamples / 100)
	trigAdp := count - trigPos - 1

	planes := d.trigger.derivePlanes()

	buf := NewBuffer(settingFrameSize)

	buf.WriteUint32LE(settingSync)
	buf.WriteUint16LE(settingModeHeader)
	buf.WriteUint16LE(d.settingMode())
	buf.WriteUint32LE(settingDividerHeader)
	buf.WriteUint32LE(divider)
	buf.WriteUint32LE(settingCountHeader)
	buf.WriteUint32LE(count)
	buf.WriteUint32LE(settingTrigPosHeader)
	buf.WriteUint32LE(trigPos)
	buf.WriteUint16LE(settingTrigGlbHeader)
	buf.WriteUint16LE(d.trigger.stages)
	buf.WriteUint32LE(settingTrigAdpHeader)
	buf.WriteUint32LE(trigAdp)
	buf.WriteUint32LE(settingTrigSdaHeader)
	buf.WriteUint32LE(0)

	writeSection := func(header uint32, words *[TriggerStages]uint16) {
		buf.WriteUint32LE(header)
		for _, word := range words {
			buf.WriteUint16LE(word)
		}
	}

	writeSection(settingTrigMask0Header, &planes.mask0)
	writeSection(settingTrigMask1Header, &planes.mask1)
	writeSection(settingTrigValue0Header, &planes.value0)
	writeSection(settingTrigValue1Header, &planes.value1)
	writeSection(settingTrigEdge0Header, &planes.edge0)
	writeSection(settingTrigEdge1Header, &planes.edge1)
	writeSection(settingTrigCount0Header, &planes.count0)
	writeSection(settingTrigCount1Header, &planes.count1)
	writeSection(settingTrigLogic0Header, &planes.logic0)
	writeSection(settingTrigLogic1Header, &planes.logic1)

	buf.WriteUint32LE(settingEndSync)

	return buf
}
