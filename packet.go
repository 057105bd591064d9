// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import "time"

// PacketType tags the frames delivered to the session callback.
type PacketType int

const (
	// PacketHeader opens a session; always the first packet.
	PacketHeader PacketType = iota
	// PacketLogic carries raw logic samples.
	PacketLogic
	// PacketAnalog carries analog samples.
	PacketAnalog
	// PacketTrigger marks the trigger point; on DSLogic it carries the
	// trigger-position report.
	PacketTrigger
	PacketFrameBegin
	PacketFrameEnd
	// PacketEnd closes a session; emitted exactly once.
	PacketEnd
)

// MeasuredQuantity describes what an analog payload measures.
type MeasuredQuantity int

const (
	MQVoltage MeasuredQuantity = iota
)

type HeaderPayload struct {
	FeedVersion int
	StartTime   time.Time
	Samplerate  uint64
}

type LogicPayload struct {
	// Data length is always a multiple of UnitSize.
	Data     []byte
	UnitSize int
}

type AnalogPayload struct {
	Data       []byte
	NumSamples int
	MQ         MeasuredQuantity
	MQFlags    uint32
}

// TriggerPos is the first frame a DSLogic returns on the data endpoint,
// forwarded verbatim as the trigger packet payload.
type TriggerPos struct {
	RealPos    uint32
	RAMSaddr   uint32
	FirstBlock [504]byte
}

const triggerPosSize = 4 + 4 + 504

func decodeTriggerPos(buf []byte) *TriggerPos {
	pos := &TriggerPos{
		RealPos:  convertToUint32(buf),
		RAMSaddr: convertToUint32(buf[4:]),
	}
	copy(pos.FirstBlock[:], buf[8:triggerPosSize])

	return pos
}

// Packet is one typed frame delivered to the consumer. Only the payload
// matching Type is set.
type Packet struct {
	Type PacketType

	Header     *HeaderPayload
	Logic      *LogicPayload
	Analog     *AnalogPayload
	TriggerPos *TriggerPos
}

// SessionCallback receives every packet of an acquisition, in order,
// on the goroutine running Device.Run. Payload buffers are only valid
// for the duration of the call.
type SessionCallback func(packet *Packet)

func (d *Device) sendPacket(packet *Packet) {
	if d.session != nil {
		d.session(packet)
	}
}

func (d *Device) sendHeader() {
	d.sendPacket(&Packet{
		Type: PacketHeader,
		Header: &HeaderPayload{
			FeedVersion: 1,
			StartTime:   time.Now(),
			Samplerate:  d.curSamplerate,
		},
	})
}

func (d *Device) sendEnd() {
	d.sendPacket(&Packet{Type: PacketEnd})
}
