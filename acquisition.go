// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"context"
)

// configureChannels derives the sample width and the software trigger
// mask/value pairs from the enabled channels.
func (d *Device) configureChannels() error {
	for i := 0; i < NumTriggerStages; i++ {
		d.triggerMask[i] = 0
		d.triggerValue[i] = 0
	}

	stage := -1
	d.sampleWide = false

	for _, ch := range d.Channels {
		if !ch.Enabled {
			continue
		}

		if d.dslogic {
			if (ch.Index > 7 && ch.Type == ChannelLogic) ||
				(ch.Index > 0 && ch.Type == ChannelAnalog) {
				d.sampleWide = true
			} else {
				d.sampleWide = false
			}
		} else if ch.Index > 7 {
			d.sampleWide = true
		}

		if ch.TriggerSpec == "" {
			continue
		}
		if len(ch.TriggerSpec) > NumTriggerStages {
			return errorf(ErrArg, "trigger specification %q on channel %d exceeds %d stages",
				ch.TriggerSpec, ch.Index, NumTriggerStages)
		}

		channelBit := uint16(1) << uint(ch.Index)
		stage = 0
		for _, tc := range ch.TriggerSpec {
			d.triggerMask[stage] |= channelBit
			if tc == '1' {
				d.triggerValue[stage] |= channelBit
			}
			stage++
		}
	}

	if d.sampleWide && !d.caps.Get(capWide16) {
		return newError(ErrBug, "16-bit sampling enabled on hardware without the capability")
	}

	if stage == -1 {
		// No triggers configured, make sure acquisition doesn't wait
		// for any.
		d.triggerStage = triggerFired
	} else {
		d.triggerStage = 0
	}

	return nil
}

// StartAcquisition arms the device and submits the transfer pool. The
// session callback receives a header packet now and an end packet when
// the acquisition winds down; drive completions with Run.
func (d *Device) StartAcquisition(session SessionCallback) error {
	if d.status != StatusActive {
		return newError(ErrArg, "device is not open")
	}
	if d.acquiring {
		return newError(ErrArg, "acquisition already running")
	}

	d.session = session
	d.numSamples = 0
	d.emptyTransferCount = 0
	d.submittedTransfers = 0
	d.numTransfers = 0
	d.transfers = nil
	d.triggerOffset = 0
	d.testInit = true
	if d.dslogic {
		d.dslStatus = acqInit
	}

	d.completions = make(chan *bulkTransfer, 2*numSimulTransfers)
	d.submitQueue = make(chan *bulkTransfer, 2*numSimulTransfers)
	d.acquiring = true
	go d.transferWorker()

	if err := d.configureChannels(); err != nil {
		logger.Errorf("failed to configure channels: %v", err)
		d.cancelStart()
		return err
	}

	if d.dslogic {
		if err := d.startDSLogic(); err != nil {
			d.cancelStart()
			return err
		}
	} else {
		if err := d.startTransfers(); err != nil {
			d.cancelStart()
			return err
		}
	}

	d.sendHeader()

	if !d.dslogic {
		if err := d.commandStartAcquisition(); err != nil {
			// Transfers are already in flight; tear them down and let
			// the end packet close the short session.
			d.AbortAcquisition()
			d.drainUntilFinished()
			return err
		}
	}

	return nil
}

// startDSLogic runs the DSLogic start prologue: stop any stale
// acquisition, configure the FPGA, deliver the settings frame, then
// wait for the trigger-position report on the data endpoint.
func (d *Device) startDSLogic() error {
	// Stop previous GPIF acquisition.
	if err := commandStopAcquisition(d.port); err != nil {
		logger.Error("stopping previous DSLogic acquisition failed")
		return err
	}
	logger.Debug("stopped previous DSLogic acquisition")

	// Load the bitstream, then arm the FPGA for this acquisition.
	if err := d.configureFPGA(); err != nil {
		d.dslStatus = acqError
		return err
	}

	if err := d.deliverFpgaSetting(); err != nil {
		d.dslStatus = acqError
		return err
	}

	// Poll for the trigger-position report.
	t := d.newBulkTransfer(bulkDSLogicEndpoint, triggerPosSize, 0, d.receiveTriggerPos)
	d.transfers = []*bulkTransfer{t}
	d.numTransfers = 1
	d.submitTransfer(t)
	d.submittedTransfers++

	d.dslStatus = acqStart

	return nil
}

// cancelStart tears down a start attempt that failed before any
// transfer was submitted. Nothing was emitted, so no end packet.
func (d *Device) cancelStart() {
	close(d.submitQueue)
	d.transfers = nil
	d.numTransfers = 0
	d.acquiring = false
}

// StopAcquisition requests an asynchronous stop; the end packet goes
// out once the in-flight transfers drain.
func (d *Device) StopAcquisition() {
	d.AbortAcquisition()
}

// AbortAcquisition cancels every in-flight transfer and discards all
// late completions. Idempotent.
func (d *Device) AbortAcquisition() {
	d.numSamples = -1

	if d.dslogic && d.dslStatus != acqError {
		d.dslStatus = acqStop
	}

	for i := d.numTransfers - 1; i >= 0; i-- {
		if d.transfers[i] != nil {
			d.transfers[i].cancelCtx()
		}
	}
}

// Run dispatches transfer completions until the acquisition finishes.
// All packet emission happens on the calling goroutine. Cancelling ctx
// aborts the acquisition but still drains it, so the end packet is
// always delivered.
func (d *Device) Run(ctx context.Context) error {
	for d.acquiring {
		select {
		case t := <-d.completions:
			t.handler(t)
		case <-ctx.Done():
			d.AbortAcquisition()
			d.drainUntilFinished()
			return ctx.Err()
		}
	}

	return nil
}

func (d *Device) drainUntilFinished() {
	for d.acquiring {
		t := <-d.completions
		t.handler(t)
	}
}

// receiveTriggerPos handles the first DSLogic completion: the packed
// trigger-position report. A good report is forwarded as the trigger
// packet, then the data transfer pool starts.
func (d *Device) receiveTriggerPos(t *bulkTransfer) {
	if d.numSamples == -1 {
		d.freeTransfer(t)
		return
	}

	logger.Debugf("receive_trigger_pos(): status %d received %d bytes", t.status, t.actual)

	if d.dslStatus == acqError {
		d.freeTransfer(t)
		return
	}

	if t.status == TransferCompleted && t.actual >= triggerPosSize {
		pos := decodeTriggerPos(t.buffer)
		d.sendPacket(&Packet{Type: PacketTrigger, TriggerPos: pos})
		d.dslStatus = acqTriggered

		// Start the data pool before releasing the report transfer so
		// the in-flight count never touches zero mid-acquisition.
		if err := d.startTransfers(); err != nil {
			logger.Errorf("could not start data transfers: %v", err)
			d.dslStatus = acqError
			d.AbortAcquisition()
		}
		d.freeTransfer(t)
	} else {
		d.dslStatus = acqError
		d.AbortAcquisition()
		d.freeTransfer(t)
	}
}

// receiveTransfer handles one completed data transfer: software
// triggering, budget-bounded packet emission, and resubmission.
func (d *Device) receiveTransfer(t *bulkTransfer) {
	// If the acquisition has already ended, just free whatever still
	// comes in.
	if d.numSamples == -1 {
		d.freeTransfer(t)
		return
	}

	logger.Debugf("receive_transfer(): status %d received %d bytes", t.status, t.actual)

	packetHasError := false
	switch t.status {
	case TransferNoDevice:
		d.AbortAcquisition()
		d.freeTransfer(t)
		return
	case TransferCompleted, TransferTimedOut:
		// A timed-out transfer may still carry data.
	default:
		packetHasError = true
	}

	if t.actual == 0 || packetHasError {
		d.emptyTransferCount++
		if d.emptyTransferCount > maxEmptyTransfers {
			// The FX2 gave up. End the acquisition, the frontend will
			// work out that the samplecount is short.
			d.AbortAcquisition()
			d.freeTransfer(t)
		} else {
			d.resubmitTransfer(t)
		}
		return
	}
	d.emptyTransferCount = 0

	sampleWidth := 1
	if d.sampleWide {
		sampleWidth = 2
	}
	buf := t.buffer[:t.actual]
	curSampleCount := t.actual / sampleWidth

	triggerOffset := 0
	if d.triggerStage >= 0 {
		triggerOffset = d.runSoftwareTrigger(buf, sampleWidth, curSampleCount)
	}

	if d.triggerStage == triggerFired {
		if d.emitSamples(buf[triggerOffset*sampleWidth:], sampleWidth) {
			d.freeTransfer(t)
			return
		}
	}

	d.resubmitTransfer(t)
}

// runSoftwareTrigger scans the samples of one transfer against the
// stage table. On a full match it emits the trigger packet plus a
// logic packet carrying the matched samples, marks the trigger fired
// and returns the offset of the first post-trigger sample.
func (d *Device) runSoftwareTrigger(buf []byte, sampleWidth int, count int) int {
	for i := 0; i < count; i++ {
		var curSample uint16
		if sampleWidth == 2 {
			curSample = convertToUint16(buf[i*2:])
		} else {
			curSample = uint16(buf[i])
		}

		if curSample&d.triggerMask[d.triggerStage] == d.triggerValue[d.triggerStage] {
			// Match on this trigger stage.
			d.triggerBuffer[d.triggerStage] = curSample
			d.triggerStage++

			if d.triggerStage == NumTriggerStages ||
				d.triggerMask[d.triggerStage] == 0 {
				// Match on all trigger stages, we're done.
				matched := d.triggerStage
				d.sendPacket(&Packet{Type: PacketTrigger})

				// Send the samples that triggered, since we're
				// skipping past them.
				pre := make([]byte, matched*sampleWidth)
				for j := 0; j < matched; j++ {
					if sampleWidth == 2 {
						pre[j*2] = byte(d.triggerBuffer[j])
						pre[j*2+1] = byte(d.triggerBuffer[j] >> 8)
					} else {
						pre[j] = byte(d.triggerBuffer[j])
					}
				}
				d.sendPacket(&Packet{
					Type:  PacketLogic,
					Logic: &LogicPayload{Data: pre, UnitSize: sampleWidth},
				})
				d.numSamples += int64(matched)

				d.triggerStage = triggerFired
				d.triggerOffset = i + 1
				return i + 1
			}
		} else if d.triggerStage > 0 {
			/*
			 * We had a match before, but not on this sample. We may
			 * still have a match on this stage at the sample after the
			 * one that matched originally -- a trigger on 0001 would
			 * otherwise fail on seeing 00001 -- so back up and restart
			 * at stage 0; the loop increment revisits from there.
			 */
			i -= d.triggerStage
			if i < -1 {
				i = -1 // went back past this buffer
			}
			d.triggerStage = 0
		}
	}

	return 0
}

// emitSamples sends the post-trigger tail of a transfer, bounded by the
// remaining sample budget. Returns true when the acquisition hit its
// limit and was aborted.
func (d *Device) emitSamples(data []byte, sampleWidth int) bool {
	if d.limitSamples > 0 {
		remaining := uint64(0)
		if uint64(d.numSamples) < d.limitSamples {
			remaining = (d.limitSamples - uint64(d.numSamples)) * uint64(sampleWidth)
		}
		if uint64(len(data)) > remaining {
			data = data[:remaining]
		}
	}

	if len(data) > 0 {
		d.checkTestPattern(data)

		if !d.dslogic || d.dslMode == ModeLogic {
			d.sendPacket(&Packet{
				Type:  PacketLogic,
				Logic: &LogicPayload{Data: data, UnitSize: sampleWidth},
			})
		} else {
			d.sendPacket(&Packet{
				Type: PacketAnalog,
				Analog: &AnalogPayload{
					Data:       data,
					NumSamples: len(data) / sampleWidth,
					MQ:         MQVoltage,
				},
			})
		}

		d.numSamples += int64(len(data) / sampleWidth)
	}

	if d.limitSamples > 0 && uint64(d.numSamples) >= d.limitSamples {
		d.AbortAcquisition()
		return true
	}

	return false
}

// checkTestPattern validates self-test captures: the 16-bit samples
// must form an arithmetic progression modulo the test modulus, seeded
// by the first observed value. A mismatch ends the check for this
// transfer; in external test mode it is also logged.
func (d *Device) checkTestPattern(data []byte) {
	if d.dslTest != TestInternal && d.dslTest != TestExternal {
		return
	}

	for i := 0; i+1 < len(data); i += 2 {
		curSample := convertToUint16(data[i:])

		if d.testInit {
			d.testSampleValue = curSample
			d.testInit = false
		}

		if curSample != d.testSampleValue {
			if d.dslTest == TestExternal {
				logger.Errorf("test pattern mismatch: expected %d, got %d",
					d.testSampleValue, curSample)
			}
			break
		}

		d.testSampleValue = (d.testSampleValue + 1) % testPatternModulus
	}
}
