// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"context"
	"time"
)

// bulkTransfer is one queued bulk-in transfer and its owned buffer.
// Transfers on an endpoint complete in submission order; the software
// trigger relies on that.
type bulkTransfer struct {
	dev      *Device
	endpoint int
	buffer   []byte
	// timeout for one read attempt; zero means no deadline
	timeout time.Duration

	status TransferStatus
	actual int

	handler func(*bulkTransfer)

	ctx       context.Context
	cancelCtx context.CancelFunc
}

func (d *Device) newBulkTransfer(endpoint int, size int, timeout time.Duration,
	handler func(*bulkTransfer)) *bulkTransfer {

	ctx, cancel := context.WithCancel(context.Background())

	return &bulkTransfer{
		dev:       d,
		endpoint:  endpoint,
		buffer:    make([]byte, size),
		timeout:   timeout,
		handler:   handler,
		ctx:       ctx,
		cancelCtx: cancel,
	}
}

// submitTransfer hands a transfer to the endpoint worker. It returns
// once queued; completion arrives through the device's completion
// queue.
func (d *Device) submitTransfer(t *bulkTransfer) {
	d.submitQueue <- t
}

func (d *Device) resubmitTransfer(t *bulkTransfer) {
	d.submitTransfer(t)
}

// transferWorker performs the queued reads one at a time, which mirrors
// the in-order completion guarantee of the USB backend. It exits when
// the submit queue is closed by finishAcquisition.
func (d *Device) transferWorker() {
	for t := range d.submitQueue {
		if t.ctx.Err() != nil {
			// cancelled while still queued
			t.actual = 0
			t.status = classifyTransferError(t.ctx.Err())
			d.completions <- t
			continue
		}

		ctx := t.ctx
		cancel := context.CancelFunc(nil)
		if t.timeout > 0 {
			ctx, cancel = context.WithTimeout(t.ctx, t.timeout)
		}

		n, err := d.port.BulkIn(ctx, t.endpoint, t.buffer)
		if cancel != nil {
			cancel()
		}

		t.actual = n
		t.status = classifyTransferError(err)
		d.completions <- t
	}
}

// freeTransfer releases a completed or cancelled transfer. When the
// last in-flight transfer frees, the acquisition finishes and the end
// packet goes out.
func (d *Device) freeTransfer(t *bulkTransfer) {
	t.cancelCtx()
	t.buffer = nil

	for i := 0; i < d.numTransfers; i++ {
		if d.transfers[i] == t {
			d.transfers[i] = nil
			break
		}
	}

	d.submittedTransfers--
	if d.submittedTransfers == 0 {
		d.finishAcquisition()
	}
}

func (d *Device) finishAcquisition() {
	d.sendEnd()

	close(d.submitQueue)
	d.transfers = nil
	d.numTransfers = 0
	d.acquiring = false
}

// startTransfers allocates and submits the bulk data transfer pool.
// On the DSLogic this runs after the trigger-position report.
func (d *Device) startTransfers() error {
	timeout := d.transferTimeout()
	numTransfers := d.numberOfTransfers()

	var size int
	switch {
	case d.dslogic && d.dslMode == ModeAnalog:
		size = 128
	case d.dslogic && d.dslMode == ModeDSO:
		size = 16 * 1024
	default:
		size = d.bufferSize()
	}

	if numTransfers == 0 || size == 0 {
		return errorf(ErrProtocol, "samplerate %d Hz leaves no room for transfers",
			d.curSamplerate)
	}

	endpoint := bulkDataEndpoint
	if d.dslogic {
		endpoint = bulkDSLogicEndpoint
	}

	d.transfers = make([]*bulkTransfer, numTransfers)
	d.numTransfers = numTransfers

	for i := 0; i < numTransfers; i++ {
		t := d.newBulkTransfer(endpoint, size, timeout, d.receiveTransfer)
		d.transfers[i] = t
		d.submitTransfer(t)
		d.submittedTransfers++
	}

	if d.dslogic {
		d.dslStatus = acqData
	}

	return nil
}

func (d *Device) bytesPerMillisecond() int {
	width := 1
	if d.sampleWide {
		width = 2
	}

	return int(d.curSamplerate/1000) * width
}

// bufferSize is large enough to hold 10ms of data and a multiple of
// the 512-byte bulk packet size.
func (d *Device) bufferSize() int {
	return roundUp512(10 * d.bytesPerMillisecond())
}

// numberOfTransfers sizes the pool to buffer about 500ms of data, or
// 100ms on the DSLogic.
func (d *Device) numberOfTransfers() int {
	window := 500
	if d.dslogic {
		window = 100
	}

	size := d.bufferSize()
	if size == 0 {
		return 0
	}

	return minInt(window*d.bytesPerMillisecond()/size, numSimulTransfers)
}

func (d *Device) transferTimeout() time.Duration {
	if d.dslogic {
		return 1000 * time.Millisecond
	}

	totalSize := d.bufferSize() * d.numberOfTransfers()
	bpm := d.bytesPerMillisecond()
	if bpm == 0 {
		return time.Second
	}

	timeout := totalSize / bpm
	// leave a headroom of 25 percent
	return time.Duration(timeout+timeout/4) * time.Millisecond
}
