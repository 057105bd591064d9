// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/gousb"
)

type fakeControl struct {
	request uint8
	payload []byte
}

type fakeRead struct {
	data []byte
	err  error
}

// fakePort scripts the USB transport: control-in responses by request
// code, bulk-in payloads in submission order. Reads past the script
// block until their transfer is cancelled, like an idle endpoint.
type fakePort struct {
	mu sync.Mutex

	controlIns  map[uint8][]byte
	controlOuts []fakeControl
	bulkIns     []fakeRead
	bulkOuts    [][]byte
}

func (p *fakePort) ControlIn(request uint8, data []byte, timeoutMs int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resp, ok := p.controlIns[request]
	if !ok {
		return -1, errorf(ErrTransport, "no scripted response for request 0x%02x", request)
	}
	copy(data, resp)
	return len(resp), nil
}

func (p *fakePort) ControlOut(request uint8, data []byte, timeoutMs int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payload := append([]byte(nil), data...)
	p.controlOuts = append(p.controlOuts, fakeControl{request, payload})
	return len(data), nil
}

func (p *fakePort) BulkIn(ctx context.Context, endpoint int, buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.bulkIns) == 0 {
		p.mu.Unlock()
		<-ctx.Done()
		return 0, ctx.Err()
	}
	read := p.bulkIns[0]
	p.bulkIns = p.bulkIns[1:]
	p.mu.Unlock()

	if read.err != nil {
		return 0, read.err
	}
	return copy(buf, read.data), nil
}

func (p *fakePort) BulkOut(ctx context.Context, endpoint int, buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bulkOuts = append(p.bulkOuts, append([]byte(nil), buf...))
	return len(buf), nil
}

func (p *fakePort) Close() error { return nil }

// packetRecord keeps what the callback saw; payload buffers are only
// valid during the call, so lengths and leading bytes are copied out.
type packetRecord struct {
	typ       PacketType
	length    int
	firstByte byte
	realPos   uint32
}

func recordPackets(records *[]packetRecord) SessionCallback {
	return func(packet *Packet) {
		rec := packetRecord{typ: packet.Type}
		switch packet.Type {
		case PacketLogic:
			rec.length = len(packet.Logic.Data)
			if rec.length > 0 {
				rec.firstByte = packet.Logic.Data[0]
			}
		case PacketAnalog:
			rec.length = len(packet.Analog.Data)
		case PacketTrigger:
			if packet.TriggerPos != nil {
				rec.realPos = packet.TriggerPos.RealPos
			}
		}
		*records = append(*records, rec)
	}
}

func countType(records []packetRecord, typ PacketType) int {
	n := 0
	for _, rec := range records {
		if rec.typ == typ {
			n++
		}
	}
	return n
}

func baseTestDevice(port usbPort) *Device {
	d := newDevice(&supportedProfiles[0], ModeLogic, 0) // USBee AX, 8 channels
	d.status = StatusActive
	d.port = port
	d.curSamplerate = 1 * mhz
	return d
}

// prepares a device for calling completion handlers directly, without
// the worker goroutine
func armDirect(d *Device, session SessionCallback) {
	d.session = session
	d.completions = make(chan *bulkTransfer, 2*numSimulTransfers)
	d.submitQueue = make(chan *bulkTransfer, 2*numSimulTransfers)
	d.acquiring = true
	d.numSamples = 0
	d.testInit = true
}

func completedTransfer(d *Device, data []byte) *bulkTransfer {
	t := d.newBulkTransfer(bulkDataEndpoint, len(data), 0, d.receiveTransfer)
	copy(t.buffer, data)
	t.actual = len(data)
	t.status = TransferCompleted
	return t
}

func TestAcquisitionNoTrigger(t *testing.T) {
	data := make([]byte, 10240)
	for i := range data {
		data[i] = byte(i)
	}

	port := &fakePort{bulkIns: []fakeRead{{data: data}}}
	d := baseTestDevice(port)
	d.limitSamples = 10000

	var records []packetRecord
	if err := d.StartAcquisition(recordPackets(&records)); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if records[0].typ != PacketHeader {
		t.Error("first packet is not the header")
	}
	if records[len(records)-1].typ != PacketEnd {
		t.Error("last packet is not the end marker")
	}
	if countType(records, PacketEnd) != 1 {
		t.Errorf("end packet count = %d, want 1", countType(records, PacketEnd))
	}
	if countType(records, PacketTrigger) != 0 {
		t.Error("unexpected trigger packet in an untriggered capture")
	}

	total := 0
	for _, rec := range records {
		if rec.typ == PacketLogic {
			total += rec.length
		}
	}
	if total != 10000 {
		t.Errorf("captured %d logic bytes, want exactly 10000", total)
	}

	// the start command carried the 48MHz clock flag and a delay of 47
	var start *fakeControl
	for i := range port.controlOuts {
		if port.controlOuts[i].request == cmdStart {
			start = &port.controlOuts[i]
		}
	}
	if start == nil {
		t.Fatal("no start command was sent")
	}
	want := []byte{startFlagsClk48MHz | startFlagsSample8Bit, 0x00, 0x2f}
	for i, b := range want {
		if start.payload[i] != b {
			t.Errorf("start payload[%d] = %#x, want %#x", i, start.payload[i], b)
		}
	}
}

func TestAcquisitionSoftwareTrigger(t *testing.T) {
	data := make([]byte, 10240)
	for i := 3; i < len(data); i++ {
		data[i] = byte(i - 2)
	}

	port := &fakePort{bulkIns: []fakeRead{{data: data}}}
	d := baseTestDevice(port)
	d.limitSamples = 1024
	d.Channels[0].TriggerSpec = "1"

	var records []packetRecord
	if err := d.StartAcquisition(recordPackets(&records)); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if countType(records, PacketTrigger) != 1 {
		t.Fatalf("trigger packet count = %d, want 1", countType(records, PacketTrigger))
	}

	var logics []packetRecord
	triggerSeen := false
	for _, rec := range records {
		switch rec.typ {
		case PacketTrigger:
			triggerSeen = true
		case PacketLogic:
			if !triggerSeen {
				t.Error("logic packet before the trigger packet")
			}
			logics = append(logics, rec)
		}
	}

	if len(logics) < 2 {
		t.Fatalf("logic packet count = %d, want at least 2", len(logics))
	}
	if logics[0].length != 1 || logics[0].firstByte != 0x01 {
		t.Errorf("matched-sample packet = %d bytes starting %#x, want 1 byte 0x01",
			logics[0].length, logics[0].firstByte)
	}
	if logics[1].firstByte != 0x02 {
		t.Errorf("post-trigger data starts at %#x, want 0x02", logics[1].firstByte)
	}

	total := 0
	for _, rec := range logics {
		total += rec.length
	}
	if total != 1024 {
		t.Errorf("captured %d samples, want exactly 1024", total)
	}
	if countType(records, PacketEnd) != 1 {
		t.Error("end packet missing or duplicated")
	}
}

func TestSoftwareTriggerRollback(t *testing.T) {
	d := baseTestDevice(nil)
	d.Channels[0].TriggerSpec = "001"

	var records []packetRecord
	armDirect(d, recordPackets(&records))

	if err := d.configureChannels(); err != nil {
		t.Fatal(err)
	}
	if d.triggerStage != 0 {
		t.Fatalf("trigger stage = %d, want 0", d.triggerStage)
	}

	tr := completedTransfer(d, []byte{0, 0, 0, 0, 1})
	d.transfers = []*bulkTransfer{tr}
	d.numTransfers = 1
	d.submittedTransfers = 1

	d.receiveTransfer(tr)

	// pattern 001 over 00001 must fire on the final sample, not at
	// offset 3
	if d.triggerStage != triggerFired {
		t.Fatal("trigger did not fire")
	}
	if d.triggerOffset != 5 {
		t.Errorf("trigger offset = %d, want 5", d.triggerOffset)
	}

	if countType(records, PacketTrigger) != 1 {
		t.Fatal("expected exactly one trigger packet")
	}
	if records[0].typ != PacketTrigger {
		t.Error("trigger packet is not first")
	}
	if records[1].typ != PacketLogic || records[1].length != 3 {
		t.Errorf("matched-sample packet length = %d, want 3", records[1].length)
	}
}

func TestEndEmittedOnceOnDisconnect(t *testing.T) {
	d := baseTestDevice(nil)

	var records []packetRecord
	armDirect(d, recordPackets(&records))
	d.triggerStage = triggerFired

	t1 := completedTransfer(d, nil)
	t1.status = TransferNoDevice
	t2 := completedTransfer(d, nil)
	t2.status = TransferCancelled

	d.transfers = []*bulkTransfer{t1, t2}
	d.numTransfers = 2
	d.submittedTransfers = 2

	d.receiveTransfer(t1)
	if d.numSamples != -1 {
		t.Fatal("disconnect did not abort the acquisition")
	}
	d.receiveTransfer(t2)

	if countType(records, PacketEnd) != 1 {
		t.Errorf("end packet count = %d, want 1", countType(records, PacketEnd))
	}
	if d.acquiring {
		t.Error("acquisition still marked running")
	}

	// aborting again is a no-op
	d.AbortAcquisition()
	d.AbortAcquisition()
}

func TestLateCompletionsDiscarded(t *testing.T) {
	d := baseTestDevice(nil)

	var records []packetRecord
	armDirect(d, recordPackets(&records))
	d.triggerStage = triggerFired
	d.numSamples = -1

	tr := completedTransfer(d, []byte{1, 2, 3, 4})
	d.transfers = []*bulkTransfer{tr}
	d.numTransfers = 1
	d.submittedTransfers = 1

	d.receiveTransfer(tr)

	if countType(records, PacketLogic) != 0 {
		t.Error("late completion still emitted data")
	}
	if countType(records, PacketEnd) != 1 {
		t.Error("late completion did not close the session")
	}
}

func TestEmptyTransferCeiling(t *testing.T) {
	d := baseTestDevice(nil)

	var records []packetRecord
	armDirect(d, recordPackets(&records))
	d.triggerStage = triggerFired
	d.emptyTransferCount = maxEmptyTransfers

	tr := completedTransfer(d, nil)
	d.transfers = []*bulkTransfer{tr}
	d.numTransfers = 1
	d.submittedTransfers = 1

	d.receiveTransfer(tr)

	if d.numSamples != -1 {
		t.Error("empty-transfer ceiling did not abort the acquisition")
	}
	if countType(records, PacketEnd) != 1 {
		t.Error("end packet missing after ceiling abort")
	}
}

func TestEmptyTransferResubmits(t *testing.T) {
	d := baseTestDevice(nil)

	var records []packetRecord
	armDirect(d, recordPackets(&records))
	d.triggerStage = triggerFired

	tr := completedTransfer(d, nil)
	tr.status = TransferTimedOut
	d.transfers = []*bulkTransfer{tr}
	d.numTransfers = 1
	d.submittedTransfers = 1

	d.receiveTransfer(tr)

	if d.emptyTransferCount != 1 {
		t.Errorf("empty transfer count = %d, want 1", d.emptyTransferCount)
	}
	select {
	case got := <-d.submitQueue:
		if got != tr {
			t.Error("a different transfer was resubmitted")
		}
	default:
		t.Error("empty transfer was not resubmitted")
	}
}

func TestDSLogicAcquisitionFlow(t *testing.T) {
	posReport := make([]byte, triggerPosSize)
	posReport[0] = 0xd2 // RealPos = 1234
	posReport[1] = 0x04

	sampleData := make([]byte, 2000)
	for i := range sampleData {
		sampleData[i] = byte(i)
	}

	port := &fakePort{
		bulkIns: []fakeRead{
			{data: posReport},
			{data: sampleData},
		},
	}

	var prof *Profile
	for i := range supportedProfiles {
		if supportedProfiles[i].Model == "DSLogic" {
			prof = &supportedProfiles[i]
			break
		}
	}

	d := newDevice(prof, ModeLogic, 0)
	d.status = StatusActive
	d.port = port
	d.curSamplerate = 10 * mhz
	d.limitSamples = 1000

	// a small stand-in bitstream for the FPGA configuration step
	d.firmwareDir = t.TempDir()
	bitstream := make([]byte, 1024)
	if err := ioutil.WriteFile(
		filepath.Join(d.firmwareDir, dslogicFpgaBitstream), bitstream, 0644); err != nil {
		t.Fatal(err)
	}

	var records []packetRecord
	if err := d.StartAcquisition(recordPackets(&records)); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// exactly three vendor requests: stop, FPGA configure, and a single
	// settings announcement
	if len(port.controlOuts) != 3 {
		t.Fatalf("control-out count = %d, want 3", len(port.controlOuts))
	}
	if port.controlOuts[0].request != cmdDSLogicStart ||
		port.controlOuts[0].payload[0] != startFlagsDSLogicStop {
		t.Error("first control-out is not the stop command")
	}
	if port.controlOuts[1].request != cmdDSLogicConfig {
		t.Error("second control-out is not the FPGA configure command")
	}
	if port.controlOuts[2].request != cmdDSLogicSetting {
		t.Error("third control-out is not the FPGA setting command")
	}
	if port.controlOuts[2].payload[0] != byte(settingWordCount) {
		t.Errorf("announced %d setting words, want %d",
			port.controlOuts[2].payload[0], settingWordCount)
	}

	if len(port.bulkOuts) != 2 {
		t.Fatalf("bulk-out count = %d, want bitstream plus settings frame", len(port.bulkOuts))
	}
	if len(port.bulkOuts[0]) != len(bitstream) {
		t.Errorf("bitstream transfer = %d bytes, want %d", len(port.bulkOuts[0]), len(bitstream))
	}
	if len(port.bulkOuts[1]) != settingFrameSize {
		t.Fatalf("settings frame not delivered as one %d-byte bulk-out", settingFrameSize)
	}

	if records[0].typ != PacketHeader {
		t.Error("first packet is not the header")
	}
	if countType(records, PacketTrigger) != 1 {
		t.Fatal("expected exactly one trigger packet")
	}
	for _, rec := range records {
		if rec.typ == PacketTrigger && rec.realPos != 1234 {
			t.Errorf("trigger position = %d, want 1234", rec.realPos)
		}
	}

	total := 0
	for _, rec := range records {
		if rec.typ == PacketLogic {
			total += rec.length
		}
	}
	// 1000 16-bit samples
	if total != 2000 {
		t.Errorf("captured %d bytes, want 2000", total)
	}
	if records[len(records)-1].typ != PacketEnd {
		t.Error("last packet is not the end marker")
	}
	if countType(records, PacketEnd) != 1 {
		t.Error("end packet duplicated")
	}
}

func TestRunAbortsOnContextCancel(t *testing.T) {
	port := &fakePort{} // no data: every read blocks until cancelled
	d := baseTestDevice(port)
	d.limitSamples = 10000

	var records []packetRecord
	if err := d.StartAcquisition(recordPackets(&records)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Run(ctx); err != context.Canceled {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if countType(records, PacketEnd) != 1 {
		t.Error("cancelled run did not deliver the end packet")
	}
}

func TestTransferErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want TransferStatus
	}{
		{"nil", nil, TransferCompleted},
		{"deadline", context.DeadlineExceeded, TransferTimedOut},
		{"usb timeout", gousb.TransferTimedOut, TransferTimedOut},
		{"no device", gousb.ErrorNoDevice, TransferNoDevice},
		{"cancelled", context.Canceled, TransferCancelled},
		{"stall", gousb.TransferStall, TransferError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyTransferError(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
