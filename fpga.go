// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"
)

// configureFPGA streams the Spartan-6 bitstream into the DSLogic FPGA
// over the bulk-out endpoint. Any short transfer abandons the
// bitstream; the device is unusable until configured.
func (d *Device) configureFPGA() error {
	if err := commandFpgaConfig(d.port); err != nil {
		return err
	}

	// Takes >= 10ms for the FX2 to be ready for FPGA configure.
	time.Sleep(10 * time.Millisecond)

	filename := filepath.Join(d.firmwareDir, dslogicFpgaBitstream)
	logger.Infof("configuring FPGA using %s", filename)

	fw, err := os.Open(filename)
	if err != nil {
		return errorf(ErrResource, "unable to open FPGA bit file %s: %v", filename, err)
	}
	defer fw.Close()

	buf := make([]byte, fpgaBitstreamChunkSize)
	for {
		chunkSize, err := fw.Read(buf)
		if chunkSize == 0 {
			if err != nil && err != io.EOF {
				return errorf(ErrResource, "reading FPGA bit file failed: %v", err)
			}
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(),
			fpgaChunkTimeoutMs*time.Millisecond)
		transferred, err := d.port.BulkOut(ctx, bulkFpgaEndpoint, buf[:chunkSize])
		cancel()

		if err != nil {
			logger.Errorf("unable to configure FPGA of DSLogic: %v", err)
			return errorf(ErrTransport, "FPGA configuration transfer failed: %v", err)
		}
		if transferred != chunkSize {
			return errorf(ErrProtocol,
				"FPGA configuration short transfer: expected %d bytes, wrote %d",
				chunkSize, transferred)
		}

		logger.Debugf("configured %d bytes", chunkSize)
	}

	logger.Info("FPGA configure done")
	return nil
}

// deliverFpgaSetting announces and streams the packed settings frame.
func (d *Device) deliverFpgaSetting() error {
	if err := commandFpgaSetting(d.port, settingWordCount); err != nil {
		return err
	}

	frame := d.buildSettingFrame()

	ctx, cancel := context.WithTimeout(context.Background(),
		fpgaChunkTimeoutMs*time.Millisecond)
	defer cancel()

	transferred, err := d.port.BulkOut(ctx, bulkFpgaEndpoint, frame.Bytes())
	if err != nil {
		logger.Errorf("unable to set up FPGA of DSLogic: %v", err)
		return errorf(ErrTransport, "FPGA settings transfer failed: %v", err)
	}
	if transferred != frame.Len() {
		return errorf(ErrProtocol,
			"FPGA settings short transfer: expected %d bytes, wrote %d",
			frame.Len(), transferred)
	}

	logger.Infof("FPGA setting done, trigger mode = %d, trigger stages = %d",
		d.trigger.mode, d.trigger.stages)

	return nil
}
