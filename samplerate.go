// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package fx2lafw

// solveSampleDelay computes the GPIF delay divider and clock-source
// flag for one of the base-variant samplerates. The 48 MHz clock is
// preferred; rates it cannot express divide down from 30 MHz instead.
// The result depends only on the arguments.
func solveSampleDelay(samplerate uint64, sampleWide bool) (int, uint8, error) {
	if sampleWide && samplerate > maxSamplerate16Bit {
		return 0, 0, errorf(ErrProtocol,
			"unable to sample at %d Hz when collecting 16-bit samples", samplerate)
	}

	delay := 0
	flags := uint8(startFlagsClk30MHz)

	if samplerate != 0 && (48*mhz)%samplerate == 0 {
		flags = startFlagsClk48MHz
		delay = int((48*mhz)/samplerate) - 1
		if delay > maxSampleDelay {
			delay = 0
		}
	}

	if delay == 0 && samplerate != 0 && (30*mhz)%samplerate == 0 {
		flags = startFlagsClk30MHz
		delay = int((30*mhz)/samplerate) - 1
	}

	clk := "30"
	if flags&startFlagsClk48MHz != 0 {
		clk = "48"
	}
	logger.Debugf("GPIF delay = %d, clocksource = %sMHz", delay, clk)

	if delay <= 0 || delay > maxSampleDelay {
		return 0, 0, errorf(ErrProtocol, "unable to sample at %d Hz", samplerate)
	}

	return delay, flags, nil
}
