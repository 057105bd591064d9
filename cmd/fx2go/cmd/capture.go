// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/s09bQ5/gofx2lafw"
)

func newCaptureCommand(cfg *Config) *cobra.Command {
	var conn string
	var mode string
	var testMode string
	var output string
	var triggerSpec string
	var samplerate uint64
	var samples uint64
	var extClock bool

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run one acquisition and write the captured samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fx2lafw.InitializeUSB(); err != nil {
				return err
			}
			defer fx2lafw.CloseUSB()

			devices, err := fx2lafw.Scan(fx2lafw.ScanOptions{
				Conn:        conn,
				Mode:        mode,
				FirmwareDir: cfg.FirmwareDir,
			})
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				return fmt.Errorf("no supported devices found")
			}

			dev := devices[0]
			if err := dev.Open(); err != nil {
				return err
			}
			defer dev.Close()

			if samplerate == 0 {
				samplerate = cfg.Samplerate
			}
			if samplerate != 0 {
				err = dev.ConfigSet(fx2lafw.ConfSamplerate,
					fx2lafw.VariantUint64(samplerate))
				if err != nil {
					return err
				}
			}
			if samples != 0 {
				err = dev.ConfigSet(fx2lafw.ConfLimitSamples,
					fx2lafw.VariantUint64(samples))
				if err != nil {
					return err
				}
			}
			if extClock {
				err = dev.ConfigSet(fx2lafw.ConfExternalClock,
					fx2lafw.VariantBool(true))
				if err != nil {
					return err
				}
			}
			if testMode != "" {
				err = dev.ConfigSet(fx2lafw.ConfTestMode,
					fx2lafw.VariantString(testMode))
				if err != nil {
					return err
				}
			}

			if triggerSpec != "" {
				if err := applyTriggerSpec(dev, triggerSpec); err != nil {
					return err
				}
			}

			var out io.Writer = os.Stdout
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}

			var sampleBytes int
			var packets int
			var triggered bool

			callback := func(packet *fx2lafw.Packet) {
				packets++
				switch packet.Type {
				case fx2lafw.PacketLogic:
					out.Write(packet.Logic.Data)
					sampleBytes += len(packet.Logic.Data)
				case fx2lafw.PacketAnalog:
					out.Write(packet.Analog.Data)
					sampleBytes += len(packet.Analog.Data)
				case fx2lafw.PacketTrigger:
					triggered = true
				}
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-signals
				cancel()
			}()

			if err := dev.StartAcquisition(callback); err != nil {
				return err
			}
			if err := dev.Run(ctx); err != nil && err != context.Canceled {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(),
				"captured %d sample bytes in %d packets (triggered: %v)\n",
				sampleBytes, packets, triggered)

			return nil
		},
	}

	cmd.Flags().StringVar(&conn, "conn", "", "capture from <bus>.<address>")
	cmd.Flags().StringVar(&mode, "mode", "", "DSLogic operating mode name")
	cmd.Flags().StringVar(&testMode, "test-mode", "", "DSLogic test mode name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&triggerSpec, "trigger", "",
		"trigger specification, e.g. 0=1 or 0=01,3=1")
	cmd.Flags().Uint64Var(&samplerate, "samplerate", 0, "samplerate in Hz")
	cmd.Flags().Uint64Var(&samples, "samples", 0, "number of samples to capture")
	cmd.Flags().BoolVar(&extClock, "external-clock", false,
		"sample on the external clock (DSLogic only)")

	return cmd
}

// applyTriggerSpec parses "<channel>=<pattern>[,...]". On the base
// variant the pattern programs the per-channel software trigger; on a
// DSLogic its first symbol arms the simple FPGA trigger.
func applyTriggerSpec(dev *fx2lafw.Device, spec string) error {
	for _, part := range strings.Split(spec, ",") {
		fields := strings.SplitN(part, "=", 2)
		if len(fields) != 2 || fields[1] == "" {
			return fmt.Errorf("invalid trigger specification %q", part)
		}

		index, err := strconv.Atoi(fields[0])
		if err != nil || index < 0 || index >= len(dev.Channels) {
			return fmt.Errorf("invalid trigger channel %q", fields[0])
		}

		if dev.IsDSLogic() {
			trigger := dev.Trigger()
			sym := fields[1][0]
			if err := trigger.ProbeSet(uint16(index), sym, sym); err != nil {
				return err
			}
			trigger.SetMode(fx2lafw.TriggerSimple)
			trigger.SetEnabled(true)
		} else {
			dev.Channels[index].TriggerSpec = fields[1]
		}
	}

	return nil
}
