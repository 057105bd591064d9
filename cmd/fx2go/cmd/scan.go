// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s09bQ5/gofx2lafw"
)

func newScanCommand(cfg *Config) *cobra.Command {
	var conn string
	var mode string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List supported devices found on the USB bus",
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
				fmt.Println("no supported devices found")
				return nil
			}

			for i, dev := range devices {
				prof := dev.Profile()
				location := "(renumerating)"
				if v, err := dev.ConfigGet(fx2lafw.ConfConn); err == nil {
					s, _ := v.Str()
					location = s
				}
				fmt.Printf("%d: %s %s at %s, %d channels\n",
					i, prof.Vendor, prof.Model, location, len(dev.Channels))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&conn, "conn", "", "only scan <bus>.<address>")
	cmd.Flags().StringVar(&mode, "mode", "", "DSLogic operating mode name")

	return cmd
}
