// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/s09bQ5/gofx2lafw"
)

// NewRootCommand builds the fx2go command tree.
func NewRootCommand() *cobra.Command {
	var logLevel string
	configPath := DefaultConfigPath()
	cfg := NewDefaultConfig()

	cmd := &cobra.Command{
		Use:           "fx2go",
		Short:         "Capture tool for fx2lafw and DSLogic logic analyzers",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(configPath); err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			log := logrus.New()
			log.SetFormatter(&prefixed.TextFormatter{FullTimestamp: true})

			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)

			fx2lafw.SetLogger(log)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (trace, debug, info, warning, error)")
	cmd.PersistentFlags().StringVar(&configPath, "config", configPath,
		"path to the configuration file")

	cmd.AddCommand(newScanCommand(cfg))
	cmd.AddCommand(newCaptureCommand(cfg))

	return cmd
}
