// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package cmd

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir  = ".fx2go"
	configFile = "config.yaml"
)

// Config is the tool configuration file.
type Config struct {
	// FirmwareDir holds the fx2lafw firmware files and the DSLogic
	// FPGA bitstream.
	FirmwareDir string `yaml:"firmware_dir"`
	LogLevel    string `yaml:"log_level"`
	// Samplerate is the default samplerate in Hz when the capture
	// command gets no explicit one.
	Samplerate uint64 `yaml:"samplerate,omitempty"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, configDir, configFile)
}

func NewDefaultConfig() *Config {
	return &Config{
		FirmwareDir: "/usr/share/sigrok-firmware",
		LogLevel:    "info",
	}
}

// Load merges the YAML file at path into the config. A missing file at
// the default location is not an error.
func (c *Config) Load(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultConfigPath() {
			return nil
		}
		return err
	}

	return yaml.Unmarshal(data, c)
}

// Persist writes the config back out, creating the directory if
// needed.
func (c *Config) Persist(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return ioutil.WriteFile(path, data, 0644)
}
