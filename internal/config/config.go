// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config implements the monitor configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/usbarmory/GoTEE-stm32mp/internal/dt"
	"github.com/usbarmory/GoTEE-stm32mp/internal/platform"
	"github.com/usbarmory/GoTEE-stm32mp/internal/sim"
)

// Config represents the monitor configuration.
type Config struct {
	// Board selects a built-in device tree when DTB is empty
	Board string `toml:"board"`
	// DTB is the path of a flattened device tree blob
	DTB string `toml:"dtb"`

	// Insecure relaxes boot time checks
	Insecure bool `toml:"insecure"`
	// Debug enables register read-back verification
	Debug bool `toml:"debug"`

	LogLevel string `toml:"log_level"`

	Console Console `toml:"console"`
	Sim     Sim     `toml:"sim"`
}

// Console represents the SSH console configuration.
type Console struct {
	Address string `toml:"address"`
	// HostKey is the path of a PEM host key, a key is generated when empty
	HostKey string `toml:"host_key"`
	// RPC is the Normal World RPC listener address, disabled when empty
	RPC string `toml:"rpc"`
}

// Sim represents the simulated SoC configuration.
type Sim struct {
	Enabled bool  `toml:"enabled"`
	TDCID   uint8 `toml:"tdcid"`

	NbRISUP uint32 `toml:"risup"`
	NbRIMU  uint32 `toml:"rimu"`
	NbRISAL uint32 `toml:"risal"`

	NbPerSec uint32 `toml:"per_sec"`
	NbAHBSec uint32 `toml:"ahb_sec"`

	NbRegions uint32 `toml:"risaf_regions"`
	// Granularity is log2 of the RISAF region address granularity
	Granularity uint32 `toml:"risaf_granularity"`
	Width       uint32 `toml:"risaf_width"`
}

// Default returns the default configuration, a simulated STM32MP25 with the
// Secure World as TDCID.
func Default() *Config {
	s := platform.DefaultSimulated()

	return &Config{
		Board:    platform.STM32MP25,
		LogLevel: "info",
		Console: Console{
			Address: "127.0.0.1:2222",
		},
		Sim: Sim{
			Enabled:     true,
			TDCID:       s.TDCID,
			NbRISUP:     s.RIFSC.NbRISUP,
			NbRIMU:      s.RIFSC.NbRIMU,
			NbRISAL:     s.RIFSC.NbRISAL,
			NbPerSec:    s.ETZPC.NbPerSec,
			NbAHBSec:    s.ETZPC.NbAHBSec,
			NbRegions:   s.RISAF.NbRegions,
			Granularity: s.RISAF.Granularity,
			Width:       s.RISAF.Width,
		},
	}
}

// Decode parses a TOML configuration over the defaults, unknown keys are
// rejected.
func Decode(data string) (c *Config, err error) {
	c = Default()

	md, err := toml.Decode(data, c)

	if err != nil {
		return nil, fmt.Errorf("invalid configuration, %v", err)
	}

	return c, check(md, c)
}

// Load parses a TOML configuration file over the defaults.
func Load(path string) (c *Config, err error) {
	c = Default()

	md, err := toml.DecodeFile(path, c)

	if err != nil {
		return nil, fmt.Errorf("could not load %s, %v", path, err)
	}

	return c, check(md, c)
}

func check(md toml.MetaData, c *Config) error {
	if keys := md.Undecoded(); len(keys) > 0 {
		var s []string

		for _, k := range keys {
			s = append(s, k.String())
		}

		return fmt.Errorf("unknown configuration keys: %s", strings.Join(s, ", "))
	}

	return c.Validate()
}

// Validate checks the configuration consistency.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}

	if c.DTB == "" {
		if _, err := platform.Builtin(c.Board); err != nil {
			return err
		}
	}

	if c.Sim.Enabled && c.Sim.TDCID > 7 {
		return fmt.Errorf("invalid simulated TDCID %d", c.Sim.TDCID)
	}

	if c.Sim.Enabled && (c.Sim.NbRegions > 0xff || c.Sim.Granularity+c.Sim.Width > 32) {
		return fmt.Errorf("invalid simulated RISAF geometry")
	}

	return nil
}

// Level returns the configured log level.
func (c *Config) Level() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}

// Tree returns the configured device tree.
func (c *Config) Tree() (*dt.Tree, error) {
	if c.DTB == "" {
		return platform.Builtin(c.Board)
	}

	buf, err := os.ReadFile(c.DTB)

	if err != nil {
		return nil, err
	}

	return dt.Parse(buf)
}

// Options returns the platform boot options.
func (c *Config) Options() platform.Options {
	opts := platform.Options{
		Bus:      platform.Native{},
		Insecure: c.Insecure,
		Debug:    c.Debug,
	}

	if c.Sim.Enabled {
		opts.Bus = &platform.Simulated{
			TDCID: c.Sim.TDCID,
			RIFSC: sim.RIFSC{NbRISUP: c.Sim.NbRISUP, NbRIMU: c.Sim.NbRIMU, NbRISAL: c.Sim.NbRISAL},
			ETZPC: sim.ETZPC{NbPerSec: c.Sim.NbPerSec, NbAHBSec: c.Sim.NbAHBSec},
			RISAF: sim.RISAF{NbRegions: c.Sim.NbRegions, Granularity: c.Sim.Granularity, Width: c.Sim.Width},
		}
	}

	return opts
}
