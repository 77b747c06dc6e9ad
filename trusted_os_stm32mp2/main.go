// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/google/subcommands"
	log "github.com/sirupsen/logrus"

	"github.com/usbarmory/GoTEE-stm32mp/internal/config"
	"github.com/usbarmory/GoTEE-stm32mp/internal/platform"
	"github.com/usbarmory/GoTEE-stm32mp/internal/rif"
	"github.com/usbarmory/GoTEE-stm32mp/trusted_os_stm32mp2/cmd"
)

var configPath = flag.String("config", "", "configuration file, built-in defaults are used when empty")

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)

	cmd.Banner = fmt.Sprintf("%s/%s (%s) • STM32MP RIF Security Monitor", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func loadConfig(path string) (conf *config.Config, err error) {
	if path == "" {
		conf = config.Default()
	} else if conf, err = config.Load(path); err != nil {
		return
	}

	lvl, err := conf.Level()

	if err != nil {
		return
	}

	log.SetLevel(lvl)

	return
}

// boot applies the firewall configuration, any configuration error must stop
// the boot process.
func boot(conf *config.Config) *platform.Platform {
	tree, err := conf.Tree()

	if err != nil {
		log.Fatalf("could not load device tree, %v", err)
	}

	p, err := platform.Boot(tree, conf.Options())

	var cerr *rif.ConfigurationError

	if errors.As(err, &cerr) {
		fmt.Fprintln(os.Stderr, cerr.ErrorStack())
		panic(err)
	}

	if err != nil {
		log.Fatalf("boot failed, %v", err)
	}

	cmd.Init(p)

	return p
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Boot), "")
	subcommands.Register(new(Console), "")
	subcommands.Register(new(PM), "")
	subcommands.Register(new(Dump), "")

	flag.Parse()

	conf, err := loadConfig(*configPath)

	if err != nil {
		log.Fatal(err)
	}

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}
