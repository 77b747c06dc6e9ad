// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	log "github.com/sirupsen/logrus"

	"github.com/usbarmory/GoTEE-stm32mp/internal/config"
	"github.com/usbarmory/GoTEE-stm32mp/trusted_os_stm32mp2/cmd"
	"github.com/usbarmory/GoTEE-stm32mp/util"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct{}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "Apply the firewall configuration and exit."
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot - Apply the firewall configuration and exit.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Boot) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Boot) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	p := boot(args[0].(*config.Config))

	for _, n := range p.Devices {
		log.Infof("granted %s", p.Tree.Path(n))
	}

	for _, n := range p.Skipped {
		log.Warnf("skipped %s", p.Tree.Path(n))
	}

	return subcommands.ExitSuccess
}

// Console implements subcommands.Command for the "console" command.
type Console struct {
	address string
}

// Name implements subcommands.Command.Name.
func (*Console) Name() string {
	return "console"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Console) Synopsis() string {
	return "Apply the firewall configuration and serve the SSH console."
}

// Usage implements subcommands.Command.Usage.
func (*Console) Usage() string {
	return `console [-address host:port] - Apply the firewall configuration and serve the SSH console.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Console) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.address, "address", "", "SSH listener address, overrides the configuration.")
}

// Execute implements subcommands.Command.Execute.
func (c *Console) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	p := boot(conf)

	if c.address == "" {
		c.address = conf.Console.Address
	}

	console := &util.Console{
		Banner:  cmd.Banner,
		Help:    "type `help` for a list of commands",
		Handler: cmd.Handle,
	}

	if path := conf.Console.HostKey; path != "" {
		key, err := os.ReadFile(path)

		if err != nil {
			log.Errorf("could not read host key, %v", err)
			return subcommands.ExitFailure
		}

		console.HostKey = key
	}

	listener, err := net.Listen("tcp", c.address)

	if err != nil {
		log.Errorf("could not start listener, %v", err)
		return subcommands.ExitFailure
	}

	defer listener.Close()

	if err = console.Start(listener); err != nil {
		log.Errorf("could not start console, %v", err)
		return subcommands.ExitFailure
	}

	log.Infof("console listening on %s", listener.Addr())

	if addr := conf.Console.RPC; addr != "" {
		l, err := net.Listen("tcp", addr)

		if err != nil {
			log.Errorf("could not start RPC listener, %v", err)
			return subcommands.ExitFailure
		}

		defer l.Close()

		if err = serveRPC(p, l); err != nil {
			log.Errorf("could not start RPC server, %v", err)
			return subcommands.ExitFailure
		}

		log.Infof("RPC listening on %s", l.Addr())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Infof("monitor says goodbye")

	return subcommands.ExitSuccess
}

// PM implements subcommands.Command for the "pm" command.
type PM struct {
	cycles int
}

// Name implements subcommands.Command.Name.
func (*PM) Name() string {
	return "pm"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PM) Synopsis() string {
	return "Apply the firewall configuration and run suspend/resume cycles."
}

// Usage implements subcommands.Command.Usage.
func (*PM) Usage() string {
	return `pm [-cycles n] - Apply the firewall configuration and run suspend/resume cycles.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *PM) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.cycles, "cycles", 1, "number of suspend/resume cycles.")
}

// Execute implements subcommands.Command.Execute.
func (p *PM) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	boot(args[0].(*config.Config))

	for i := 0; i < p.cycles; i++ {
		if err := cmd.Cycle(true, true); err != nil {
			log.Errorf("cycle %d: %v", i, err)
			return subcommands.ExitFailure
		}
	}

	log.Infof("%d suspend/resume cycles completed", p.cycles)

	if err := cmd.Dump(os.Stdout); err != nil {
		log.Error(err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

// Dump implements subcommands.Command for the "dump" command.
type Dump struct{}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "Apply the firewall configuration and print the controllers state."
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump - Apply the firewall configuration and print the controllers state.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Dump) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Dump) Execute(_ context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	boot(args[0].(*config.Config))

	if err := cmd.Dump(os.Stdout); err != nil {
		log.Error(err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}
