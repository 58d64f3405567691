package main

import (
	"flag"
	"strings"
)

// Options holds CLI options for the echo responder.
type Options struct {
	ConfigPath string
	Listeners  []string
}

// listenFlags collects repeatable -listen flags.
type listenFlags []string

func (l *listenFlags) String() string { return strings.Join(*l, ",") }

func (l *listenFlags) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("weftmesh-echo", flag.ExitOnError)
	var opts Options
	var listeners listenFlags
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.Var(&listeners, "listen", "Tunnel URL to listen on (repeatable, overrides config)")
	_ = fs.Parse(args)
	opts.Listeners = listeners
	return opts
}
