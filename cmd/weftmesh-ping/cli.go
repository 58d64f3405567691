package main

import "flag"

// Options holds CLI options for the ping client.
type Options struct {
	ConfigPath string
	Target     string
	Count      int
	IntervalMS int
	Size       int
	ForceV4    bool
	ForceV6    bool
}

// ParseFlags parses CLI flags from args and returns Options. The target URL
// may be given with -target or as the first positional argument.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("weftmesh-ping", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Target, "target", "", "Tunnel URL to probe (overrides config)")
	fs.IntVar(&opts.Count, "count", 0, "Number of probes to send (overrides config)")
	fs.IntVar(&opts.IntervalMS, "interval-ms", 0, "Milliseconds between probes (overrides config)")
	fs.IntVar(&opts.Size, "size", -1, "Probe padding size in bytes (overrides config)")
	fs.BoolVar(&opts.ForceV4, "4", false, "Resolve the target to IPv4 only")
	fs.BoolVar(&opts.ForceV6, "6", false, "Resolve the target to IPv6 only")
	_ = fs.Parse(args)
	if opts.Target == "" && fs.NArg() > 0 {
		opts.Target = fs.Arg(0)
	}
	return opts
}
