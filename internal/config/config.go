// Package config parses the command line into an Options struct and
// validates the mutual-exclusivity and dependency rules spec §6 lists
// for its three input modes (file/config, TCP, Redis queue). Grounded
// on the original's Option.cpp, which used Boost's program_options with
// hand-rolled conflictingOptions/optionDependency checks; this port
// keeps the same shape using pflag.
package config

import (
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

// Options mirrors the original Option struct's fields, plus the ambient
// metrics/log-level flags spec §6 adds for the Go port.
type Options struct {
	ConfigPath string
	LogPath    string
	IPDBPath   string

	RedisAddr  string
	RedisQueue string

	TCPInput   bool
	ListenIP   string
	ListenPort int
	ServerIP   string
	ServerPort int

	MetricsAddr string
	LogLevel    string
}

const (
	defaultIPDBPath    = "/opt/17monipdb.dat"
	defaultListenIP    = "127.0.0.1"
	defaultListenPort  = 5565
	defaultServerIP    = "127.0.0.1"
	defaultServerPort  = 5566
	defaultMetricsAddr = ":2113"
	defaultLogLevel    = "info"
)

// Parse builds an Options from argv (excluding the program name, as
// pflag.Parse expects) and validates it. A non-nil error means argv was
// malformed or violated one of the mode-exclusivity rules below; callers
// should print it and exit 1, matching the original's catch block.
func Parse(argv []string) (*Options, error) {
	fs := flag.NewFlagSet("logtunnel", flag.ContinueOnError)

	opt := &Options{}
	fs.StringVarP(&opt.ConfigPath, "config", "c", "", "config file path")
	fs.StringVarP(&opt.LogPath, "log", "l", "", "log file path")
	fs.StringVarP(&opt.IPDBPath, "db", "d", defaultIPDBPath, "ip database path")
	fs.StringVarP(&opt.RedisAddr, "redis", "r", "", "redis input (host:port)")
	fs.StringVar(&opt.RedisQueue, "redis-queue", "", "redis job queue")
	fs.BoolVarP(&opt.TCPInput, "tcp", "t", false, "tcp input")
	fs.StringVar(&opt.ListenIP, "listen-ip", defaultListenIP, "listen ip")
	fs.IntVar(&opt.ListenPort, "listen-port", defaultListenPort, "listen port")
	fs.StringVar(&opt.ServerIP, "server-ip", defaultServerIP, "server ip")
	fs.IntVar(&opt.ServerPort, "server-port", defaultServerPort, "server port")
	fs.StringVar(&opt.MetricsAddr, "metrics-addr", defaultMetricsAddr, "prometheus metrics listen address")
	fs.StringVar(&opt.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	if err := opt.validate(fs); err != nil {
		return nil, err
	}
	return opt, nil
}

func (o *Options) validate(fs *flag.FlagSet) error {
	if err := conflicting(fs, "log", "tcp"); err != nil {
		return err
	}
	if err := conflicting(fs, "log", "redis"); err != nil {
		return err
	}
	if err := conflicting(fs, "tcp", "redis"); err != nil {
		return err
	}
	if err := dependency(fs, "redis", "redis-queue"); err != nil {
		return err
	}
	if !fs.Changed("redis") && !fs.Changed("config") {
		return errors.New("one of --config or --redis is required")
	}
	return nil
}

// conflicting reports an error if both x and y were explicitly set on
// the command line, mirroring the original's conflictingOptions helper.
func conflicting(fs *flag.FlagSet, x, y string) error {
	if fs.Changed(x) && fs.Changed(y) {
		return errors.Errorf("conflicting options %q and %q", x, y)
	}
	return nil
}

// dependency reports an error if x was set without y, mirroring the
// original's optionDependency helper.
func dependency(fs *flag.FlagSet, x, y string) error {
	if fs.Changed(x) && !fs.Changed(y) {
		return errors.Errorf("option %q requires option %q", x, y)
	}
	return nil
}
