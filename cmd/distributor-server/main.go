// Command distributor-server runs a distributor server: a virtual L2
// Ethernet switch distributed over UDP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/nat-lab/distributor/pkg/distributor"
)

var opt struct {
	Help        bool
	Port        uint16
	BindAddr    string
	ConfigFile  string
	MetricsAddr string
	Verbose     bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.Uint16VarP(&opt.Port, "port", "p", 0, "UDP port to listen on (required)")
	pflag.StringVarP(&opt.BindAddr, "bind", "b", "0.0.0.0", "Local address to bind to")
	pflag.StringVarP(&opt.ConfigFile, "config", "c", "", "Optional YAML file with additional tunables")
	pflag.StringVar(&opt.MetricsAddr, "metrics-addr", "", "Address to serve /metrics and /debug/frames on (disabled if empty)")
	pflag.BoolVarP(&opt.Verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	pflag.Parse()

	if opt.Help || opt.Port == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s -p PORT [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(0)
		}
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if opt.Verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cfg := distributor.DefaultConfig()

	if opt.ConfigFile != "" {
		var err error
		cfg, err = distributor.LoadConfigFile(opt.ConfigFile, cfg)
		if err != nil {
			log.Fatal().Err(err).Str("file", opt.ConfigFile).Msg("failed to load config file")
		}
	}

	cfg.ListenPort = opt.Port
	if pflag.CommandLine.Changed("bind") || opt.ConfigFile == "" {
		cfg.ListenAddr = opt.BindAddr
	}
	if opt.MetricsAddr != "" {
		cfg.MetricsAddr = opt.MetricsAddr
	}

	if _, err := netip.ParseAddr(cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.ListenAddr).Msg("invalid bind address")
	}

	srv := distributor.NewServer(cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}
