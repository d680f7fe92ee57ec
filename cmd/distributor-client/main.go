// Command distributor-client connects a local virtual NIC to a distributor
// server over UDP.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/nat-lab/distributor/pkg/peer"
)

var opt struct {
	Help        bool
	Device      string
	ServerAddr  string
	ServerPort  uint16
	Net         uint32
	MTU         int
	Compression bool
	Verbose     bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.StringVarP(&opt.Device, "dev", "d", "", "TAP device name (required)")
	pflag.StringVarP(&opt.ServerAddr, "server", "s", "", "Distributor server address (required)")
	pflag.Uint16VarP(&opt.ServerPort, "port", "p", 0, "Distributor server port (required)")
	pflag.Uint32VarP(&opt.Net, "net", "n", 0, "Network id to associate with (required)")
	pflag.IntVarP(&opt.MTU, "mtu", "m", 1400, "Maximum frame size read from the NIC")
	pflag.BoolVarP(&opt.Compression, "compress", "c", false, "Enable outgoing frame compression")
	pflag.BoolVarP(&opt.Verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	pflag.Parse()

	if opt.Help || opt.Device == "" || opt.ServerAddr == "" || opt.ServerPort == 0 || !pflag.CommandLine.Changed("net") {
		fmt.Fprintf(os.Stderr, "usage: %s -d DEV -s SERVER_ADDR -p SERVER_PORT -n NET [options]\n\noptions:\n%s",
			os.Args[0], pflag.CommandLine.FlagUsages())
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

	serverIP, err := netip.ParseAddr(opt.ServerAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", opt.ServerAddr).Msg("invalid server address")
	}

	iface, err := newDeviceNIC(opt.Device, opt.MTU)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create nic")
	}

	cfg := peer.DefaultConfig()
	cfg.ServerAddr = netip.AddrPortFrom(serverIP, opt.ServerPort)
	cfg.Net = opt.Net
	cfg.MTU = opt.MTU
	cfg.Compression = opt.Compression

	client := peer.New(cfg, iface, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start client")
	}

	<-ctx.Done()
	client.Stop()
}
