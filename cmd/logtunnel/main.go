// Command logtunnel is the driver binary: it parses CLI options, then
// dispatches to one of the three producer modes spec.md §4.5 and §6
// describe (file/config, TCP reverse-forward, Redis queue), mirroring
// the reference driver's main() in Fluorine.cpp.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"logtunnel/internal/config"
	"logtunnel/internal/geoip"
	"logtunnel/internal/logging"
	"logtunnel/internal/metrics"
	"logtunnel/internal/pipeline"
	"logtunnel/internal/queue"
	"logtunnel/internal/schema"
	"logtunnel/internal/tcpforward"
	"logtunnel/internal/tunnel"
)

func main() {
	opt, err := config.Parse(os.Args[1:])
	if err != nil {
		logging.Log.WithField("error", err).Error("logtunnel: option parse failed")
		os.Exit(1)
	}
	logging.SetLevel(opt.LogLevel)

	go func() {
		if err := metrics.Serve(opt.MetricsAddr); err != nil {
			logging.Log.WithField("error", err).Warn("logtunnel: metrics server stopped")
		}
	}()

	geo, err := geoip.Open(opt.IPDBPath)
	if err != nil {
		logging.Log.WithField("error", err).Fatal("logtunnel: cannot open geo database")
	}

	backendAddr := net.JoinHostPort(opt.ServerIP, strconv.Itoa(opt.ServerPort))
	tun := tunnel.New(backendAddr)
	defer tun.Close()

	switch {
	case opt.TCPInput:
		runTCPMode(opt, tun)
	case opt.RedisAddr != "":
		runQueueMode(opt, geo, tun)
	default:
		runFileMode(opt, geo, tun)
	}
}

func runTCPMode(opt *config.Options, tun *tunnel.Tunnel) {
	listenAddr := net.JoinHostPort(opt.ListenIP, strconv.Itoa(opt.ListenPort))
	srv := tcpforward.New(listenAddr, tun)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.Serve(); err != nil {
		logging.Log.WithField("error", err).Fatal("logtunnel: tcp forwarder failed")
	}
}

func runFileMode(opt *config.Options, geo *geoip.Resolver, tun *tunnel.Tunnel) {
	source, err := os.ReadFile(opt.ConfigPath)
	if err != nil {
		logging.Log.WithField("error", err).Fatal("logtunnel: cannot read schema config")
	}
	s, err := schema.Parse(string(source))
	if err != nil {
		logging.Log.WithField("error", err).Fatal("logtunnel: schema parse failed")
	}
	s.FixAggregationTime()

	lines, err := pipeline.Cycle(opt.LogPath, s, geo, tun)
	if err != nil {
		logging.Log.WithField("error", err).Error("logtunnel: cycle failed")
		os.Exit(1)
	}
	logging.Log.WithField("lines", lines).Info("logtunnel: cycle complete, exiting")
}

func runQueueMode(opt *config.Options, geo *geoip.Resolver, tun *tunnel.Tunnel) {
	client := queue.New(opt.RedisAddr, opt.RedisQueue)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		path, source, err := client.Next(ctx)
		if err != nil {
			logging.Log.WithField("error", err).Info("logtunnel: queue loop stopping")
			return
		}

		s, err := schema.Parse(source)
		if err != nil {
			logging.Log.WithField("error", err).Warn("logtunnel: invalid config from redis, skipping job")
			continue
		}
		s.FixAggregationTime()

		if _, err := pipeline.Cycle(path, s, geo, tun); err != nil {
			logging.Log.WithFields(map[string]interface{}{"path": path, "error": err}).Warn("logtunnel: cycle failed")
		}
	}
}
