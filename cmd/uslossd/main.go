// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Command uslossd is a demo harness for the device-driver support
// layer: it boots the Supervisor (clock, disk, and terminal drivers),
// samples its metrics once a second (served on /metrics when
// -metrics-addr is set), and on SIGINT/SIGTERM shuts the whole thing
// down and prints the recent driver lifecycle events. It issues no
// service calls through the Dispatcher itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yikaicao/uslossd/internal/hwsim"
	"github.com/yikaicao/uslossd/internal/kernel"
	"github.com/yikaicao/uslossd/internal/kernel/diskstore"
)

var (
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	metricsAddr = flag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9100)")
	diskUnits   = flag.Int("disk-units", 0, "Number of disk units (0 = config default)")
	termUnits   = flag.Int("term-units", 0, "Number of terminal units (0 = config default)")
)

func main() {
	flag.Parse()

	var logger logr.Logger
	if *verbose {
		zapLog, _ := zap.NewDevelopment()
		logger = zapr.NewLogger(zapLog)
	} else {
		logger = logr.Discard()
	}

	cfg := kernel.LoadConfig()
	if *diskUnits > 0 {
		cfg.DiskUnits = *diskUnits
	}
	if *termUnits > 0 {
		cfg.TermUnits = *termUnits
	}

	store, err := diskstore.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "uslossd: opening disk store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	sup := kernel.NewSupervisor(cfg, store, hwsim.NewRealClock(20*time.Millisecond), logger)
	if err := sup.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "uslossd: starting supervisor: %v\n", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	metrics := kernel.NewMetrics(reg)

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error(err, "metrics server exited")
			}
		}()
		fmt.Printf("serving metrics on %s/metrics\n", *metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sampleTicker := time.NewTicker(time.Second)
	defer sampleTicker.Stop()

	fmt.Println("uslossd running, press Ctrl+C to stop")

loop:
	for {
		select {
		case <-sampleTicker.C:
			sup.Sample(metrics)
		case <-sigCh:
			fmt.Println("\nshutting down...")
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	sup.Shutdown(shutdownCtx)

	for _, ev := range sup.RecentEvents(20) {
		fmt.Println(ev)
	}

	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}
