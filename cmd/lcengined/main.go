// Command lcengined hosts a life-cycle environment: it opens the engine with
// the configured handler drivers, exposes the admin HTTP surface, and samples
// handler subprocess health in the background until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arpa2/lcengine/internal/admin"
	"github.com/arpa2/lcengine/internal/config"
	"github.com/arpa2/lcengine/internal/engine"
	"github.com/arpa2/lcengine/internal/system"
	"github.com/arpa2/lcengine/internal/worker"
	"github.com/arpa2/lcengine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Output:     cfg.LogOutput,
		FilePrefix: "lcengined",
	})
	if len(cfg.Drivers) == 0 {
		log.Fatal("no drivers configured; set LCENGINE_DRIVERS (name=command,...)")
	}

	env, err := engine.Open(cfg.EnvName, driverArgs(cfg), log)
	if err != nil {
		log.Fatalf("open environment: %v", err)
	}

	adminSrv := admin.NewServer(cfg.AdminAddr,
		func() []*engine.Env { return []*engine.Env{env} }, log)

	for _, d := range system.CollectDescriptors([]system.DescriptorProvider{env, adminSrv}) {
		log.WithFields(logrus.Fields{
			"service": d.Name, "layer": d.Layer, "capabilities": d.Capabilities,
		}).Info("service registered")
	}

	ctx := context.Background()
	services := []system.Service{adminSrv}
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			log.Fatalf("start %s: %v", svc.Name(), err)
		}
	}

	group := worker.NewWorkerGroup()
	group.AddFunc("driver-health", cfg.HealthSampleInterval, func(ctx context.Context) error {
		for _, d := range env.Status().Drivers {
			entry := log.WithFields(logrus.Fields{
				"driver": d.Name, "pid": d.PID,
				"rss_bytes": d.RSSBytes, "cpu_percent": d.CPUPercent,
			})
			if !d.Running {
				entry.Warn("handler process is not running")
				continue
			}
			entry.Debug("handler process health")
		}
		return nil
	}, func(name string, err error) {
		log.WithField("worker", name).Errorf("background worker: %v", err)
	})
	if err := group.Start(ctx); err != nil {
		log.Fatalf("start background workers: %v", err)
	}

	log.WithField("env", cfg.EnvName).Info("lcengined running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	group.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(shutdownCtx); err != nil {
			log.Errorf("stop %s: %v", services[i].Name(), err)
		}
	}
	if err := env.Close(); err != nil {
		log.Errorf("close environment: %v", err)
	}
}

func driverArgs(cfg *config.Config) []string {
	args := make([]string, 0, len(cfg.Drivers))
	for _, d := range cfg.Drivers {
		args = append(args, d.String())
	}
	return args
}
