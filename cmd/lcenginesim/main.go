// Command lcenginesim drives an in-process life-cycle environment with a
// cron-scheduled synthetic directory feed. It stands in for the upstream
// replication component so the engine can be watched end to end: batches of
// immediately-due life cycles are added and committed on each tick, and the
// configured sink command receives the fired events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/arpa2/lcengine/internal/config"
	"github.com/arpa2/lcengine/internal/engine"
	"github.com/arpa2/lcengine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Output:     cfg.LogOutput,
		FilePrefix: "lcenginesim",
	})

	sinkSpec := fmt.Sprintf("%s=cat >> %s", cfg.SimLifecycle, cfg.SimSinkPath)
	env, err := engine.Open(cfg.EnvName+"-sim", []string{sinkSpec}, log)
	if err != nil {
		log.Fatalf("open environment: %v", err)
	}

	feeder := NewFeeder(env, cfg.SimLifecycle, cfg.SimBatchSize, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := cron.New()
	if _, err := c.AddFunc(cfg.SimSchedule, func() {
		if err := feeder.RunBatch(ctx); err != nil {
			log.Errorf("feed batch: %v", err)
		}
	}); err != nil {
		log.Fatalf("invalid LCENGINE_SIM_SCHEDULE %q: %v", cfg.SimSchedule, err)
	}
	c.Start()
	log.WithField("schedule", cfg.SimSchedule).Info("lcenginesim feeding")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	<-c.Stop().Done()
	cancel()
	if err := env.Close(); err != nil {
		log.Errorf("close environment: %v", err)
	}
}
