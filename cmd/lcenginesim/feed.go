package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	core "github.com/arpa2/lcengine/internal/core/service"
	"github.com/arpa2/lcengine/internal/engine"
	"github.com/arpa2/lcengine/internal/lifecycle"
	"github.com/arpa2/lcengine/pkg/logger"
)

// Feeder generates synthetic transactional batches against an environment,
// standing in for the upstream directory-replication driver. Each batch adds
// a handful of fresh objects whose life cycles fire immediately, so the
// scheduler and handler path stay exercised.
type Feeder struct {
	env       *engine.Env
	log       *logger.Logger
	lifecycle string
	batchSize int
	retry     core.RetryPolicy
}

// NewFeeder builds a feeder for env generating batchSize objects per run
// under the given life-cycle name.
func NewFeeder(env *engine.Env, lcName string, batchSize int, log *logger.Logger) *Feeder {
	return &Feeder{
		env:       env,
		log:       log,
		lifecycle: lcName,
		batchSize: batchSize,
		retry: core.RetryPolicy{
			Attempts:       3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
		},
	}
}

// RunBatch stages and commits one synthetic batch, retrying the whole batch
// on failure per the feeder's retry policy.
func (f *Feeder) RunBatch(ctx context.Context) error {
	return core.Retry(ctx, f.retry, func() error {
		if err := f.runOnce(); err != nil {
			// A broken transaction lingers until rolled back.
			f.env.Rollback()
			return err
		}
		return nil
	})
}

func (f *Feeder) runOnce() error {
	for i := 0; i < f.batchSize; i++ {
		dn := fmt.Sprintf("cn=%s,ou=sim,dc=lcengine,dc=test", uuid.NewString())
		lcs := fmt.Sprintf("%s . start@ finish@", f.lifecycle)
		dnDER, err := lifecycle.EncodeDERItem(0x04, []byte(dn))
		if err != nil {
			return fmt.Errorf("encode dn: %w", err)
		}
		lcsDER, err := lifecycle.EncodeDERItem(0x04, []byte(lcs))
		if err != nil {
			return fmt.Errorf("encode lifecycleState: %w", err)
		}
		if ok, err := f.env.Add(dnDER, lcsDER); !ok {
			return fmt.Errorf("add %s: %w", dn, err)
		}
	}
	if ok, err := f.env.Commit(); !ok {
		return fmt.Errorf("commit batch: %w", err)
	}
	f.log.WithField("batch", f.batchSize).Debug("committed synthetic batch")
	return nil
}
