// Package engine hosts life-cycle environments: the transactional staging
// layer fed by the upstream directory-replication driver, the per-environment
// service worker that advances await-events and fires timers, and the driver
// table that delivers fired events to external handler processes.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	core "github.com/arpa2/lcengine/internal/core/service"
	"github.com/arpa2/lcengine/internal/lifecycle"
	"github.com/arpa2/lcengine/internal/metrics"
	"github.com/arpa2/lcengine/pkg/logger"
)

// ErrInvalidArgument is returned by Open for malformed driver specs, and by
// Add and Del when an input fails the grammar check.
var ErrInvalidArgument = errors.New("engine: invalid argument")

// ErrAborted is returned by entry points called after the current transaction
// broke internally. The upstream clears it with Rollback or a failing Commit.
var ErrAborted = errors.New("engine: transaction aborted")

// ErrNotActive is returned by Reset when no transaction is open, and by
// Collaborate when a side is neither active nor aborted.
var ErrNotActive = errors.New("engine: no transaction active")

// nowUnix is overridable in tests; production code always uses wall time.
var nowUnix = func() int64 { return time.Now().Unix() }

// envSeq hands out creation sequence numbers; they give collaborating
// environments a deterministic walk order.
var envSeq atomic.Uint64

// Env is one plugin instance: a set of directory objects with life cycles,
// fed by a single upstream transaction stream and serviced by one worker.
//
// The mutex guards everything underneath the environment. It is held by the
// feeder between the (possibly implicit) transaction open and the matching
// commit or break, and by the service worker between wait periods. The wake
// channel plays the condition variable: a commit or shutdown performs a
// non-blocking send, and the worker selects on it together with a timer
// armed at the earliest fire time.
type Env struct {
	name string
	seq  uint64
	log  *logger.Logger

	mu   sync.Mutex
	wake chan struct{}

	serviced bool
	aborted  bool
	cycle    *txnCycle

	objects map[string]*lifecycle.Object
	// order is the service worker's iteration list. Its head becomes a
	// time-sorted prefix after each partial-sort pass.
	order []*lifecycle.Object

	drivers []*Driver

	// txnID correlates the log lines of one open transaction.
	txnID      uuid.UUID
	txnObserve func(error)

	wg sync.WaitGroup
}

// Open creates an environment named name, spawns one handler process per
// "lifecycle=command" spec in args, and starts the service worker.
func Open(name string, args []string, log *logger.Logger) (*Env, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: at least one driver spec is required", ErrInvalidArgument)
	}
	specs := make([][2]string, 0, len(args))
	for _, arg := range args {
		dname, command, err := splitDriverSpec(arg)
		if err != nil {
			return nil, err
		}
		specs = append(specs, [2]string{dname, command})
	}
	e := &Env{
		name:    name,
		seq:     envSeq.Add(1),
		log:     log,
		wake:    make(chan struct{}, 1),
		objects: make(map[string]*lifecycle.Object),
	}
	for _, spec := range specs {
		d, err := startDriver(spec[0], spec[1], log)
		if err != nil {
			e.closeDrivers()
			return nil, fmt.Errorf("engine: start driver %q: %w", spec[0], err)
		}
		e.drivers = append(e.drivers, d)
	}
	e.serviced = true
	e.wg.Add(1)
	go e.serviceMain()
	e.log.WithField("env", e.name).Infof("environment opened with %d drivers", len(e.drivers))
	return e, nil
}

// Name returns the environment's name, used in log fields and metric labels.
func (e *Env) Name() string { return e.name }

// Close breaks any open transaction, stops the service worker, tears down
// the driver table, and discards all objects.
func (e *Env) Close() error {
	if e.txnActive() {
		// The feeder holds the mutex; break releases it.
		e.txnBreak("close")
	}
	// Cooperative shutdown: flip the flag under the mutex, wake the worker,
	// then wait for it to leave its loop.
	e.mu.Lock()
	e.serviced = false
	e.signalWake()
	e.mu.Unlock()
	e.wg.Wait()

	e.objects = make(map[string]*lifecycle.Object)
	e.order = nil
	err := e.closeDrivers()
	e.log.WithField("env", e.name).Info("environment closed")
	return err
}

func (e *Env) closeDrivers() error {
	var firstErr error
	for _, d := range e.drivers {
		if err := d.close(); err != nil {
			e.log.WithFields(logrus.Fields{"env": e.name, "driver": d.name}).
				Errorf("driver exited with error: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	e.drivers = nil
	return firstErr
}

// signalWake posts a wake-up to the service worker. The channel has capacity
// one; a pending wake already guarantees the worker observes the latest
// state, so further sends are dropped.
func (e *Env) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// findDriver matches a life-cycle name against the driver table, by
// identifier equality, in registration order.
func (e *Env) findDriver(name string) *Driver {
	for _, d := range e.drivers {
		if d.name == name {
			return d
		}
	}
	return nil
}

// insertObject puts a new object at the head of the iteration list; newest
// objects lead until the partial sort reorders them.
func (e *Env) insertObject(o *lifecycle.Object) {
	e.objects[o.DN] = o
	e.order = append([]*lifecycle.Object{o}, e.order...)
}

// pruneEmpty removes objects with no committed states, after a commit or an
// abort has left them hollow.
func (e *Env) pruneEmpty() {
	kept := e.order[:0]
	for _, o := range e.order {
		if o.IsEmpty() {
			delete(e.objects, o.DN)
			continue
		}
		kept = append(kept, o)
	}
	e.order = kept
}

// Status is a point-in-time snapshot of an environment for the admin surface.
type Status struct {
	Name      string         `json:"name"`
	Serviced  bool           `json:"serviced"`
	TxnActive bool           `json:"txn_active"`
	Aborted   bool           `json:"aborted"`
	Objects   int            `json:"objects"`
	States    int            `json:"states"`
	NextFire  int64          `json:"next_fire,omitempty"`
	Drivers   []DriverStatus `json:"drivers"`
}

// Status samples the environment under its mutex. It blocks while a
// transaction is in flight, which keeps the snapshot point-in-time
// consistent.
func (e *Env) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Name:      e.name,
		Serviced:  e.serviced,
		TxnActive: e.cycle != nil,
		Aborted:   e.aborted,
		Objects:   len(e.objects),
	}
	for _, o := range e.order {
		st.States += len(o.CommittedStates())
	}
	if len(e.order) > 0 {
		if ff := e.order[0].FirstFire(); ff != lifecycle.DirtyTime && ff != lifecycle.MaxTime {
			st.NextFire = ff
		}
	}
	for _, d := range e.drivers {
		st.Drivers = append(st.Drivers, d.Status())
	}
	return st
}

// Descriptor advertises the environment to the system layer.
func (e *Env) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   e.name,
		Domain: "lifecycle",
		Layer:  core.LayerEngine,
		Capabilities: []string{
			"transactions", "collaboration", "timers", "await-propagation",
		},
	}
}

// publishGauges refreshes the per-environment metrics after a commit.
func (e *Env) publishGauges() {
	metrics.SetObjectCount(e.name, len(e.objects))
}
