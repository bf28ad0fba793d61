package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	core "github.com/arpa2/lcengine/internal/core/service"
	"github.com/arpa2/lcengine/internal/metrics"
)

// txnCycle is the set of environments participating in one collaborative
// transaction. Every participant's cycle field points at the same shared
// set; a lone transaction is a self-singleton, and merging two cycles is a
// plain union.
type txnCycle struct {
	members map[*Env]struct{}
}

// sortedMembers returns the participants ordered by creation sequence, so
// multi-environment commit and break walk deterministically.
func (c *txnCycle) sortedMembers() []*Env {
	out := make([]*Env, 0, len(c.members))
	for m := range c.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// txnActive reports whether a transaction is open on this environment.
func (e *Env) txnActive() bool {
	return e.cycle != nil
}

// txnOpen starts a fresh transaction: it takes ownership of the environment
// (locking out the service worker), establishes the self-singleton
// participant set, and tags the transaction with a correlation ID. The
// mutex stays held until txnDone or txnBreak.
func (e *Env) txnOpen() {
	if e.txnActive() || e.aborted {
		e.log.WithField("env", e.name).Panic("transaction opened while active or aborted")
	}
	e.mu.Lock()
	e.cycle = &txnCycle{members: map[*Env]struct{}{e: {}}}
	e.txnID = uuid.New()
	e.txnObserve = core.StartObservation(context.Background(),
		metrics.EnvTransactionHooks(), map[string]string{"env": e.name})
	for _, o := range e.order {
		if o.HasStaging() {
			e.log.WithFields(logrus.Fields{"env": e.name, "dn": o.DN}).
				Panic("stale staging found at transaction open")
		}
	}
	e.log.WithFields(logrus.Fields{"env": e.name, "txn": e.txnID.String()}).
		Debug("transaction opened")
}

// txnBreak aborts the transaction on every participant: staged additions are
// freed, staged deletions revert to committed, the aborted flag is raised,
// and each participant's mutex is released. reason feeds the abort metric.
func (e *Env) txnBreak(reason string) {
	members := e.cycle.sortedMembers()
	for _, m := range members {
		m.cycle = nil
		for _, o := range m.order {
			o.AbortStaged()
		}
		// Objects created inside this transaction have no committed
		// states left; they never existed as far as anyone can tell.
		m.pruneEmpty()
		m.aborted = true
		metrics.RecordAbort(m.name, reason)
		if m.txnObserve != nil {
			m.txnObserve(ErrAborted)
			m.txnObserve = nil
		}
		m.log.WithFields(logrus.Fields{"env": m.name, "txn": m.txnID.String(), "reason": reason}).
			Debug("transaction broken")
		m.txnID = uuid.Nil
		m.mu.Unlock()
	}
}

// txnDone commits the transaction on every participant: staged deletions are
// dropped, staged additions become committed, hollow objects are destroyed,
// the service worker is signalled, and each participant's mutex is released.
func (e *Env) txnDone() {
	members := e.cycle.sortedMembers()
	for _, m := range members {
		m.cycle = nil
		for _, o := range m.order {
			o.CommitStaged()
		}
		m.pruneEmpty()
		metrics.RecordCommit(m.name, true)
		m.publishGauges()
		if m.txnObserve != nil {
			m.txnObserve(nil)
			m.txnObserve = nil
		}
		m.log.WithFields(logrus.Fields{"env": m.name, "txn": m.txnID.String(), "objects": len(m.objects)}).
			Debug("transaction committed")
		m.txnID = uuid.Nil
		m.signalWake()
		m.mu.Unlock()
	}
}
