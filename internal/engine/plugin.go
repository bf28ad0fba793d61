package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/arpa2/lcengine/internal/lifecycle"
	"github.com/arpa2/lcengine/internal/metrics"
)

// The methods in this file are the plugin entry-point contract consumed by
// the upstream directory-replication driver: Add, Del, Reset, Prepare,
// Commit, Rollback, and the package-level Collaborate. Open and Close live
// in env.go. The boolean results mirror the 1/0 returns of the PulleyBack
// plugin API; errors carry the reason alongside a false result and never
// escalate to panics.

// Add stages the addition of a (distinguishedName, lifecycleState) pair,
// both supplied as DER-encoded items. A transaction is opened silently when
// none is active. Any input flaw breaks the transaction.
func (e *Env) Add(dnDER, lcsDER []byte) (bool, error) {
	return e.addNotDel(true, dnDER, lcsDER)
}

// Del stages the removal of a previously visible (dn, lifecycleState) pair.
// Preconditions match Add; a missing object or state breaks the transaction.
func (e *Env) Del(dnDER, lcsDER []byte) (bool, error) {
	return e.addNotDel(false, dnDER, lcsDER)
}

func (e *Env) addNotDel(add bool, dnDER, lcsDER []byte) (bool, error) {
	// Continue the failure of preceding actions without touching state.
	if e.aborted {
		return false, ErrAborted
	}
	if !e.txnActive() {
		e.txnOpen()
	}
	dn, lcs, err := e.decodeFork(dnDER, lcsDER)
	if err != nil {
		e.txnBreak("input-format")
		return false, err
	}
	obj := e.objects[dn]
	if add {
		if obj == nil {
			obj = lifecycle.NewObject(dn)
			e.insertObject(obj)
		}
		if !lifecycle.HasDotSeparator(lcs) {
			// The state is accepted but inert; classified DONE.
			e.log.WithField("env", e.name).
				Errorf("operational flaw: lifecycleState without internal dot: %q", lcs)
		}
		if _, err := obj.StageAdd(lcs); err != nil {
			e.txnBreak("double-add")
			return false, err
		}
		e.log.WithFields(logrus.Fields{"env": e.name, "txn": e.txnID.String(), "dn": dn}).
			Debugf("staged add of %q", lcs)
	} else {
		if obj == nil {
			e.txnBreak("delete-missing")
			return false, fmt.Errorf("engine: delete of unknown object %q: %w", dn, lifecycle.ErrNotFound)
		}
		if err := obj.StageDel(lcs); err != nil {
			e.txnBreak("delete-missing")
			return false, err
		}
		e.log.WithFields(logrus.Fields{"env": e.name, "txn": e.txnID.String(), "dn": dn}).
			Debugf("staged delete of %q", lcs)
	}
	return true, nil
}

// decodeFork parses and validates both DER items of one fork. The decoder
// rejects embedded NUL; the grammar checks gate acceptance.
func (e *Env) decodeFork(dnDER, lcsDER []byte) (dn, lcs string, err error) {
	dnBytes, _, err := lifecycle.DecodeDERItem(dnDER)
	if err != nil {
		return "", "", fmt.Errorf("engine: distinguishedName: %w", err)
	}
	lcsBytes, _, err := lifecycle.DecodeDERItem(lcsDER)
	if err != nil {
		return "", "", fmt.Errorf("engine: lifecycleState: %w", err)
	}
	dn, lcs = string(dnBytes), string(lcsBytes)
	if !lifecycle.ValidateDistinguishedName(dn) {
		return "", "", fmt.Errorf("%w: distinguishedName %q fails grammar", ErrInvalidArgument, dn)
	}
	if !lifecycle.ValidateLifecycleState(lcs) {
		return "", "", fmt.Errorf("%w: lifecycleState %q fails grammar", ErrInvalidArgument, lcs)
	}
	return dn, lcs, nil
}

// Reset empties the environment's data as part of the transaction: every
// state visible at this point, pre-existing or staged earlier in the same
// transaction, is dropped on commit. It requires an active transaction.
func (e *Env) Reset() (bool, error) {
	if !e.txnActive() {
		return false, ErrNotActive
	}
	for _, o := range e.order {
		o.Reset()
	}
	e.log.WithFields(logrus.Fields{"env": e.name, "txn": e.txnID.String()}).
		Debug("transaction data reset")
	return true, nil
}

// Prepare reports whether a Commit would succeed. It does not mutate; the
// aborted flag is left for Commit or Rollback to consume.
func (e *Env) Prepare() bool {
	return !e.aborted
}

// Commit realises the transaction on every collaborating environment. A
// broken transaction reports failure and clears the aborted flag; absent a
// transaction, Commit is trivially successful.
func (e *Env) Commit() (bool, error) {
	if e.aborted {
		e.aborted = false
		metrics.RecordCommit(e.name, false)
		return false, ErrAborted
	}
	if !e.txnActive() {
		return true, nil
	}
	e.txnDone()
	return true, nil
}

// Rollback breaks any active transaction and clears the aborted flag. It is
// idempotent and always succeeds.
func (e *Env) Rollback() error {
	if e.txnActive() {
		e.txnBreak("rollback")
	}
	e.aborted = false
	return nil
}

// Collaborate merges the transactions of two environments so that they
// commit or fail together. Both must be active or aborted. The result
// reports whether a merge happened; an aborted side breaks the other and
// counts as trivial success rather than a merge.
func Collaborate(e1, e2 *Env) (merged bool, err error) {
	if !e1.txnActive() && !e1.aborted {
		return false, fmt.Errorf("%w on %s", ErrNotActive, e1.name)
	}
	if !e2.txnActive() && !e2.aborted {
		return false, fmt.Errorf("%w on %s", ErrNotActive, e2.name)
	}
	switch {
	case e1.aborted && e2.aborted:
		return false, nil
	case e1.aborted:
		e2.txnBreak("collaborate-aborted-peer")
		return false, nil
	case e2.aborted:
		e1.txnBreak("collaborate-aborted-peer")
		return false, nil
	}
	if e1.cycle == e2.cycle {
		// Already collaborating; the union is a no-op.
		return true, nil
	}
	union := &txnCycle{members: make(map[*Env]struct{}, len(e1.cycle.members)+len(e2.cycle.members))}
	for m := range e1.cycle.members {
		union.members[m] = struct{}{}
	}
	for m := range e2.cycle.members {
		union.members[m] = struct{}{}
	}
	for m := range union.members {
		m.cycle = union
	}
	e1.log.WithFields(logrus.Fields{"env": e1.name, "peer": e2.name, "participants": len(union.members)}).
		Debug("transactions merged")
	return true, nil
}
