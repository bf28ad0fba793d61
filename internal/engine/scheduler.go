package engine

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arpa2/lcengine/internal/lifecycle"
	"github.com/arpa2/lcengine/internal/metrics"
)

// serviceMain is the per-environment worker. It owns the environment's
// mutex for the whole of each iteration, releasing it only while waiting, so
// it runs exactly when no transaction is in flight. One iteration advances
// await-events, recomputes and partially sorts timers, fires what is due,
// and then waits for the earliest timer or a commit signal.
func (e *Env) serviceMain() {
	defer e.wg.Done()
	e.mu.Lock()
	for e.serviced {
		start := time.Now()
		e.serviceAdvanceEvents()
		e.serviceUpdateTimers()
		metrics.ObserveIteration(e.name, time.Since(start))
		e.serviceWait()
	}
	e.mu.Unlock()
}

// serviceAdvanceEvents drains every satisfiable await across all objects.
// One pass per object suffices because objects do not exchange events.
func (e *Env) serviceAdvanceEvents() {
	warn := func(format string, args ...any) {
		e.log.WithField("env", e.name).Warnf(format, args...)
	}
	for _, o := range e.order {
		lifecycle.AdvanceObject(o, warn)
	}
}

// serviceUpdateTimers recomputes dirty fire times, partially sorts the
// object list so that a fully time-ordered prefix of "soon" objects leads
// it, and fires everything already due. The acceptance window tightens as
// closer timers appear: an object further than the window stays where it is
// in the tail, one radically closer than half the window halves the window
// for the rest of the pass. If firing the backlog took longer than the
// window, the sorted prefix is stale and the whole pass reruns.
func (e *Env) serviceUpdateTimers() {
	for {
		now := nowUnix()
		acceptUpto := int64(math.MaxInt32)
		var head, tail []*lifecycle.Object
		for _, cur := range e.order {
			cur.UpdateFireTime()
			use := false
			if ff := cur.FirstFire(); ff <= now {
				use = true
			} else if ff != lifecycle.MaxTime {
				future := ff - now
				if future <= acceptUpto {
					use = true
					if future < acceptUpto/2 {
						acceptUpto = future * 2
					}
				}
			}
			if use {
				head = insertByFireTime(head, cur)
			} else {
				tail = append(tail, cur)
			}
		}
		e.order = append(head, tail...)

		// Fire everything due at the front of the sorted prefix. One
		// object may hold several due states; stay on it until its
		// recomputed fire time moves into the future.
		newnow := now
		i := 0
		for i < len(e.order) {
			lco := e.order[i]
			newnow = nowUnix()
			if lco.FirstFire() > newnow {
				break
			}
			e.fireTimer(lco)
			lco.MarkDirty()
			lco.UpdateFireTime()
			if lco.FirstFire() > newnow {
				i++
			}
		}
		if newnow-now <= acceptUpto {
			return
		}
	}
}

// insertByFireTime inserts cur into the time-ordered prefix list.
func insertByFireTime(head []*lifecycle.Object, cur *lifecycle.Object) []*lifecycle.Object {
	ff := cur.FirstFire()
	at := len(head)
	for i, o := range head {
		if o.FirstFire() > ff {
			at = i
			break
		}
	}
	head = append(head, nil)
	copy(head[at+1:], head[at:])
	head[at] = cur
	return head
}

// fireTimer dispatches every due timer state of one object to its driver.
// The scheduler only calls this for an object whose first fire time has
// passed, so at least one state must match; a miss here means the partial
// sort mis-identified a due object.
func (e *Env) fireTimer(lco *lifecycle.Object) {
	timer := lco.FirstFire()
	fired := false
	for _, s := range lco.CommittedStates() {
		if s.NextType != lifecycle.NextTimer || s.EffectiveFireTime() > timer {
			continue
		}
		name := s.LifecycleName()
		d := e.findDriver(name)
		if d == nil {
			// The event is lost; the token still counts as fired.
			e.log.WithFields(logrus.Fields{"env": e.name, "dn": lco.DN}).
				Warnf("no driver for life cycle %q, passing %q silently", name, s.Text)
			metrics.RecordTimerFired(e.name, name, false)
			s.Advance()
			fired = true
			continue
		}
		if err := d.writePair(lco.DN, s.Text); err != nil {
			e.log.WithFields(logrus.Fields{"env": e.name, "driver": name, "dn": lco.DN}).
				Errorf("driver pipe write failed: %v", err)
		}
		if s.NoteFired(nowUnix()) {
			metrics.RecordTimerMissed(e.name)
		}
		metrics.RecordTimerFired(e.name, name, true)
		fired = true
	}
	if !fired {
		e.log.WithFields(logrus.Fields{"env": e.name, "dn": lco.DN}).
			Errorf("scheduler invariant violated: object due at %d has no due timer state", timer)
	}
}

// serviceWait blocks until the earliest timer expires or a commit (or
// shutdown) signal arrives. The mutex is released for the duration, which
// is when transactions get their turn.
func (e *Env) serviceWait() {
	first := lifecycle.MaxTime
	if len(e.order) > 0 {
		if ff := e.order[0].FirstFire(); ff != lifecycle.DirtyTime {
			first = ff
		}
	}
	e.mu.Unlock()
	if first < lifecycle.MaxTime {
		delay := time.Duration(first-nowUnix()) * time.Second
		if delay < 0 {
			delay = 0
		}
		t := time.NewTimer(delay)
		select {
		case <-e.wake:
			if !t.Stop() {
				<-t.C
			}
		case <-t.C:
		}
	} else {
		<-e.wake
	}
	e.mu.Lock()
}
