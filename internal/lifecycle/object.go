package lifecycle

import "errors"

// StageTag marks which logical region of an Object's state list a State
// currently belongs to. A single list split into three regions with
// boundary pointers (staged_add -> committed -> staged_del) would also
// work; one ordered slice with a tag per entry is simpler to reason about
// and preserves the same iteration order.
type StageTag uint8

const (
	// Committed states are visible outside any transaction.
	Committed StageTag = iota
	// StagedAdd states were created by Add within the open transaction and
	// are not yet visible to anything but this transaction.
	StagedAdd
	// StagedDel states are committed states selected for removal by Del,
	// or by Reset, within the open transaction.
	StagedDel
)

// ErrDoubleAdd is returned when Add stages a state whose bytes already
// exist among the object's live (non-deleted) states.
var ErrDoubleAdd = errors.New("lifecycle: state already staged or committed")

// ErrNotFound is returned when Del (or StageDel) references a state that
// does not exist among the object's live states.
var ErrNotFound = errors.New("lifecycle: state not found")

type entry struct {
	state *State
	tag   StageTag
}

// Object is one directory object identified by its distinguishedName. It
// owns the committed set of States plus whatever staging has accumulated
// inside an open transaction.
type Object struct {
	DN string

	entries []*entry

	// firstFire is the smallest effective fire time (NextTime, held back by
	// any missed-fire backoff) across committed states; 0 means dirty,
	// MaxTime means "no timer in this object".
	firstFire int64
}

// NewObject returns an empty object for dn.
func NewObject(dn string) *Object {
	return &Object{DN: dn, firstFire: DirtyTime}
}

// IsEmpty reports whether the object has no committed states. Used after a
// commit to decide whether the object should be removed from its
// environment, per the "no object has an empty committed state set"
// invariant.
func (o *Object) IsEmpty() bool {
	for _, e := range o.entries {
		if e.tag == Committed {
			return false
		}
	}
	return true
}

// CommittedStates returns the committed states, in original insertion
// order. The returned slice must not be mutated by the caller.
func (o *Object) CommittedStates() []*State {
	var out []*State
	for _, e := range o.entries {
		if e.tag == Committed {
			out = append(out, e.state)
		}
	}
	return out
}

// HasStaging reports whether any entry is staged (not Committed) — i.e.
// whether a transaction has touched this object.
func (o *Object) HasStaging() bool {
	for _, e := range o.entries {
		if e.tag != Committed {
			return true
		}
	}
	return false
}

// liveIndex returns the index of a live (Committed or StagedAdd) entry with
// the given text, or -1.
func (o *Object) liveIndex(text string) int {
	for i, e := range o.entries {
		if e.tag != StagedDel && e.state.Text == text {
			return i
		}
	}
	return -1
}

// StageAdd creates a new State from text and stages it for addition. It
// fails with ErrDoubleAdd if an identical live state already exists.
func (o *Object) StageAdd(text string) (*State, error) {
	if o.liveIndex(text) >= 0 {
		return nil, ErrDoubleAdd
	}
	s := NewState(text)
	o.entries = append([]*entry{{state: s, tag: StagedAdd}}, o.entries...)
	o.firstFire = DirtyTime
	return s, nil
}

// StageDel finds the live state with the given text and retags it for
// deletion; a state staged for addition in the same transaction is
// discarded instead. It fails with ErrNotFound if no such live state exists.
func (o *Object) StageDel(text string) error {
	idx := o.liveIndex(text)
	if idx < 0 {
		return ErrNotFound
	}
	if o.entries[idx].tag == StagedAdd {
		o.entries = append(o.entries[:idx], o.entries[idx+1:]...)
	} else {
		o.entries[idx].tag = StagedDel
	}
	o.firstFire = DirtyTime
	return nil
}

// Reset stages every committed state for deletion and discards the states
// staged for addition earlier in this same transaction: every state visible
// at the time of Reset is gone on commit, and an abort restores exactly the
// committed set.
func (o *Object) Reset() {
	kept := o.entries[:0]
	for _, e := range o.entries {
		if e.tag == StagedAdd {
			continue
		}
		e.tag = StagedDel
		kept = append(kept, e)
	}
	o.entries = kept
	o.firstFire = DirtyTime
}

// CommitStaged realises staging: StagedDel entries are dropped, StagedAdd
// entries become Committed. Returns the number of remaining committed
// states (0 means the object should be removed from its environment).
func (o *Object) CommitStaged() int {
	kept := o.entries[:0]
	count := 0
	for _, e := range o.entries {
		if e.tag == StagedDel {
			continue
		}
		e.tag = Committed
		kept = append(kept, e)
		count++
	}
	o.entries = kept
	o.firstFire = DirtyTime
	return count
}

// AbortStaged reverts staging: StagedAdd entries are discarded, StagedDel
// entries revert to Committed.
func (o *Object) AbortStaged() {
	kept := o.entries[:0]
	for _, e := range o.entries {
		if e.tag == StagedAdd {
			continue
		}
		e.tag = Committed
		kept = append(kept, e)
	}
	o.entries = kept
	o.firstFire = DirtyTime
}

// UpdateFireTime recomputes dirty committed-state fire times and sets
// firstFire to their minimum (MaxTime if there are none).
func (o *Object) UpdateFireTime() int64 {
	if o.firstFire != DirtyTime {
		return o.firstFire
	}
	min := MaxTime
	for _, e := range o.entries {
		if e.tag != Committed {
			continue
		}
		ft := e.state.EffectiveFireTime()
		if ft < min {
			min = ft
		}
	}
	o.firstFire = min
	return min
}

// FirstFire returns the cached first-fire time without recomputing it.
func (o *Object) FirstFire() int64 {
	return o.firstFire
}

// MarkDirty forces the next UpdateFireTime call to recompute.
func (o *Object) MarkDirty() {
	o.firstFire = DirtyTime
}
