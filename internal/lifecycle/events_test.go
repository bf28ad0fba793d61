package lifecycle

import "testing"

func commit(o *Object, texts ...string) {
	for _, txt := range texts {
		o.StageAdd(txt)
	}
	o.CommitStaged()
}

func TestAdvanceStateSatisfiedBySibling(t *testing.T) {
	o := NewObject("dn1")
	// "noot" life cycle has already passed event "go" (a done token before
	// its own dot).
	commit(o, "noot go@1 . mies@2", "y . noot?go")
	states := o.CommittedStates()
	var awaiting *State
	for _, s := range states {
		if s.LifecycleName() == "y" {
			awaiting = s
		}
	}
	if awaiting == nil {
		t.Fatal("expected to find state 'y'")
	}
	if !AdvanceState(awaiting, o, nil) {
		t.Fatalf("expected await to be satisfied and consumed")
	}
	if awaiting.NextType != NextDone {
		t.Fatalf("expected cursor to advance past the only future token, got %v", awaiting.NextType)
	}
}

func TestAdvanceStateBlocksWhenEventNotYetPast(t *testing.T) {
	o := NewObject("dn1")
	commit(o, "noot . go@1", "y . noot?go")
	var awaiting *State
	for _, s := range o.CommittedStates() {
		if s.LifecycleName() == "y" {
			awaiting = s
		}
	}
	if AdvanceState(awaiting, o, nil) {
		t.Fatalf("expected await to block: 'go' has not happened in 'noot' yet")
	}
}

func TestAdvanceStateSatisfiedWhenSiblingAbsent(t *testing.T) {
	o := NewObject("dn1")
	commit(o, "y . noot?go")
	var warned bool
	warn := func(format string, args ...any) { warned = true }
	s := o.CommittedStates()[0]
	if !AdvanceState(s, o, warn) {
		t.Fatalf("expected await on an absent sibling to be satisfied")
	}
	if !warned {
		t.Fatalf("expected a warning to be logged for the absent sibling")
	}
}

func TestAdvanceStateDrainsARun(t *testing.T) {
	o := NewObject("dn1")
	commit(o, "noot go@1 mies@2 . end@3", "y . noot?go noot?mies")
	var awaiting *State
	for _, s := range o.CommittedStates() {
		if s.LifecycleName() == "y" {
			awaiting = s
		}
	}
	if !AdvanceState(awaiting, o, nil) {
		t.Fatalf("expected at least one token consumed")
	}
	if awaiting.NextType != NextDone {
		t.Fatalf("expected both await tokens drained in one call, got cursor at %v", awaiting.Text[awaiting.NextOffset:])
	}
}

func TestAdvanceObjectCascadesAcrossStates(t *testing.T) {
	o := NewObject("dn1")
	// "b" awaits "a?start"; "a" is already past "start". Once b consumes
	// that await, the token "a?start" is behind b's cursor, so its
	// identifier "a" is a past event of b — which is what "c" awaits.
	commit(o,
		"a start@1 . done@2",
		"b . a?start",
		"c . b?a",
	)
	if !AdvanceObject(o, nil) {
		t.Fatalf("expected at least one state to advance")
	}
	for _, s := range o.CommittedStates() {
		if s.LifecycleName() == "c" && s.NextType != NextDone {
			t.Fatalf("expected c's await on b?a to be satisfied by cascade, cursor at %q", s.Text[s.NextOffset:])
		}
	}
}

func TestAdvanceObjectIdempotent(t *testing.T) {
	o := NewObject("dn1")
	commit(o, "noot go@1 . mies@2", "y . noot?go")
	AdvanceObject(o, nil)
	if AdvanceObject(o, nil) {
		t.Fatalf("expected second AdvanceObject call to report no progress")
	}
}
