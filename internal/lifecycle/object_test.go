package lifecycle

import "testing"

func TestStageAddThenCommit(t *testing.T) {
	o := NewObject("uid=bakker,dc=orvelte,dc=nep")
	if _, err := o.StageAdd("x . go@ gone@"); err != nil {
		t.Fatalf("StageAdd 1: %v", err)
	}
	if _, err := o.StageAdd("y aap@12345 . noot@ mies@"); err != nil {
		t.Fatalf("StageAdd 2: %v", err)
	}
	n := o.CommitStaged()
	if n != 2 {
		t.Fatalf("expected 2 committed states, got %d", n)
	}
	if len(o.CommittedStates()) != 2 {
		t.Fatalf("expected CommittedStates to report 2, got %d", len(o.CommittedStates()))
	}
}

func TestStageAddDoubleAddFails(t *testing.T) {
	o := NewObject("dn1")
	if _, err := o.StageAdd("x . go@"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := o.StageAdd("x . go@"); err != ErrDoubleAdd {
		t.Fatalf("expected ErrDoubleAdd, got %v", err)
	}
}

func TestStageDelThenCommitEmptiesObject(t *testing.T) {
	o := NewObject("dn1")
	o.StageAdd("x . go@")
	o.StageAdd("y . noot@")
	o.CommitStaged()

	if err := o.StageDel("x . go@"); err != nil {
		t.Fatalf("StageDel 1: %v", err)
	}
	if err := o.StageDel("y . noot@"); err != nil {
		t.Fatalf("StageDel 2: %v", err)
	}
	n := o.CommitStaged()
	if n != 0 {
		t.Fatalf("expected object to be empty, got %d committed states", n)
	}
	if !o.IsEmpty() {
		t.Fatalf("expected IsEmpty() true")
	}
}

func TestStageDelMissingFails(t *testing.T) {
	o := NewObject("dn1")
	if err := o.StageDel("x . go@"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAbortStagedRevertsAddAndDel(t *testing.T) {
	o := NewObject("dn1")
	o.StageAdd("x . go@")
	o.CommitStaged()

	// Open a new round of staging: add one, delete the existing one.
	o.StageAdd("y . noot@")
	if err := o.StageDel("x . go@"); err != nil {
		t.Fatalf("StageDel: %v", err)
	}
	o.AbortStaged()

	committed := o.CommittedStates()
	if len(committed) != 1 || committed[0].Text != "x . go@" {
		t.Fatalf("expected abort to restore original committed set, got %#v", committed)
	}
}

// TestResetClearsBothCommittedAndStagedAdd matches scenario S4: resetting a
// transaction that has both pre-existing committed state and a freshly
// staged add clears both on commit.
func TestResetClearsBothCommittedAndStagedAdd(t *testing.T) {
	existing := NewObject("dn1")
	existing.StageAdd("x . go@")
	existing.CommitStaged()

	existing.Reset()
	if n := existing.CommitStaged(); n != 0 {
		t.Fatalf("expected reset to drop pre-existing committed state, got %d", n)
	}

	fresh := NewObject("dn2")
	fresh.StageAdd("y . noot@")
	fresh.Reset()
	if n := fresh.CommitStaged(); n != 0 {
		t.Fatalf("expected reset to drop a state staged earlier in the same transaction, got %d", n)
	}
}

func TestUpdateFireTimeReturnsMinimumAcrossCommitted(t *testing.T) {
	o := NewObject("dn1")
	o.StageAdd("x . go@500")
	o.StageAdd("y . noot@100")
	o.CommitStaged()

	if ft := o.UpdateFireTime(); ft != 100 {
		t.Fatalf("expected first_fire 100, got %d", ft)
	}
}

func TestUpdateFireTimeEmptyObjectIsMax(t *testing.T) {
	o := NewObject("dn1")
	if ft := o.UpdateFireTime(); ft != MaxTime {
		t.Fatalf("expected MaxTime for empty object, got %d", ft)
	}
}
