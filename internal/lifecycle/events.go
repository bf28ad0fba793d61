package lifecycle

import "strings"

// AwaitTarget parses the current token as a "name?event" await and returns
// the sibling life-cycle name and the awaited event identifier. ok is false
// if the cursor is not currently on an await token.
func (s *State) AwaitTarget() (name, event string, ok bool) {
	if s.NextType != NextAwait {
		return "", "", false
	}
	tok := s.currentToken()
	i := strings.IndexByte(tok, '?')
	if i < 0 {
		return "", "", false
	}
	return tok[:i], tok[i+1:], true
}

// pastEvents returns the identifiers of every token strictly before s's
// cursor, excluding the leading life-cycle name and the dot. Tokens between
// the dot and an advanced cursor count: a consumed await is past, which is
// what lets awaits cascade between sibling states.
func (s *State) pastEvents() []string {
	if s.NextOffset > len(s.Text) {
		return nil
	}
	fields := strings.Fields(s.Text[:s.NextOffset])
	if len(fields) <= 1 {
		return nil
	}
	out := make([]string, 0, len(fields)-1)
	for _, f := range fields[1:] {
		if f == "." {
			continue
		}
		out = append(out, leadingIdentifier(f))
	}
	return out
}

// hasPastEvent reports whether sibling has already passed a done token
// whose identifier equals event.
func (s *State) hasPastEvent(event string) bool {
	for _, e := range s.pastEvents() {
		if e == event {
			return true
		}
	}
	return false
}

// findSibling scans obj's committed states for one whose own leading
// life-cycle name equals name. Note that it is each candidate sibling's
// name that is compared against the awaited name; comparing the advancing
// state's own name would mean a state could only ever await itself.
func findSibling(obj *Object, name string) *State {
	for _, candidate := range obj.CommittedStates() {
		if candidate.LifecycleName() == name {
			return candidate
		}
	}
	return nil
}

// AdvanceState attempts to consume a run of leading "name?event" tokens
// from state. warn is called (if non-nil) when an awaited partner life
// cycle does not exist; the await is then treated as satisfied rather than
// blocking forever. Returns true iff at least one token was consumed.
func AdvanceState(state *State, obj *Object, warn func(format string, args ...any)) bool {
	advanced := false
	for {
		name, event, ok := state.AwaitTarget()
		if !ok {
			break
		}
		sibling := findSibling(obj, name)
		if sibling == nil {
			if warn != nil {
				warn("await on absent life cycle %q in object %q; treating as satisfied", name, obj.DN)
			}
			state.Advance()
			advanced = true
			continue
		}
		if !sibling.hasPastEvent(event) {
			break
		}
		state.Advance()
		advanced = true
	}
	return advanced
}

// AdvanceObject repeats AdvanceState across every committed state in obj
// until a fixed point is reached (await satisfaction can cascade between
// sibling states within one object). Returns true iff any state advanced.
//
// Must never run while a transaction is open on obj's environment: it
// mutates committed-state cursors, which would break atomicity of a
// transaction that is subsequently rolled back.
func AdvanceObject(obj *Object, warn func(format string, args ...any)) bool {
	advancedAny := false
	for {
		progressed := false
		for _, s := range obj.CommittedStates() {
			if AdvanceState(s, obj, warn) {
				progressed = true
				advancedAny = true
				obj.MarkDirty()
			}
		}
		if !progressed {
			break
		}
	}
	return advancedAny
}
