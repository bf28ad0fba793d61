// Package lifecycle implements the life-cycle state machine: parsing a
// lifecycleState attribute value, tracking its cursor position, classifying
// the token the cursor points at, computing absolute fire times, and
// propagating await-events between the life cycles of one directory object.
package lifecycle

import (
	"math"
	"strconv"
	"strings"
)

// NextType classifies the token a state's cursor currently points at.
type NextType uint8

const (
	// NextDone means the cursor is at or past the end of the text, the
	// cursor token is a name=value binding, or the text has no dot
	// separator at all. A DONE state is inert: it is neither fireable nor
	// awaited.
	NextDone NextType = iota
	// NextTimer means the cursor token has the shape name@timestamp.
	NextTimer
	// NextAwait means the cursor token has the shape name?event.
	NextAwait
)

// MaxTime is the sentinel fire time meaning "no timer here" / "effectively
// unschedulable".
const MaxTime int64 = math.MaxInt64

// DirtyTime is the sentinel fire time meaning "needs recompute".
const DirtyTime int64 = 0

// State is one lifecycleState attribute value and its parsed cursor.
type State struct {
	// Text is the full attribute value, ASCII, no embedded NUL or newline.
	Text string
	// NextOffset is the byte offset into Text of the first character of
	// the next (future) token.
	NextOffset int
	// NextType classifies the token at NextOffset.
	NextType NextType
	// NextTime is the absolute fire time for a NextTimer cursor. 0 means
	// dirty (needs recompute); MaxTime means unschedulable/not a timer.
	NextTime int64
	// MissedCount counts dispatches of the cursor timer token that were not
	// followed by a directory rewrite before the next dispatch. It drives
	// the exponential backoff applied by EffectiveFireTime.
	MissedCount uint8
	// LastFired is the wall time of the most recent dispatch of the cursor
	// timer token, 0 if it has not fired at this cursor position.
	LastFired int64
}

// HasDotSeparator reports whether text contains the lone-dot token that
// separates past from future events. Callers use this to decide whether to
// log an operational flaw before constructing a State.
func HasDotSeparator(text string) bool {
	_, ok := findDotSeparator(text)
	return ok
}

// NewState parses text into a State with a dirty NextTime.
func NewState(text string) *State {
	s := &State{Text: text, NextTime: DirtyTime}
	offset, ok := findDotSeparator(text)
	if !ok {
		// Operational flaw: no dot separator. Logged by the caller (the
		// caller has the logger/env context); here we only encode the
		// resulting inert classification.
		s.NextOffset = len(text)
		s.NextType = NextDone
		return s
	}
	s.NextOffset = offset
	s.NextType = classify(text, offset)
	return s
}

// findDotSeparator returns the offset of the first character after the
// " . " separator token, or false if no lone-dot token exists.
func findDotSeparator(text string) (int, bool) {
	fields := strings.Fields(text)
	pos := 0
	for i, f := range fields {
		// Fields() strips surrounding whitespace so we must re-locate
		// each field's offset in the original text to compute a byte
		// offset rather than a field index.
		idx := strings.Index(text[pos:], f)
		start := pos + idx
		end := start + len(f)
		if f == "." {
			if end < len(text) {
				return end + 1, true // skip the single space after the dot
			}
			return len(text), true
		}
		pos = end
		_ = i
	}
	return 0, false
}

// classify returns the NextType of the token starting at offset, based on
// the character following its leading identifier.
func classify(text string, offset int) NextType {
	if offset >= len(text) {
		return NextDone
	}
	rest := text[offset:]
	id := leadingIdentifier(rest)
	if id == "" {
		return NextDone
	}
	if len(rest) == len(id) {
		return NextDone
	}
	switch rest[len(id)] {
	case '@':
		return NextTimer
	case '?':
		return NextAwait
	default:
		return NextDone
	}
}

// currentToken returns the space-delimited token at NextOffset, or "" if
// the cursor is at end-of-text.
func (s *State) currentToken() string {
	if s.NextOffset >= len(s.Text) {
		return ""
	}
	rest := s.Text[s.NextOffset:]
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		return rest[:i]
	}
	return rest
}

// LeadingName returns the life-cycle name (or event/variable name) that
// begins the token at NextOffset. For the life cycle itself, use
// LifecycleName, which reads the very first identifier of Text.
func (s *State) LeadingName() string {
	return leadingIdentifier(s.currentToken())
}

// LifecycleName returns the process name the state belongs to: the first
// identifier of the attribute text, independent of cursor position.
func (s *State) LifecycleName() string {
	return leadingIdentifier(s.Text)
}

// Advance moves the cursor past the current token: to the first character
// of the following space-delimited token (or end), reclassifies NextType,
// marks NextTime dirty, and clears the missed-fire bookkeeping. It does not
// touch the enclosing object's cached first-fire time; callers mark the
// object dirty.
func (s *State) Advance() {
	tok := s.currentToken()
	newOffset := s.NextOffset + len(tok)
	for newOffset < len(s.Text) && s.Text[newOffset] == ' ' {
		newOffset++
	}
	s.NextOffset = newOffset
	s.NextType = classify(s.Text, newOffset)
	s.NextTime = DirtyTime
	s.MissedCount = 0
	s.LastFired = 0
}

// NoteFired records that the cursor timer token was dispatched at now.
// A second dispatch at the same cursor position means the handler did not
// advance the dot in time; that counts as a miss. Reports whether this
// dispatch was a miss.
func (s *State) NoteFired(now int64) bool {
	missed := s.LastFired != 0
	if missed && s.MissedCount < math.MaxUint8 {
		s.MissedCount++
	}
	s.LastFired = now
	return missed
}

// missedBackoffMaxShift caps the backoff doubling at 2^10 = 1024 seconds.
const missedBackoffMaxShift = 10

// EffectiveFireTime is FireTime delayed by the exponential backoff earned
// through missed fires: after each unacknowledged dispatch, the state is not
// reconsidered due until 2^MissedCount seconds past the last dispatch.
func (s *State) EffectiveFireTime() int64 {
	ft := s.FireTime()
	if ft == MaxTime || s.LastFired == 0 {
		return ft
	}
	shift := int64(s.MissedCount)
	if shift > missedBackoffMaxShift {
		shift = missedBackoffMaxShift
	}
	until := s.LastFired + (int64(1) << shift)
	if until > ft {
		return until
	}
	return ft
}

// FireTime computes (or returns the cached) absolute fire time for this
// state. A non-TIMER cursor fires at MaxTime (never). Dirty values are
// recomputed and cached.
func (s *State) FireTime() int64 {
	if s.NextTime != DirtyTime {
		return s.NextTime
	}
	if s.NextType != NextTimer {
		s.NextTime = MaxTime
		return s.NextTime
	}
	tok := s.currentToken()
	at := strings.IndexByte(tok, '@')
	if at < 0 {
		s.NextTime = nowTime()
		return s.NextTime
	}
	rest := tok[at+1:]
	if rest == "" {
		s.NextTime = nowTime()
		return s.NextTime
	}
	if rest[0] < '0' || rest[0] > '9' {
		s.NextTime = nowTime()
		return s.NextTime
	}
	ts, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		// Out of signed-time range: leave effectively unschedulable.
		// Nothing is logged, here or by the callers; the state simply
		// never fires.
		s.NextTime = MaxTime
		return s.NextTime
	}
	if ts == 0 {
		s.NextTime = nowTime()
		return s.NextTime
	}
	s.NextTime = ts
	return s.NextTime
}

// nowTime is overridable in tests; production code always uses wall time.
var nowTime = func() int64 { return timeNowUnix() }
