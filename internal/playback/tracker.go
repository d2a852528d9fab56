// Package playback implements the per-assistant-utterance playback tracker:
// sentMs/playedMs accounting and mark bookkeeping that gives the barge-in
// controller a bit-accurate truncation point. Counters are mutex-guarded in
// the same style as internal/audio's ring buffer.
package playback

import (
	"fmt"
	"sync"

	"github.com/lexiqai/callbridge/internal/codec"
)

// minMarkSpacingMs is the minimum sentMs distance between consecutive marks.
const minMarkSpacingMs = 300

// Tracker accounts sentMs/playedMs for the current assistant utterance and
// tracks outstanding marks. One Tracker exists per call; Reset is called on
// every response.output_item.added for an assistant message.
type Tracker struct {
	mu sync.Mutex

	assistantItemID string
	sentMs          int
	sentMsRemainder int // sub-millisecond remainder carried between AppendAudio calls
	playedMs        int
	lastMarkSentMs  int
	markSeq         int
	marks           map[string]int // mark name -> sentMs at emission
	clearing        bool
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{marks: make(map[string]int)}
}

// Reset starts tracking a new assistant utterance, clearing all counters and
// the mark map, and ending any in-flight clearing window.
func (t *Tracker) Reset(assistantItemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.assistantItemID = assistantItemID
	t.sentMs = 0
	t.sentMsRemainder = 0
	t.playedMs = 0
	t.lastMarkSentMs = 0
	t.markSeq = 0
	t.marks = make(map[string]int)
	t.clearing = false
}

// AssistantItemID returns the item id of the utterance currently tracked.
func (t *Tracker) AssistantItemID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assistantItemID
}

// AppendAudio accounts decodedByteCount bytes of forwarded audio, advancing
// sentMs per the audio byte-count law. It returns a mark name and its sentMs
// value to emit when the minimum mark spacing has been crossed, or ok=false
// if no mark should be emitted yet.
func (t *Tracker) AppendAudio(decodedByteCount int) (markName string, markSentMs int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var deltaMs int
	deltaMs, t.sentMsRemainder = codec.AdvanceMs(decodedByteCount, t.sentMsRemainder)
	t.sentMs += deltaMs

	if t.sentMs-t.lastMarkSentMs < minMarkSpacingMs {
		return "", 0, false
	}

	t.markSeq++
	name := fmt.Sprintf("a:%s:ms:%d:seq:%d", t.assistantItemID, t.sentMs, t.markSeq)
	t.marks[name] = t.sentMs
	t.lastMarkSentMs = t.sentMs

	return name, t.sentMs, true
}

// AckMark processes a carrier mark acknowledgement. If the tracker is not in
// a clearing window, playedMs advances to at least the mark's sentMs value.
// Acknowledgements received during a clearing window are discarded.
func (t *Tracker) AckMark(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sentMs, known := t.marks[name]
	if !known {
		return
	}
	delete(t.marks, name)

	if t.clearing {
		return
	}

	if sentMs > t.playedMs {
		t.playedMs = sentMs
	}
}

// BeginClearing enters the clearing window: a confirmed barge-in has fired a
// `clear` to the carrier, so further mark acknowledgements from pre-clear
// audio must not bump playedMs. Returns the playedMs value to use as the
// model truncation point.
func (t *Tracker) BeginClearing() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearing = true
	return t.playedMs
}

// SentMs returns the current sentMs for this utterance.
func (t *Tracker) SentMs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentMs
}

// PlayedMs returns the current playedMs for this utterance.
func (t *Tracker) PlayedMs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playedMs
}

// RemainingMs returns sentMs - playedMs, the audio still believed unplayed.
func (t *Tracker) RemainingMs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sentMs - t.playedMs
}

// IsClearing reports whether a clearing window is currently open.
func (t *Tracker) IsClearing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clearing
}
