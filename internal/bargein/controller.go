// Package bargein implements a debounced voice-activity barge-in policy: a
// confirm/ignore/cancel decision gated by conversation phase and remaining
// playback, built around a restartable debounce timer.
package bargein

import (
	"sync"
	"time"
)

// Phase mirrors the call's conversation phase; barge-in is ignored entirely
// during Greeting.
type Phase int

const (
	Greeting Phase = iota
	Normal
)

// PlaybackState is the subset of playback.Tracker the controller consults.
type PlaybackState interface {
	RemainingMs() int
}

// Outcome names the result of a speech_started event, used for logging and
// metrics.
type Outcome string

const (
	OutcomeConfirmed              Outcome = "confirmed"
	OutcomeIgnoredGreetingPhase   Outcome = "ignored_greeting_phase"
	OutcomeIgnoredAlmostFinished  Outcome = "ignored_audio_almost_finished"
	OutcomeCancelledSpeechStopped Outcome = "cancelled_speech_stopped_before_debounce"
)

// Controller tracks the debounce timer and pending state for one call.
type Controller struct {
	mu sync.Mutex

	debounce    time.Duration
	minRemainMs int

	pending bool
	timer   *time.Timer

	// OnOutcome is invoked synchronously for every speech_started decision
	// (ignored/confirmed) and every speech_stopped cancellation, for logging.
	OnOutcome func(Outcome)

	// OnConfirm fires when the debounce timer expires with pending still true:
	// the caller must set clearing, send `clear` to the carrier, and send
	// `truncate` to the model.
	OnConfirm func()
}

// New creates a Controller with the given debounce duration and minimum
// remaining-playback guard.
func New(debounceMs, minRemainMs int) *Controller {
	return &Controller{
		debounce:    time.Duration(debounceMs) * time.Millisecond,
		minRemainMs: minRemainMs,
	}
}

// SpeechStarted applies the barge-in policy for a VAD speech_started event.
func (c *Controller) SpeechStarted(phase Phase, playback PlaybackState) {
	if phase == Greeting {
		c.emit(OutcomeIgnoredGreetingPhase)
		return
	}

	if playback.RemainingMs() < c.minRemainMs {
		c.emit(OutcomeIgnoredAlmostFinished)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = true
	c.timer = time.AfterFunc(c.debounce, c.fire)
}

// SpeechStopped cancels a pending debounce timer, the dominant noise
// rejection path.
func (c *Controller) SpeechStopped() {
	c.mu.Lock()
	wasPending := c.pending
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = false
	c.mu.Unlock()

	if wasPending {
		c.emit(OutcomeCancelledSpeechStopped)
	}
}

// fire runs when the debounce timer expires without an intervening
// speech_stopped. It confirms the barge-in exactly once.
func (c *Controller) fire() {
	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.timer = nil
	c.mu.Unlock()

	c.emit(OutcomeConfirmed)
	if c.OnConfirm != nil {
		c.OnConfirm()
	}
}

// Shutdown cancels any in-flight timer, making future fires a no-op.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = false
}

// Pending reports whether a debounce timer is currently in flight.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Controller) emit(o Outcome) {
	if c.OnOutcome != nil {
		c.OnOutcome(o)
	}
}
