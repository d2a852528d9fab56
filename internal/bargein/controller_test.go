package bargein

import (
	"sync"
	"testing"
	"time"
)

type fakePlayback struct{ remainingMs int }

func (f fakePlayback) RemainingMs() int { return f.remainingMs }

func TestSpeechStarted_IgnoredDuringGreeting(t *testing.T) {
	c := New(50, 2000)

	var outcomes []Outcome
	var mu sync.Mutex
	c.OnOutcome = func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}
	confirmed := false
	c.OnConfirm = func() { confirmed = true }

	c.SpeechStarted(Greeting, fakePlayback{remainingMs: 5000})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 1 || outcomes[0] != OutcomeIgnoredGreetingPhase {
		t.Errorf("expected single ignored_greeting_phase outcome, got %v", outcomes)
	}
	if confirmed {
		t.Error("must not confirm during greeting phase")
	}
}

func TestSpeechStarted_IgnoredWhenAlmostFinished(t *testing.T) {
	c := New(50, 2000)

	var got Outcome
	c.OnOutcome = func(o Outcome) { got = o }

	c.SpeechStarted(Normal, fakePlayback{remainingMs: 1000})
	time.Sleep(100 * time.Millisecond)

	if got != OutcomeIgnoredAlmostFinished {
		t.Errorf("got outcome %v, want ignored_audio_almost_finished", got)
	}
}

func TestSpeechStopped_CancelsBeforeDebounce(t *testing.T) {
	c := New(200, 2000)

	var outcomes []Outcome
	var mu sync.Mutex
	c.OnOutcome = func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}
	confirmed := false
	c.OnConfirm = func() { confirmed = true }

	c.SpeechStarted(Normal, fakePlayback{remainingMs: 5000})
	time.Sleep(50 * time.Millisecond) // well within the 200ms debounce
	c.SpeechStopped()
	time.Sleep(300 * time.Millisecond) // past the debounce window

	mu.Lock()
	defer mu.Unlock()
	if confirmed {
		t.Error("debounced barge-in must not confirm after speech_stopped")
	}
	found := false
	for _, o := range outcomes {
		if o == OutcomeCancelledSpeechStopped {
			found = true
		}
	}
	if !found {
		t.Errorf("expected cancelled outcome, got %v", outcomes)
	}
}

func TestSpeechStarted_ConfirmsAfterDebounce(t *testing.T) {
	c := New(50, 2000)

	confirmed := make(chan struct{})
	c.OnConfirm = func() { close(confirmed) }

	c.SpeechStarted(Normal, fakePlayback{remainingMs: 5000})

	select {
	case <-confirmed:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected OnConfirm to fire after debounce elapses")
	}
}

func TestSpeechStopped_NoOpWhenNotPending(t *testing.T) {
	c := New(50, 2000)
	// Must not panic when called with no pending timer.
	c.SpeechStopped()
}

func TestShutdown_PreventsLateConfirm(t *testing.T) {
	c := New(30, 2000)

	confirmed := false
	c.OnConfirm = func() { confirmed = true }

	c.SpeechStarted(Normal, fakePlayback{remainingMs: 5000})
	c.Shutdown()
	time.Sleep(150 * time.Millisecond)

	if confirmed {
		t.Error("must not confirm after Shutdown")
	}
	if c.Pending() {
		t.Error("Pending() should be false after Shutdown")
	}
}
