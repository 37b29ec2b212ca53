package session

import (
	"sync"
	"time"
)

// TurnState tracks who holds the conversational floor.
type TurnState int

const (
	// TurnIdle means no assistant response is in flight.
	TurnIdle TurnState = iota
	// TurnResponding means assistant audio is streaming to the caller.
	TurnResponding
	// TurnInterrupted is the transient state while an interruption is
	// being executed; it resolves to TurnIdle within the same decision.
	TurnInterrupted
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnResponding:
		return "responding"
	case TurnInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// turnTracker holds the per-connection barge-in state shared by the
// two relay pumps. All methods take the lock briefly; no method blocks
// while holding it.
type turnTracker struct {
	mu sync.Mutex

	recording bool
	state     TurnState

	// latestMediaMS is the browser's capture-clock position from the
	// most recent inbound audio frame.
	latestMediaMS int64

	// responseStartMS is the capture-clock position when the first
	// audio of the active response arrived. nil when no response is
	// playing.
	responseStartMS *int64

	// lastAssistantItemID survives interruption so follow-up items can
	// thread off the last thing the assistant said.
	lastAssistantItemID string

	lastAudioSentAt time.Time
	greetingStartAt time.Time

	echoGuard       time.Duration
	greetingProtect time.Duration
}

func newTurnTracker(echoGuard, greetingProtect time.Duration) *turnTracker {
	return &turnTracker{
		echoGuard:       echoGuard,
		greetingProtect: greetingProtect,
	}
}

// StartRecording resets the turn state for a fresh recording turn.
func (t *turnTracker) StartRecording() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = true
	t.state = TurnIdle
	t.latestMediaMS = 0
	t.responseStartMS = nil
	t.lastAudioSentAt = time.Time{}
}

func (t *turnTracker) StopRecording() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = false
}

// ObserveClientAudio advances the capture clock.
func (t *turnTracker) ObserveClientAudio(timestampMS int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latestMediaMS = timestampMS
}

// ObserveAudioDelta records an outbound assistant audio chunk. It
// returns true when this chunk begins a new response, meaning the
// caller-facing playback of a fresh assistant turn just started.
func (t *turnTracker) ObserveAudioDelta(itemID string, now time.Time) (startedResponse bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastAudioSentAt = now
	if t.greetingStartAt.IsZero() {
		t.greetingStartAt = now
	}
	if itemID != "" {
		t.lastAssistantItemID = itemID
	}
	if t.responseStartMS == nil {
		start := t.latestMediaMS
		t.responseStartMS = &start
		t.state = TurnResponding
		return true
	}
	return false
}

// ObserveResponseDone returns the floor to the caller.
func (t *turnTracker) ObserveResponseDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TurnIdle
	t.responseStartMS = nil
}

// Interruption describes the work an accepted barge-in requires.
type Interruption struct {
	// ItemID is the assistant item to truncate; empty means no
	// truncate control should be sent.
	ItemID string
	// AudioEndMS is the played offset to truncate at, clamped >= 0.
	AudioEndMS int64
}

// DecideInterrupt evaluates a speech-started signal against the guard
// rules. When the barge-in is accepted the tracker transitions through
// TurnInterrupted back to TurnIdle atomically and the returned
// Interruption carries the truncate parameters.
func (t *turnTracker) DecideInterrupt(now time.Time) (Interruption, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.recording || t.state != TurnResponding || t.responseStartMS == nil {
		return Interruption{}, false
	}
	// Assistant audio that just left the speaker tends to leak back
	// into the microphone; a VAD hit inside the guard window is echo,
	// not the caller.
	if !t.lastAudioSentAt.IsZero() && now.Sub(t.lastAudioSentAt) <= t.echoGuard {
		return Interruption{}, false
	}
	if t.greetingProtect > 0 && !t.greetingStartAt.IsZero() && now.Sub(t.greetingStartAt) < t.greetingProtect {
		return Interruption{}, false
	}

	elapsed := t.latestMediaMS - *t.responseStartMS
	if elapsed < 0 {
		elapsed = 0
	}

	t.state = TurnInterrupted
	out := Interruption{
		ItemID:     t.lastAssistantItemID,
		AudioEndMS: elapsed,
	}
	t.state = TurnIdle
	t.responseStartMS = nil
	return out, true
}

func (t *turnTracker) State() TurnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *turnTracker) LastAssistantItemID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAssistantItemID
}
