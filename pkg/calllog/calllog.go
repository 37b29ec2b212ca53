package calllog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when ending a call that is unknown or was
// already ended.
var ErrNotFound = errors.New("call not found")

const (
	placeholderEmpty  = "No conversation recorded."
	placeholderFailed = "Summary generation failed."
)

// Entry is one finalized transcript line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
}

// StructuredData is the extraction produced at end of call. Field
// values stay strings so partial or uncertain answers survive as-is.
type StructuredData struct {
	Name         string `json:"name"`
	Purpose      string `json:"purpose"`
	WhereFrom    string `json:"where_from"`
	WhereTo      string `json:"where_to"`
	Lift         string `json:"lift"`
	HowManyRooms string `json:"how_many_rooms"`
	ExtraInfo    string `json:"extra_info"`
}

// Summary is the end-of-call artifact.
type Summary struct {
	CallID          string         `json:"call_id"`
	CallerInfo      string         `json:"caller_info,omitempty"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	DurationSeconds float64        `json:"duration_seconds"`
	EntryCount      int            `json:"entry_count"`
	SummaryText     string         `json:"summary"`
	Structured      StructuredData `json:"structured"`
	Transcript      []Entry        `json:"transcript"`
}

// CompletionRequest is a single bounded completion.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer produces text completions. The summarize package provides
// the production implementation.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type activeCall struct {
	callID         string
	callerInfo     string
	startTime      time.Time
	entries        []Entry
	transcriptPath string

	// ending claims the call for a single finalizer; it is released
	// when persisting the artifacts fails so a retry can still end
	// the call.
	ending bool
}

type Options struct {
	MinEntries          int
	SummaryMaxTokens    int
	StructuredMaxTokens int
	EndTimeout          time.Duration
	Logger              *slog.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Logger tracks active calls and persists their transcripts as they
// happen. Each transcript line hits disk in the same Append call, so a
// crash mid-call loses nothing already spoken.
type Logger struct {
	mu     sync.Mutex
	active map[string]*activeCall

	dir       string
	completer Completer
	logger    *slog.Logger

	minEntries          int
	summaryMaxTokens    int
	structuredMaxTokens int
	endTimeout          time.Duration
	now                 func() time.Time
}

func New(dir string, completer Completer, opts Options) (*Logger, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("call log dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create call log dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	minEntries := opts.MinEntries
	if minEntries == 0 {
		minEntries = 2
	}
	summaryMaxTokens := opts.SummaryMaxTokens
	if summaryMaxTokens <= 0 {
		summaryMaxTokens = 300
	}
	structuredMaxTokens := opts.StructuredMaxTokens
	if structuredMaxTokens <= 0 {
		structuredMaxTokens = 200
	}
	endTimeout := opts.EndTimeout
	if endTimeout <= 0 {
		endTimeout = 60 * time.Second
	}
	return &Logger{
		active:              make(map[string]*activeCall),
		dir:                 dir,
		completer:           completer,
		logger:              logger,
		minEntries:          minEntries,
		summaryMaxTokens:    summaryMaxTokens,
		structuredMaxTokens: structuredMaxTokens,
		endTimeout:          endTimeout,
		now:                 now,
	}, nil
}

// StartCall registers a new call and creates its transcript file.
func (l *Logger) StartCall(callerInfo string) (string, error) {
	callID := uuid.NewString()
	start := l.now()
	transcriptPath := filepath.Join(l.dir, callID+"_transcript.txt")

	header := fmt.Sprintf("Call Log - %s\nStarted: %s\nCaller: %s\n%s\n",
		callID, start.Format(time.RFC3339), callerInfo, strings.Repeat("=", 50))
	if err := os.WriteFile(transcriptPath, []byte(header), 0o644); err != nil {
		return "", fmt.Errorf("create transcript file: %w", err)
	}

	l.mu.Lock()
	l.active[callID] = &activeCall{
		callID:         callID,
		callerInfo:     callerInfo,
		startTime:      start,
		transcriptPath: transcriptPath,
	}
	l.mu.Unlock()

	l.logger.Info("call started", "call_id", callID, "caller", callerInfo)
	return callID, nil
}

// Append records one transcript line in memory and on disk. Unknown
// call IDs are logged and dropped; the relay must never fail because
// logging did.
func (l *Logger) Append(callID, speaker, text string) {
	now := l.now()

	l.mu.Lock()
	call, ok := l.active[callID]
	if !ok {
		l.mu.Unlock()
		l.logger.Warn("transcript entry for unknown call", "call_id", callID)
		return
	}
	call.entries = append(call.entries, Entry{Timestamp: now, Speaker: speaker, Text: text})
	path := call.transcriptPath
	l.mu.Unlock()

	line := fmt.Sprintf("[%s] %s: %s\n", now.Format("15:04:05"), speaker, text)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("transcript append failed", "call_id", callID, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		l.logger.Warn("transcript append failed", "call_id", callID, "error", err)
	}
}

// EntryCount reports how many lines an active call has logged so far.
func (l *Logger) EntryCount(callID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	call, ok := l.active[callID]
	if !ok {
		return 0
	}
	return len(call.entries)
}

// EndCall finalizes a call: it summarizes the transcript, extracts the
// structured fields, writes both artifacts, and evicts the call.
// Ending the same call twice returns ErrNotFound on the second call.
func (l *Logger) EndCall(ctx context.Context, callID string) (*Summary, error) {
	l.mu.Lock()
	call, ok := l.active[callID]
	if !ok || call.ending {
		l.mu.Unlock()
		return nil, ErrNotFound
	}
	call.ending = true
	l.mu.Unlock()

	end := l.now()
	summary := &Summary{
		CallID:          call.callID,
		CallerInfo:      call.callerInfo,
		StartTime:       call.startTime,
		EndTime:         end,
		DurationSeconds: end.Sub(call.startTime).Seconds(),
		EntryCount:      len(call.entries),
		Transcript:      call.entries,
	}

	if len(call.entries) < l.minEntries {
		summary.SummaryText = placeholderEmpty
	} else {
		summary.SummaryText = l.generateSummary(ctx, call.entries)
		summary.Structured = l.extractStructured(ctx, call.entries)
	}

	if err := l.writeArtifacts(summary); err != nil {
		// Releasing the claim keeps the transcript-bearing record
		// around so a later EndCall can retry persistence.
		l.mu.Lock()
		call.ending = false
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Lock()
	delete(l.active, callID)
	l.mu.Unlock()
	l.logger.Info("call ended",
		"call_id", callID,
		"duration_s", summary.DurationSeconds,
		"entries", summary.EntryCount)
	return summary, nil
}

// EndResult is delivered on the channel returned by EndCallAsync.
type EndResult struct {
	Summary *Summary
	Err     error
}

// EndCallAsync runs EndCall detached from the caller's context, with
// its own timeout. The returned channel receives exactly one result,
// so a teardown path can both fire-and-forget and, when it cares,
// observe completion.
func (l *Logger) EndCallAsync(callID string) <-chan EndResult {
	out := make(chan EndResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.endTimeout)
		defer cancel()
		summary, err := l.EndCall(ctx, callID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			l.logger.Error("end call failed", "call_id", callID, "error", err)
		}
		out <- EndResult{Summary: summary, Err: err}
	}()
	return out
}
