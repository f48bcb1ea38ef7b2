// Package ledger implements the usage ledger: a bounded in-memory history of
// recent attempts, per-provider running stats, and an async append-only
// durable log on disk. Disk appends run on a background goroutine fed by a
// buffered channel so a slow or failing write never blocks the request path;
// when the channel is full the entry is dropped and counted (see DroppedLogs).
package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxHistory    = 100
	channelBuffer = 10_000
)

// Attempt is one recorded outcome: either a successful call (tokens/cost
// populated) or a failure (tokens/cost zeroed regardless of what the caller
// measured, per the ledger's recording contract).
type Attempt struct {
	Timestamp        time.Time `json:"timestamp"`
	Provider         string    `json:"provider"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Cost             float64   `json:"cost"`
	Success          bool      `json:"success"`
	DurationSeconds  float64   `json:"duration_seconds"`
}

// providerStats accumulates running counters for one provider.
type providerStats struct {
	TotalRequests         int
	SuccessfulRequests    int
	FailedRequests        int
	TotalPromptTokens     int
	TotalCompletionTokens int
	TotalCost             float64
	TotalLatency          float64 // sum of durations across successful requests
	LastFailureTime       time.Time
}

// ProviderSnapshot is the read-only view of one provider's stats returned by
// Stats(). AvgLatency is "N/A" when the provider has no successful requests.
type ProviderSnapshot struct {
	TotalRequests         int     `json:"total_requests"`
	SuccessfulRequests    int     `json:"successful_requests"`
	FailedRequests        int     `json:"failed_requests"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalTokens           int     `json:"total_tokens"`
	TotalCost             float64 `json:"total_cost"`
	TotalLatency          float64 `json:"total_latency"`
	AvgLatency            any     `json:"avg_latency"`
}

// Overall is the aggregate view across all providers.
type Overall struct {
	TotalCost     float64 `json:"total_cost"`
	TotalTokens   int     `json:"total_tokens"`
	TotalRequests int     `json:"total_requests"`
}

// Snapshot is the full stats() response.
type Snapshot struct {
	Overall        Overall                     `json:"overall"`
	Providers      map[string]ProviderSnapshot `json:"providers"`
	RecentRequests []Attempt                   `json:"recent_requests"`
}

// Ledger is the usage ledger. Safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	history   []Attempt
	providers map[string]*providerStats

	logPath     string
	ch          chan Attempt
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	droppedLogs int64
}

// New opens (creating if absent) the durable log file at logPath and starts
// the background writer. Callers must call Close on shutdown to drain
// pending entries.
func New(logPath string) (*Ledger, error) {
	if dir := filepath.Dir(logPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open log file: %w", err)
	}

	l := &Ledger{
		providers: make(map[string]*providerStats),
		logPath:   logPath,
		ch:        make(chan Attempt, channelBuffer),
		done:      make(chan struct{}),
	}

	l.wg.Add(1)
	go l.run(f)

	return l, nil
}

// Record appends one attempt to the bounded history, updates running
// counters, and enqueues the attempt for durable append. On failure, tokens
// and cost are recorded as zero regardless of the values passed in —
// failures carry no usage.
func (l *Ledger) Record(provider string, promptTokens, completionTokens int, cost float64, success bool, duration time.Duration) {
	now := time.Now()
	durationSeconds := round(duration.Seconds(), 4)

	attempt := Attempt{
		Timestamp:       now,
		Provider:        provider,
		Success:         success,
		DurationSeconds: durationSeconds,
	}
	if success {
		attempt.PromptTokens = promptTokens
		attempt.CompletionTokens = completionTokens
		attempt.TotalTokens = promptTokens + completionTokens
		attempt.Cost = cost
	}

	l.mu.Lock()
	l.history = append(l.history, attempt)
	if len(l.history) > maxHistory {
		l.history = l.history[len(l.history)-maxHistory:]
	}

	ps, ok := l.providers[provider]
	if !ok {
		ps = &providerStats{}
		l.providers[provider] = ps
	}
	ps.TotalRequests++
	if success {
		ps.SuccessfulRequests++
		ps.TotalPromptTokens += attempt.PromptTokens
		ps.TotalCompletionTokens += attempt.CompletionTokens
		ps.TotalCost += attempt.Cost
		ps.TotalLatency += durationSeconds
	} else {
		ps.FailedRequests++
		ps.LastFailureTime = now
	}
	l.mu.Unlock()

	select {
	case l.ch <- attempt:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

// LastFailureTime returns the most recent failure timestamp recorded for
// provider, and whether one exists. Used by the router's dynamic scoring.
func (l *Ledger) LastFailureTime(provider string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, ok := l.providers[provider]
	if !ok || ps.LastFailureTime.IsZero() {
		return time.Time{}, false
	}
	return ps.LastFailureTime, true
}

// FailRatio returns failed_requests/total_requests for provider, and the
// raw request count. Returns (0, 0) for a provider with no history.
func (l *Ledger) FailRatio(provider string) (ratio float64, totalRequests int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, ok := l.providers[provider]
	if !ok || ps.TotalRequests == 0 {
		return 0, 0
	}
	return float64(ps.FailedRequests) / float64(ps.TotalRequests), ps.TotalRequests
}

// AvgLatency returns the mean duration (seconds) of successful requests for
// provider, and whether any successful request exists.
func (l *Ledger) AvgLatency(provider string) (avg float64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, exists := l.providers[provider]
	if !exists || ps.SuccessfulRequests == 0 {
		return 0, false
	}
	return ps.TotalLatency / float64(ps.SuccessfulRequests), true
}

// ProviderTotalCost returns the cumulative recorded cost for provider, and
// whether the provider has any recorded history.
func (l *Ledger) ProviderTotalCost(provider string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, ok := l.providers[provider]
	if !ok {
		return 0, false
	}
	return round(ps.TotalCost, 6), true
}

// DroppedLogs reports how many durable-log appends were dropped because the
// background writer's channel was full.
func (l *Ledger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

// Stats returns a point-in-time snapshot. It does not mutate any counters.
func (l *Ledger) Stats() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	overall := Overall{}
	providers := make(map[string]ProviderSnapshot, len(l.providers))

	for name, ps := range l.providers {
		totalTokens := ps.TotalPromptTokens + ps.TotalCompletionTokens

		overall.TotalCost += ps.TotalCost
		overall.TotalTokens += totalTokens
		overall.TotalRequests += ps.TotalRequests

		var avgLatency any = "N/A"
		if ps.SuccessfulRequests > 0 {
			avgLatency = round(ps.TotalLatency/float64(ps.SuccessfulRequests), 4)
		}

		providers[name] = ProviderSnapshot{
			TotalRequests:         ps.TotalRequests,
			SuccessfulRequests:    ps.SuccessfulRequests,
			FailedRequests:        ps.FailedRequests,
			TotalPromptTokens:     ps.TotalPromptTokens,
			TotalCompletionTokens: ps.TotalCompletionTokens,
			TotalTokens:           totalTokens,
			TotalCost:             round(ps.TotalCost, 6),
			TotalLatency:          round(ps.TotalLatency, 4),
			AvgLatency:            avgLatency,
		}
	}
	overall.TotalCost = round(overall.TotalCost, 6)

	recent := l.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	recentCopy := make([]Attempt, len(recent))
	copy(recentCopy, recent)

	return Snapshot{
		Overall:        overall,
		Providers:      providers,
		RecentRequests: recentCopy,
	}
}

// Close drains pending durable-log entries and closes the log file.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Ledger) run(f *os.File) {
	defer l.wg.Done()
	defer f.Close()

	enc := json.NewEncoder(f)
	appendLine := func(a Attempt) {
		// A failed append must never propagate: the durable log is
		// best-effort, and the caller already has the in-memory record.
		_ = enc.Encode(a)
	}

	for {
		select {
		case a := <-l.ch:
			appendLine(a)
		case <-l.done:
			for {
				select {
				case a := <-l.ch:
					appendLine(a)
				default:
					return
				}
			}
		}
	}
}

func round(v float64, decimals int) float64 {
	mult := math.Pow(10, float64(decimals))
	return math.Round(v*mult) / mult
}
