package devserver

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike  AlertType = "login_failure_spike"
	AlertRevealFailureSpike AlertType = "reveal_failure_spike"
	AlertBulkReveal         AlertType = "bulk_reveal"
)

// Alert describes an anomaly in the audit stream.
type Alert struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc receives alerts. It is called without any server lock held.
type AlertFunc func(Alert)

// slidingWindow counts one kind of audit event over a trailing span.
type slidingWindow struct {
	alert     AlertType
	message   string
	span      time.Duration
	threshold int
	hits      []time.Time
}

// alertMonitor raises an alert when an audit event occurs threshold times
// within its window, then starts counting afresh.
type alertMonitor struct {
	mu      sync.Mutex
	windows map[AuditEvent]*slidingWindow
	now     func() time.Time
	fn      AlertFunc
}

func newAlertMonitor(fn AlertFunc, now func() time.Time) *alertMonitor {
	return &alertMonitor{
		now: now,
		fn:  fn,
		windows: map[AuditEvent]*slidingWindow{
			AuditLoginFailure: {
				alert:     AlertLoginFailureSpike,
				message:   "login failure rate exceeds threshold",
				span:      time.Minute,
				threshold: 50,
			},
			AuditRevealFailure: {
				alert:     AlertRevealFailureSpike,
				message:   "master password failure rate on reveal exceeds threshold",
				span:      time.Minute,
				threshold: 20,
			},
			AuditSecretRevealed: {
				alert:     AlertBulkReveal,
				message:   "secret reveal rate exceeds threshold",
				span:      5 * time.Minute,
				threshold: 30,
			},
		},
	}
}

func (m *alertMonitor) record(event AuditEvent) {
	if m == nil || m.fn == nil {
		return
	}

	m.mu.Lock()
	w, ok := m.windows[event]
	if !ok {
		m.mu.Unlock()
		return
	}
	now := m.now()
	w.hits = append(trimWindow(w.hits, now, w.span), now)

	var fire *Alert
	if len(w.hits) >= w.threshold {
		fire = &Alert{
			Type:      w.alert,
			Message:   w.message,
			Count:     len(w.hits),
			Threshold: w.threshold,
			Timestamp: now,
		}
		w.hits = w.hits[:0]
	}
	m.mu.Unlock()

	if fire != nil {
		m.fn(*fire)
	}
}

// trimWindow drops entries older than now-span from the sorted slice.
func trimWindow(times []time.Time, now time.Time, span time.Duration) []time.Time {
	cutoff := now.Add(-span)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
