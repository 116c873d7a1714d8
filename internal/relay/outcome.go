// Package relay publishes signed Nostr events to relays over websockets
// and collects one outcome per relay.
package relay

import (
	"strings"
	"time"
)

// Status classifies how a single relay answered a publish.
type Status string

const (
	// StatusAccepted means the relay answered OK true.
	StatusAccepted Status = "accepted"
	// StatusRejected means the relay answered OK false.
	StatusRejected Status = "rejected"
	// StatusError covers dial, write and read failures and CLOSED frames.
	StatusError Status = "error"
	// StatusTimeout means the relay said nothing before the deadline.
	StatusTimeout Status = "timeout"
)

// Outcome is the result of publishing one event to one relay.
type Outcome struct {
	URL     string        `json:"url"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Err     error         `json:"-"`
	Latency time.Duration `json:"latency"`
}

// Accepted reports whether the relay acknowledged the event.
func (o Outcome) Accepted() bool {
	return o.Status == StatusAccepted
}

// Report collects the outcomes of one broadcast, in relay order.
type Report struct {
	EventID  string    `json:"event_id"`
	Outcomes []Outcome `json:"outcomes"`
}

// Delivered reports whether at least one relay accepted the event.
func (r *Report) Delivered() bool {
	if r == nil {
		return false
	}
	for _, o := range r.Outcomes {
		if o.Accepted() {
			return true
		}
	}
	return false
}

// Accepted returns the URLs of the relays that acknowledged the event.
func (r *Report) Accepted() []string {
	if r == nil {
		return nil
	}
	var urls []string
	for _, o := range r.Outcomes {
		if o.Accepted() {
			urls = append(urls, o.URL)
		}
	}
	return urls
}

// Failed returns every outcome that is not an acknowledgement.
func (r *Report) Failed() []Outcome {
	if r == nil {
		return nil
	}
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.Accepted() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Count returns how many outcomes have the given status.
func (r *Report) Count(status Status) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Summary renders a compact "url=status" list for logs.
func (r *Report) Summary() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		parts = append(parts, o.URL+"="+string(o.Status))
	}
	return strings.Join(parts, ",")
}
