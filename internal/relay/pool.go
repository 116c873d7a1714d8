package relay

import (
	"context"
	"time"

	"github.com/seismic-bv/seismic/internal/logging"
	"github.com/seismic-bv/seismic/internal/nostr"
)

// DefaultTimeout bounds a whole broadcast.
const DefaultTimeout = 5 * time.Second

// DefaultRelays are the public relays the contact form publishes to.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nostr.mom",
	"wss://nostr.wine",
	"wss://nos.lol",
}

// Pool broadcasts an event to a fixed set of relays.
type Pool struct {
	relays    []string
	publisher Publisher
	timeout   time.Duration
	logger    logging.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPublisher replaces the websocket client, mostly for tests.
func WithPublisher(p Publisher) PoolOption {
	return func(pool *Pool) {
		pool.publisher = p
	}
}

// WithTimeout sets the broadcast deadline.
func WithTimeout(d time.Duration) PoolOption {
	return func(pool *Pool) {
		if d > 0 {
			pool.timeout = d
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger logging.Logger) PoolOption {
	return func(pool *Pool) {
		pool.logger = logger
	}
}

// NewPool creates a pool over the given relay URLs.
func NewPool(relays []string, opts ...PoolOption) *Pool {
	p := &Pool{
		relays:  append([]string(nil), relays...),
		timeout: DefaultTimeout,
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.publisher == nil {
		p.publisher = NewClient(WithClientLogger(p.logger))
	}
	p.logger = p.logger.WithComponent("relay_pool")
	return p
}

// Relays returns a copy of the configured relay URLs.
func (p *Pool) Relays() []string {
	return append([]string(nil), p.relays...)
}

// Timeout returns the broadcast deadline.
func (p *Pool) Timeout() time.Duration {
	return p.timeout
}

type indexedOutcome struct {
	index int
	Outcome
}

// Broadcast publishes ev to every relay concurrently and waits until all
// of them answered or the deadline passed, whichever comes first. Relays
// still silent at the deadline are reported as timeouts. Outstanding
// connections are torn down before Broadcast returns.
func (p *Pool) Broadcast(ctx context.Context, ev *nostr.Event) *Report {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	report := &Report{EventID: ev.ID, Outcomes: make([]Outcome, len(p.relays))}
	if len(p.relays) == 0 {
		return report
	}

	results := make(chan indexedOutcome, len(p.relays))
	for i, url := range p.relays {
		go func(i int, url string) {
			results <- indexedOutcome{index: i, Outcome: p.publisher.Publish(ctx, url, ev)}
		}(i, url)
	}

	answered := make([]bool, len(p.relays))
	start := time.Now()

wait:
	for remaining := len(p.relays); remaining > 0; remaining-- {
		select {
		case res := <-results:
			res.Outcome.URL = p.relays[res.index]
			report.Outcomes[res.index] = res.Outcome
			answered[res.index] = true
		case <-ctx.Done():
			break wait
		}
	}

	for i, ok := range answered {
		if !ok {
			report.Outcomes[i] = Outcome{
				URL:     p.relays[i],
				Status:  StatusTimeout,
				Err:     ctx.Err(),
				Latency: time.Since(start),
			}
		}
	}

	p.logger.Info(ctx, "Broadcast finished",
		"event_id", ev.ID,
		"delivered", report.Delivered(),
		"accepted", report.Count(StatusAccepted),
		"relays", len(p.relays),
		"outcomes", report.Summary(),
		"duration_ms", time.Since(start).Milliseconds())

	return report
}
