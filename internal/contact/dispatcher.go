package contact

import (
	"context"
	"fmt"
	"time"

	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/logging"
	"github.com/seismic-bv/seismic/internal/nostr"
	"github.com/seismic-bv/seismic/internal/relay"
)

// DefaultMaxMessageSize is the largest encoded payload handed to the relays.
// It matches the NIP-44 plaintext limit.
const DefaultMaxMessageSize = 65535

// Broadcaster publishes a signed event to every configured relay.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev *nostr.Event) *relay.Report
	Relays() []string
}

// Metrics receives dispatch measurements. *monitoring.Metrics satisfies it.
type Metrics interface {
	DispatchCompleted(outcome string, duration time.Duration)
	RelayOutcome(relay, status string, latency time.Duration)
	ErrorOccurred(category, component string)
}

// DispatcherConfig is the injected configuration of a Dispatcher.
type DispatcherConfig struct {
	Recipient      nostr.PublicKey
	Cipher         nostr.Cipher
	MaxMessageSize int
}

// Dispatcher seals contact forms into kind 4 events and broadcasts them.
type Dispatcher struct {
	recipient      nostr.PublicKey
	cipher         nostr.Cipher
	maxMessageSize int
	broadcaster    Broadcaster

	logger  logging.Logger
	metrics Metrics
	now     func() time.Time
	keygen  func() (*nostr.PrivateKey, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics records dispatch outcomes.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithKeyGenerator overrides the ephemeral key source.
func WithKeyGenerator(keygen func() (*nostr.PrivateKey, error)) Option {
	return func(d *Dispatcher) {
		d.keygen = keygen
	}
}

// NewDispatcher validates cfg and builds a dispatcher.
func NewDispatcher(cfg DispatcherConfig, b Broadcaster, opts ...Option) (*Dispatcher, error) {
	if cfg.Recipient.IsZero() {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "contact recipient is not set")
	}
	if b == nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "no broadcaster configured")
	}
	if cfg.Cipher == nil {
		cfg.Cipher = nostr.NIP04
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	d := &Dispatcher{
		recipient:      cfg.Recipient,
		cipher:         cfg.Cipher,
		maxMessageSize: cfg.MaxMessageSize,
		broadcaster:    b,
		logger:         logging.NewNopLogger(),
		now:            time.Now,
		keygen:         nostr.GeneratePrivateKey,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("contact")

	return d, nil
}

// Recipient returns the operator public key.
func (d *Dispatcher) Recipient() nostr.PublicKey {
	return d.recipient
}

// Seal turns a valid form into a signed kind 4 event addressed to the
// recipient. Every call uses a fresh ephemeral key that is dropped on
// return.
func (d *Dispatcher) Seal(form Form) (*nostr.Event, error) {
	now := d.now()
	plaintext, err := d.plaintext(form, now)
	if err != nil {
		return nil, err
	}

	sender, err := d.keygen()
	if err != nil {
		return nil, errors.WrapEncryption(err, errors.ErrCodeKeyGeneration, "generating ephemeral key")
	}

	content, err := d.cipher.Encrypt(sender, d.recipient, string(plaintext))
	if err != nil {
		return nil, errors.WrapEncryption(err, errors.ErrCodeEncryptFailed, "encrypting payload")
	}

	ev := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{{"p", d.recipient.Hex()}},
		Content:   content,
	}
	if err := ev.Sign(sender); err != nil {
		return nil, errors.WrapEncryption(err, errors.ErrCodeSignFailed, "signing event")
	}

	return ev, nil
}

func (d *Dispatcher) plaintext(form Form, now time.Time) ([]byte, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}

	plaintext, err := form.Normalize().Payload(now).Marshal()
	if err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "encoding payload", err)
	}
	if len(plaintext) > d.maxMessageSize {
		return nil, errors.NewTransportError(errors.ErrCodeMessageTooLarge,
			fmt.Sprintf("message is %d bytes, relays accept at most %d", len(plaintext), d.maxMessageSize), nil).
			WithComponent("contact")
	}
	return plaintext, nil
}

// Dispatch seals the form and broadcasts it. A nil error means at least
// one relay acknowledged the event. The report is returned whenever a
// broadcast happened, successful or not.
func (d *Dispatcher) Dispatch(ctx context.Context, form Form) (*relay.Report, error) {
	start := d.now()
	perf := logging.StartOperation(d.logger, "dispatch")

	ev, err := d.Seal(form)
	if err != nil {
		d.record(start, nil, err)
		perf.EndWithError(ctx, err)
		return nil, err
	}

	relays := d.broadcaster.Relays()
	if len(relays) == 0 {
		err := errors.NewTransportError(errors.ErrCodeNoRelays, "no relays configured", nil).WithComponent("contact")
		d.record(start, nil, err)
		perf.EndWithError(ctx, err)
		return nil, err
	}

	report := d.broadcaster.Broadcast(ctx, ev)
	err = classify(report)
	d.record(start, report, err)
	if err != nil {
		perf.EndWithError(ctx, err, "event_id", ev.ID, "outcomes", report.Summary())
		return report, err
	}

	perf.End(ctx, "event_id", ev.ID, "accepted", len(report.Accepted()), "relays", len(report.Outcomes))
	return report, nil
}

// classify maps a report without acknowledgements onto the error
// taxonomy: silence from any relay is a timeout, explicit refusals and
// failures from all of them are a transport error.
func classify(report *relay.Report) error {
	if report.Delivered() {
		return nil
	}
	if report.Count(relay.StatusTimeout) > 0 {
		return errors.NewTimeoutError(errors.ErrCodeNoAcknowledgment, "no relay acknowledged the message in time").
			WithComponent("contact").
			WithContext("outcomes", report.Summary())
	}
	return errors.NewTransportError(errors.ErrCodeRelaysFailed, "every relay rejected or failed the message", nil).
		WithComponent("contact").
		WithContext("outcomes", report.Summary())
}

func (d *Dispatcher) record(start time.Time, report *relay.Report, err error) {
	if d.metrics == nil {
		return
	}
	if report != nil {
		for _, o := range report.Outcomes {
			d.metrics.RelayOutcome(o.URL, string(o.Status), o.Latency)
		}
	}

	outcome := "delivered"
	if err != nil {
		outcome = string(errors.TypeOf(err))
		d.metrics.ErrorOccurred(outcome, "contact")
	}
	d.metrics.DispatchCompleted(outcome, d.now().Sub(start))
}
