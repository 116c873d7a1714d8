package contact

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/logging"
	"github.com/seismic-bv/seismic/internal/relay"
)

// DefaultClearAfter is how long a status banner stays up.
const DefaultClearAfter = 5 * time.Second

// FormDispatcher delivers a validated form. *Dispatcher satisfies it.
type FormDispatcher interface {
	Dispatch(ctx context.Context, form Form) (*relay.Report, error)
}

// SectionOptions configures a Section.
type SectionOptions struct {
	// ClearAfter is how long the status banner stays up. Zero means
	// DefaultClearAfter.
	ClearAfter time.Duration
	Logger     logging.Logger
	// OnComplete runs once per attempt after the dispatch finished.
	OnComplete func(*Attempt)
}

// State is a point-in-time copy of a section.
type State struct {
	Form    Form
	Status  Status
	Pending int
}

// Section is one contact form instance with its own fields and banner.
// Nothing is shared between sections.
type Section struct {
	mu         sync.Mutex
	form       Form
	status     Status
	statusGen  uint64
	clearTimer *time.Timer
	pending    int
	closed     bool

	dispatcher FormDispatcher
	clearAfter time.Duration
	onComplete func(*Attempt)
	errHandler *errors.ErrorHandler
	logger     logging.Logger
	attempts   sync.WaitGroup
}

// NewSection creates an empty section.
func NewSection(d FormDispatcher, opts SectionOptions) *Section {
	if opts.ClearAfter <= 0 {
		opts.ClearAfter = DefaultClearAfter
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	logger := opts.Logger.WithComponent("contact_section")

	return &Section{
		dispatcher: d,
		clearAfter: opts.ClearAfter,
		onComplete: opts.OnComplete,
		errHandler: errors.NewErrorHandler(logger),
		logger:     logger,
	}
}

// SetField updates one field.
func (s *Section) SetField(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form.Set(name, value)
}

// Submit validates the current fields. On failure the banner shows the
// error status, the fields are kept and nothing is sent. On success the
// banner shows the success status right away and the dispatch continues
// in the background; its result is available from the returned Attempt.
// The dispatch outlives ctx cancellation but keeps its values.
func (s *Section) Submit(ctx context.Context) (*Attempt, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "contact section is closed", nil)
	}

	form := s.form
	if err := form.Validate(); err != nil {
		s.setStatusLocked(StatusError)
		s.mu.Unlock()
		s.errHandler.Handle(ctx, err)
		return nil, err
	}

	s.setStatusLocked(StatusSuccess)
	s.pending++
	s.attempts.Add(1)
	s.mu.Unlock()

	attempt := newAttempt()
	go s.run(context.WithoutCancel(ctx), attempt, form)
	return attempt, nil
}

func (s *Section) run(ctx context.Context, attempt *Attempt, form Form) {
	defer s.attempts.Done()

	report, err := s.dispatcher.Dispatch(ctx, form)

	s.mu.Lock()
	s.form = Form{}
	s.pending--
	s.mu.Unlock()

	if err != nil {
		s.errHandler.Handle(ctx, err)
	} else {
		s.logger.Info(ctx, "Contact message delivered",
			"submission_id", attempt.ID,
			"relays", report.Accepted())
	}

	attempt.finish(report, err)
	if s.onComplete != nil {
		s.onComplete(attempt)
	}
}

// setStatusLocked shows a banner and schedules its removal. A newer
// status replaces both the banner and its timer.
func (s *Section) setStatusLocked(status Status) {
	s.status = status
	s.statusGen++
	gen := s.statusGen

	if s.clearTimer != nil {
		s.clearTimer.Stop()
	}
	s.clearTimer = time.AfterFunc(s.clearAfter, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.statusGen == gen {
			s.status = StatusUnset
		}
	})
}

// Snapshot returns the current fields and banner.
func (s *Section) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Form: s.form, Status: s.status, Pending: s.pending}
}

// Wait blocks until every started dispatch finished or ctx ends.
func (s *Section) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.attempts.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the banner timer and rejects further submissions. Dispatches
// already running finish on their own.
func (s *Section) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
}

// Attempt tracks one background dispatch.
type Attempt struct {
	ID      string
	Started time.Time

	done   chan struct{}
	report *relay.Report
	err    error
}

func newAttempt() *Attempt {
	return &Attempt{
		ID:      uuid.NewString(),
		Started: time.Now(),
		done:    make(chan struct{}),
	}
}

func (a *Attempt) finish(report *relay.Report, err error) {
	a.report = report
	a.err = err
	close(a.done)
}

// Done is closed once the dispatch finished.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Result returns the outcome. Only valid after Done is closed.
func (a *Attempt) Result() (*relay.Report, error) {
	return a.report, a.err
}

// Wait blocks until the dispatch finished or ctx ends.
func (a *Attempt) Wait(ctx context.Context) (*relay.Report, error) {
	select {
	case <-a.done:
		return a.report, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delivered reports whether the finished dispatch reached a relay.
func (a *Attempt) Delivered() bool {
	select {
	case <-a.done:
		return a.err == nil && a.report.Delivered()
	default:
		return false
	}
}
