package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"slotline/backend/internal/domain"
	"slotline/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// Notifier receives fire-and-forget booking events after the transaction has
// committed. Failures are logged, never propagated.
type Notifier interface {
	BookingConfirmed(ctx context.Context, appt domain.Appointment) error
}

// SlotCache is an optional short-lived cache for the advisory slot listing.
// The advisory path tolerates staleness; the booking transaction never reads
// from here.
type SlotCache interface {
	Get(ctx context.Context, staffID uuid.UUID, date time.Time, durationMinutes int) ([]domain.Slot, bool)
	Set(ctx context.Context, staffID uuid.UUID, date time.Time, durationMinutes int, slots []domain.Slot)
	InvalidateDay(ctx context.Context, staffID uuid.UUID, date time.Time)
}

type Options struct {
	// MaxAttempts bounds the booking transaction retry loop. Exhausted
	// retries surface as a conflict, never as a hang.
	MaxAttempts int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
	Notifier     Notifier
	SlotCache    SlotCache
	Logger       *slog.Logger
}

type Service struct {
	repo        store.ScheduleRepository
	notifier    Notifier
	cache       SlotCache
	log         *slog.Logger
	maxAttempts int
	backoff     time.Duration
}

func NewService(repo store.ScheduleRepository, opts Options) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 25 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:        repo,
		notifier:    opts.Notifier,
		cache:       opts.SlotCache,
		log:         log.With(slog.String("component", "booking")),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.RetryBackoff,
	}
}

// SlotsResult is the advisory slot listing. Empty Slots with a Message is a
// valid outcome (day off, unconfigured schedule, or fully booked), not an
// error.
type SlotsResult struct {
	Slots   []domain.Slot
	Message string
}

// GenerateSlots lists legally bookable start times for the staff member on
// the given date. Advisory only: output is never trusted at commit time.
func (s *Service) GenerateSlots(ctx context.Context, staffID uuid.UUID, date time.Time, durationMinutes int) (SlotsResult, error) {
	if staffID == uuid.Nil {
		return SlotsResult{}, validationError("staff_id is required")
	}
	if date.IsZero() {
		return SlotsResult{}, validationError("date is required")
	}
	if durationMinutes <= 0 {
		return SlotsResult{}, validationError("duration_minutes must be positive")
	}

	staff, err := s.repo.GetStaffMember(ctx, staffID)
	if err != nil {
		return SlotsResult{}, err
	}
	if !staff.ScheduleConfigured {
		return SlotsResult{Message: "staff member is not available for booking"}, nil
	}

	date = domain.DayStart(date.UTC())

	if s.cache != nil {
		if slots, ok := s.cache.Get(ctx, staffID, date, durationMinutes); ok {
			// A cached listing carries the same message contract as a fresh
			// one: an empty day still explains itself.
			if len(slots) == 0 {
				return SlotsResult{Message: "no open slots on this day"}, nil
			}
			return SlotsResult{Slots: slots}, nil
		}
	}

	avail, busy, ok, err := s.readDay(ctx, staffID, date)
	if err != nil {
		return SlotsResult{}, err
	}
	if !ok {
		return SlotsResult{Message: "not available this day"}, nil
	}

	windowStart, windowEnd, err := avail.Window()
	if err != nil {
		s.log.Error("malformed availability window",
			slog.String("staff_id", staffID.String()),
			slog.String("availability_id", avail.ID.String()),
			slog.Any("err", err),
		)
		return SlotsResult{}, err
	}

	slots, err := domain.GenerateSlots(date, windowStart, windowEnd, durationMinutes, busy)
	if err != nil {
		return SlotsResult{}, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, staffID, date, durationMinutes, slots)
	}

	if len(slots) == 0 {
		return SlotsResult{Message: "no open slots on this day"}, nil
	}
	return SlotsResult{Slots: slots}, nil
}

// readDay issues the availability, blocked-slot, and appointment reads
// concurrently; they have no ordering dependency.
func (s *Service) readDay(ctx context.Context, staffID uuid.UUID, date time.Time) (domain.Availability, []domain.Interval, bool, error) {
	dayEnd := date.AddDate(0, 0, 1)

	var (
		avail  domain.Availability
		hasDay bool
		blocks []domain.BlockedSlot
		appts  []domain.Appointment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, ok, err := s.repo.ActiveAvailability(gctx, staffID, int(date.Weekday()))
		if err != nil {
			return err
		}
		avail, hasDay = a, ok
		return nil
	})
	g.Go(func() error {
		rows, err := s.repo.ListBlockedSlots(gctx, staffID, date, dayEnd)
		if err != nil {
			return err
		}
		blocks = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.repo.ListBlockingAppointments(gctx, staffID, date, dayEnd)
		if err != nil {
			return err
		}
		appts = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Availability{}, nil, false, err
	}

	busy := make([]domain.Interval, 0, len(blocks)+len(appts))
	for _, b := range blocks {
		busy = append(busy, b.Interval())
	}
	for _, a := range appts {
		busy = append(busy, a.Interval())
	}
	return avail, busy, hasDay, nil
}

type CreateInput struct {
	StaffID    uuid.UUID
	CustomerID string
	ServiceID  uuid.UUID
	StartTime  time.Time
	Notes      string

	// Optional recurrence: when Pattern is set the seed booking is expanded
	// after commit, best effort.
	RecurringPattern *domain.RecurrencePattern
	RecurringUntil   time.Time
}

// RecurrenceOutcome reports a best-effort series expansion. Skipped counts
// occurrences dropped because their interval was already taken or blocked.
type RecurrenceOutcome struct {
	Created int
	Skipped int
}

// CreateAppointment is the authoritative booking gate. It re-derives conflict
// state inside a staff-calendar transaction and commits exactly one PENDING
// appointment, or reports why it cannot.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (domain.Appointment, *RecurrenceOutcome, error) {
	if in.StaffID == uuid.Nil {
		return domain.Appointment{}, nil, validationError("staff_id is required")
	}
	if strings.TrimSpace(in.CustomerID) == "" {
		return domain.Appointment{}, nil, validationError("customer_id is required")
	}
	if in.ServiceID == uuid.Nil {
		return domain.Appointment{}, nil, validationError("service_id is required")
	}
	if in.StartTime.IsZero() {
		return domain.Appointment{}, nil, validationError("start_time is required")
	}
	if in.RecurringPattern != nil && in.RecurringUntil.IsZero() {
		return domain.Appointment{}, nil, validationError("recurring_end_date is required with recurring_pattern")
	}

	if _, err := s.repo.GetStaffMember(ctx, in.StaffID); err != nil {
		return domain.Appointment{}, nil, err
	}
	svc, err := s.repo.GetService(ctx, in.ServiceID)
	if err != nil {
		return domain.Appointment{}, nil, err
	}
	if !svc.Active {
		return domain.Appointment{}, nil, validationError("service is not active")
	}

	start := in.StartTime.UTC()
	end := start.Add(time.Duration(svc.DurationMinutes) * time.Minute)

	appt := domain.Appointment{
		StaffID:    in.StaffID,
		CustomerID: strings.TrimSpace(in.CustomerID),
		ServiceID:  in.ServiceID,
		StartTime:  start,
		EndTime:    end,
		Status:     domain.AppointmentStatusPending,
		Notes:      in.Notes,
	}

	created, err := s.commitWithRetry(ctx, appt)
	if err != nil {
		return domain.Appointment{}, nil, err
	}

	s.afterCommit(created)

	var outcome *RecurrenceOutcome
	if in.RecurringPattern != nil {
		o, expandErr := s.ExpandRecurring(ctx, created, *in.RecurringPattern, in.RecurringUntil.UTC())
		if expandErr != nil {
			// The seed booking stands; a failed expansion must not undo it.
			s.log.Error("recurring expansion failed",
				slog.String("appointment_id", created.ID.String()),
				slog.Any("err", expandErr),
			)
		}
		outcome = &o
	}

	return created, outcome, nil
}

// commitWithRetry runs the check-then-insert transaction, retrying transient
// serialization failures with doubling backoff. The retry bound converts
// persistent contention into a conflict rather than an unresolved hang.
func (s *Service) commitWithRetry(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	backoff := s.backoff

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return domain.Appointment{}, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}

		created, err := s.tryCommit(ctx, appt)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, store.ErrSerialization) {
			return domain.Appointment{}, err
		}
		lastErr = err
		s.log.Debug("booking transaction retry",
			slog.String("staff_id", appt.StaffID.String()),
			slog.Int("attempt", attempt+1),
		)
	}

	s.log.Info("booking retries exhausted",
		slog.String("staff_id", appt.StaffID.String()),
		slog.Time("start_time", appt.StartTime),
		slog.Any("err", lastErr),
	)
	return domain.Appointment{}, store.ErrConflict
}

func (s *Service) tryCommit(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	var created domain.Appointment
	err := s.repo.InStaffTransaction(ctx, appt.StaffID, func(ctx context.Context, tx store.ScheduleTx) error {
		existing, err := tx.ListBlockingAppointments(ctx, appt.StaffID, appt.StartTime, appt.EndTime)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return store.ErrConflict
		}

		blocks, err := tx.ListBlockedSlots(ctx, appt.StaffID, appt.StartTime, appt.EndTime)
		if err != nil {
			return err
		}
		if len(blocks) > 0 {
			return store.ErrTimeBlocked
		}

		a, err := tx.InsertAppointment(ctx, appt)
		if err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return created, nil
}

// afterCommit runs the fire-and-forget side effects of a committed booking.
func (s *Service) afterCommit(appt domain.Appointment) {
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.cache.InvalidateDay(ctx, appt.StaffID, domain.DayStart(appt.StartTime))
		cancel()
	}
	if s.notifier != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.notifier.BookingConfirmed(ctx, appt); err != nil {
				s.log.Warn("booking confirmation publish failed",
					slog.String("appointment_id", appt.ID.String()),
					slog.Any("err", err),
				)
			}
		}()
	}
}

// ExpandRecurring creates follow-up occurrences of the seed in the pattern's
// fixed step. until is an exclusive bound: an occurrence starting at or past
// it is not created, and the 180-day lookahead horizon tightens the bound the
// same way. Each occurrence is checked and inserted independently; taken or
// blocked dates are skipped, and the caller gets the final tally. A partially
// booked series is the expected outcome, not a failure.
func (s *Service) ExpandRecurring(ctx context.Context, seed domain.Appointment, pattern domain.RecurrencePattern, until time.Time) (RecurrenceOutcome, error) {
	var outcome RecurrenceOutcome

	if until.IsZero() {
		return outcome, validationError("recurring_end_date is required")
	}
	horizon := seed.StartTime.Add(store.RecurringExpansionLookahead)
	if until.After(horizon) {
		until = horizon
	}

	occs, err := domain.ExpandOccurrences(seed.Interval(), pattern, until)
	if err != nil {
		return outcome, validationError(err.Error())
	}

	for _, occ := range occs {
		candidate := domain.Appointment{
			StaffID:    seed.StaffID,
			CustomerID: seed.CustomerID,
			ServiceID:  seed.ServiceID,
			StartTime:  occ.Start,
			EndTime:    occ.End,
			Status:     domain.AppointmentStatusPending,
			Notes:      seed.Notes,
		}

		created, err := s.tryCommit(ctx, candidate)
		switch {
		case err == nil:
			outcome.Created++
			s.afterCommit(created)
		case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrTimeBlocked), errors.Is(err, store.ErrSerialization):
			// Best effort: the date is taken, keep walking.
			outcome.Skipped++
		default:
			return outcome, err
		}
	}

	return outcome, nil
}

type UpdateStatusInput struct {
	AppointmentID      uuid.UUID
	Status             domain.AppointmentStatus
	CancellationReason string
}

// UpdateStatus applies a lifecycle transition. Cancelling an already
// cancelled appointment is a success; transitioning to CANCELLED or NO_SHOW
// releases the interval for future conflict checks.
func (s *Service) UpdateStatus(ctx context.Context, in UpdateStatusInput) (domain.Appointment, error) {
	if in.AppointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	if in.Status == "" {
		return domain.Appointment{}, validationError("status is required")
	}

	appt, err := s.repo.UpdateAppointmentStatus(ctx, in.AppointmentID, in.Status, in.CancellationReason)
	if err != nil {
		return domain.Appointment{}, err
	}

	if !in.Status.Blocking() && s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.cache.InvalidateDay(ctx, appt.StaffID, domain.DayStart(appt.StartTime))
		cancel()
	}
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	return s.repo.GetAppointment(ctx, appointmentID)
}

// ListAppointments returns the staff member's appointments of every status in
// the window, ordered by start time.
func (s *Service) ListAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	if staffID == uuid.Nil {
		return nil, validationError("staff_id is required")
	}
	start := windowStart.UTC()
	end := windowEnd.UTC()
	if end.Equal(start) || end.Before(start) {
		return nil, validationError("window_end must be after window_start")
	}
	return s.repo.ListAppointments(ctx, staffID, start, end)
}
