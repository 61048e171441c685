package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"slotline/backend/internal/domain"
	"slotline/backend/internal/store"
)

type fakeRepo struct {
	getServiceFn         func(ctx context.Context, serviceID uuid.UUID) (domain.Service, error)
	getStaffMemberFn     func(ctx context.Context, staffID uuid.UUID) (domain.StaffMember, error)
	activeAvailabilityFn func(ctx context.Context, staffID uuid.UUID, weekday int) (domain.Availability, bool, error)
	listBlockedSlotsFn   func(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.BlockedSlot, error)
	listBlockingFn       func(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	listAppointmentsFn   func(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	getAppointmentFn     func(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	updateStatusFn       func(ctx context.Context, appointmentID uuid.UUID, status domain.AppointmentStatus, reason string) (domain.Appointment, error)
	inStaffTransactionFn func(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx store.ScheduleTx) error) error
}

func (f *fakeRepo) GetService(ctx context.Context, serviceID uuid.UUID) (domain.Service, error) {
	if f.getServiceFn == nil {
		panic("GetService not configured")
	}
	return f.getServiceFn(ctx, serviceID)
}

func (f *fakeRepo) GetStaffMember(ctx context.Context, staffID uuid.UUID) (domain.StaffMember, error) {
	if f.getStaffMemberFn == nil {
		panic("GetStaffMember not configured")
	}
	return f.getStaffMemberFn(ctx, staffID)
}

func (f *fakeRepo) ActiveAvailability(ctx context.Context, staffID uuid.UUID, weekday int) (domain.Availability, bool, error) {
	if f.activeAvailabilityFn == nil {
		panic("ActiveAvailability not configured")
	}
	return f.activeAvailabilityFn(ctx, staffID, weekday)
}

func (f *fakeRepo) ListBlockedSlots(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.BlockedSlot, error) {
	if f.listBlockedSlotsFn == nil {
		return nil, nil
	}
	return f.listBlockedSlotsFn(ctx, staffID, windowStart, windowEnd)
}

func (f *fakeRepo) ListBlockingAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	if f.listBlockingFn == nil {
		return nil, nil
	}
	return f.listBlockingFn(ctx, staffID, windowStart, windowEnd)
}

func (f *fakeRepo) ListAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	if f.listAppointmentsFn == nil {
		panic("ListAppointments not configured")
	}
	return f.listAppointmentsFn(ctx, staffID, windowStart, windowEnd)
}

func (f *fakeRepo) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	if f.getAppointmentFn == nil {
		panic("GetAppointment not configured")
	}
	return f.getAppointmentFn(ctx, appointmentID)
}

func (f *fakeRepo) UpdateAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, status domain.AppointmentStatus, reason string) (domain.Appointment, error) {
	if f.updateStatusFn == nil {
		panic("UpdateAppointmentStatus not configured")
	}
	return f.updateStatusFn(ctx, appointmentID, status, reason)
}

func (f *fakeRepo) InStaffTransaction(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	if f.inStaffTransactionFn == nil {
		panic("InStaffTransaction not configured")
	}
	return f.inStaffTransactionFn(ctx, staffID, fn)
}

// memCalendar is an in-memory stand-in for the advisory-locked staff calendar:
// one mutex per calendar, committed rows visible to later transactions.
type memCalendar struct {
	mu     sync.Mutex
	appts  []domain.Appointment
	blocks []domain.BlockedSlot
}

func (c *memCalendar) inTransaction(fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	staged := memTx{cal: c}
	if err := fn(context.Background(), &staged); err != nil {
		return err
	}
	c.appts = append(c.appts, staged.inserted...)
	return nil
}

type memTx struct {
	cal      *memCalendar
	inserted []domain.Appointment
}

func (t *memTx) ListBlockingAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	window := domain.Interval{Start: windowStart, End: windowEnd}
	var out []domain.Appointment
	for _, a := range t.cal.appts {
		if a.StaffID == staffID && a.Status.Blocking() && a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memTx) ListBlockedSlots(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.BlockedSlot, error) {
	window := domain.Interval{Start: windowStart, End: windowEnd}
	var out []domain.BlockedSlot
	for _, b := range t.cal.blocks {
		if b.StaffID == staffID && b.Interval().Overlaps(window) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Appointment{}, err
	}
	appt.ID = id
	t.inserted = append(t.inserted, appt)
	return appt, nil
}

func calendarRepo(cal *memCalendar, staff domain.StaffMember, svc domain.Service) *fakeRepo {
	return &fakeRepo{
		getStaffMemberFn: func(ctx context.Context, staffID uuid.UUID) (domain.StaffMember, error) {
			if staffID != staff.ID {
				return domain.StaffMember{}, store.ErrNotFound
			}
			return staff, nil
		},
		getServiceFn: func(ctx context.Context, serviceID uuid.UUID) (domain.Service, error) {
			if serviceID != svc.ID {
				return domain.Service{}, store.ErrNotFound
			}
			return svc, nil
		},
		inStaffTransactionFn: func(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
			return cal.inTransaction(fn)
		},
	}
}

func testStaff() domain.StaffMember {
	return domain.StaffMember{
		ID:                 uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		UserID:             "u1",
		DisplayName:        "Sam",
		ScheduleConfigured: true,
	}
}

func testService60() domain.Service {
	return domain.Service{
		ID:              uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		Name:            "consult",
		DurationMinutes: 60,
		Active:          true,
	}
}

func TestCreateAppointment_CommitsPendingWithServiceDuration(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	cal := &memCalendar{}
	s := NewService(calendarRepo(cal, staff, svc), Options{})

	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	appt, outcome, err := s.CreateAppointment(context.Background(), CreateInput{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  start,
	})
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	if outcome != nil {
		t.Fatalf("outcome = %+v, want nil without recurrence", outcome)
	}
	if appt.Status != domain.AppointmentStatusPending {
		t.Fatalf("status = %q, want %q", appt.Status, domain.AppointmentStatusPending)
	}
	if !appt.EndTime.Equal(start.Add(time.Hour)) {
		t.Fatalf("end = %v, want start+60m", appt.EndTime)
	}
	if len(cal.appts) != 1 {
		t.Fatalf("committed rows = %d, want 1", len(cal.appts))
	}
}

func TestCreateAppointment_MutualExclusionUnderConcurrency(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	cal := &memCalendar{}
	s := NewService(calendarRepo(cal, staff, svc), Options{})

	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	const n = 8

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = s.CreateAppointment(context.Background(), CreateInput{
				StaffID:    staff.ID,
				CustomerID: "c1",
				ServiceID:  svc.ID,
				StartTime:  start,
			})
		}(i)
	}
	wg.Wait()

	winners, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if conflicts != n-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts, n-1)
	}
	if len(cal.appts) != 1 {
		t.Fatalf("committed rows = %d, want exactly 1", len(cal.appts))
	}
}

func TestCreateAppointment_BoundaryAdjacencyIsNotAConflict(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cal := &memCalendar{
		appts: []domain.Appointment{{
			ID:        uuid.MustParse("00000000-0000-0000-0000-00000000000a"),
			StaffID:   staff.ID,
			StartTime: start.Add(-time.Hour),
			EndTime:   start,
			Status:    domain.AppointmentStatusConfirmed,
		}},
	}
	s := NewService(calendarRepo(cal, staff, svc), Options{})

	_, _, err := s.CreateAppointment(context.Background(), CreateInput{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  start,
	})
	if err != nil {
		t.Fatalf("booking starting exactly at previous end must succeed, got: %v", err)
	}
}

func TestCreateAppointment_BlockedTimeWinsOverAvailability(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cal := &memCalendar{
		blocks: []domain.BlockedSlot{{
			StaffID:   staff.ID,
			StartTime: start.Add(30 * time.Minute),
			EndTime:   start.Add(90 * time.Minute),
			Reason:    "lunch",
		}},
	}
	s := NewService(calendarRepo(cal, staff, svc), Options{})

	_, _, err := s.CreateAppointment(context.Background(), CreateInput{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  start,
	})
	if !errors.Is(err, store.ErrTimeBlocked) {
		t.Fatalf("err = %v, want %v", err, store.ErrTimeBlocked)
	}
	if len(cal.appts) != 0 {
		t.Fatalf("committed rows = %d, want 0", len(cal.appts))
	}
}

func TestCreateAppointment_CancelledRowDoesNotOccupyTime(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cal := &memCalendar{
		appts: []domain.Appointment{{
			StaffID:   staff.ID,
			StartTime: start,
			EndTime:   start.Add(time.Hour),
			Status:    domain.AppointmentStatusCancelled,
		}},
	}
	s := NewService(calendarRepo(cal, staff, svc), Options{})

	_, _, err := s.CreateAppointment(context.Background(), CreateInput{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  start,
	})
	if err != nil {
		t.Fatalf("cancelled interval must be bookable, got: %v", err)
	}
}

func TestCreateAppointment_RetriesSerializationThenConflict(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	attempts := 0
	repo := calendarRepo(&memCalendar{}, staff, svc)
	repo.inStaffTransactionFn = func(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
		attempts++
		return store.ErrSerialization
	}
	s := NewService(repo, Options{MaxAttempts: 3, RetryBackoff: time.Millisecond})

	_, _, err := s.CreateAppointment(context.Background(), CreateInput{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want %v after exhausted retries", err, store.ErrConflict)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestCreateAppointment_RecoversAfterTransientFailure(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	cal := &memCalendar{}
	attempts := 0
	repo := calendarRepo(cal, staff, svc)
	inner := repo.inStaffTransactionFn
	repo.inStaffTransactionFn = func(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
		attempts++
		if attempts == 1 {
			return store.ErrSerialization
		}
		return inner(ctx, staffID, fn)
	}
	s := NewService(repo, Options{MaxAttempts: 3, RetryBackoff: time.Millisecond})

	appt, _, err := s.CreateAppointment(context.Background(), CreateInput{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}
	if appt.ID == uuid.Nil {
		t.Fatalf("expected committed appointment")
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestCreateAppointment_UnknownServiceAndStaff(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	s := NewService(calendarRepo(&memCalendar{}, staff, svc), Options{})

	_, _, err := s.CreateAppointment(context.Background(), CreateInput{
		StaffID:    uuid.MustParse("00000000-0000-0000-0000-0000000000ff"),
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown staff err = %v, want %v", err, store.ErrNotFound)
	}

	_, _, err = s.CreateAppointment(context.Background(), CreateInput{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  uuid.MustParse("00000000-0000-0000-0000-0000000000fe"),
		StartTime:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown service err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestCreateAppointment_InactiveServiceRejected(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	svc.Active = false
	s := NewService(calendarRepo(&memCalendar{}, staff, svc), Options{})

	_, _, err := s.CreateAppointment(context.Background(), CreateInput{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %T (%v), want *ValidationError", err, err)
	}
}

func TestExpandRecurring_PartialSeriesTalliesSkips(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	seedStart := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	// Week 2 is already taken; weeks 1, 3, 4 are open.
	cal := &memCalendar{
		appts: []domain.Appointment{{
			StaffID:   staff.ID,
			StartTime: seedStart.AddDate(0, 0, 14),
			EndTime:   seedStart.AddDate(0, 0, 14).Add(time.Hour),
			Status:    domain.AppointmentStatusConfirmed,
		}},
	}
	s := NewService(calendarRepo(cal, staff, svc), Options{})

	seed := domain.Appointment{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  seedStart,
		EndTime:    seedStart.Add(time.Hour),
	}
	outcome, err := s.ExpandRecurring(context.Background(), seed, domain.RecurrencePatternWeekly, seedStart.AddDate(0, 0, 29))
	if err != nil {
		t.Fatalf("ExpandRecurring error: %v", err)
	}
	if outcome.Created != 3 {
		t.Fatalf("created = %d, want 3", outcome.Created)
	}
	if outcome.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", outcome.Skipped)
	}
}

func TestExpandRecurring_ClampsToLookaheadHorizon(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	cal := &memCalendar{}
	s := NewService(calendarRepo(cal, staff, svc), Options{})

	seedStart := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	seed := domain.Appointment{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  seedStart,
		EndTime:    seedStart.Add(time.Hour),
	}
	outcome, err := s.ExpandRecurring(context.Background(), seed, domain.RecurrencePatternMonthly, seedStart.AddDate(2, 0, 0))
	if err != nil {
		t.Fatalf("ExpandRecurring error: %v", err)
	}
	// 180-day horizon at 30-day steps: occurrences at +30 through +150 days.
	// The +180 candidate starts exactly on the exclusive horizon and is not
	// created.
	if outcome.Created != 5 {
		t.Fatalf("created = %d, want 5", outcome.Created)
	}
}

func TestExpandRecurring_EndBoundIsExclusive(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	cal := &memCalendar{}
	s := NewService(calendarRepo(cal, staff, svc), Options{})

	// Midnight seed with until at the converted next-midnight bound for an
	// end date one week out: the week-1 occurrence lands exactly on the bound
	// and must not be booked.
	seedStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	seed := domain.Appointment{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  seedStart,
		EndTime:    seedStart.Add(time.Hour),
	}
	outcome, err := s.ExpandRecurring(context.Background(), seed, domain.RecurrencePatternWeekly, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ExpandRecurring error: %v", err)
	}
	if outcome.Created != 0 || outcome.Skipped != 0 {
		t.Fatalf("outcome = %+v, want nothing created past the end date", outcome)
	}
	if got := len(cal.appts); got != 0 {
		t.Fatalf("store has %d occurrences, want 0", got)
	}
}

func TestGenerateSlots_FullDayScenario(t *testing.T) {
	staff := testStaff()
	repo := &fakeRepo{
		getStaffMemberFn: func(ctx context.Context, staffID uuid.UUID) (domain.StaffMember, error) {
			return staff, nil
		},
		activeAvailabilityFn: func(ctx context.Context, staffID uuid.UUID, weekday int) (domain.Availability, bool, error) {
			if weekday != int(time.Monday) {
				return domain.Availability{}, false, nil
			}
			return domain.Availability{StaffID: staffID, Weekday: weekday, StartClock: "09:00", EndClock: "18:00", Active: true}, true, nil
		},
	}
	s := NewService(repo, Options{})

	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	res, err := s.GenerateSlots(context.Background(), staff.ID, monday, 60)
	if err != nil {
		t.Fatalf("GenerateSlots error: %v", err)
	}
	if len(res.Slots) != 17 {
		t.Fatalf("len(slots) = %d, want 17 (09:00 through 17:00)", len(res.Slots))
	}
	if !res.Slots[0].Start.Equal(monday.Add(9 * time.Hour)) {
		t.Fatalf("first slot = %v, want 09:00", res.Slots[0].Start)
	}
	last := res.Slots[len(res.Slots)-1]
	if !last.Start.Equal(monday.Add(17 * time.Hour)) {
		t.Fatalf("last slot = %v, want 17:00", last.Start)
	}
}

func TestGenerateSlots_DayOffIsEmptyNotError(t *testing.T) {
	staff := testStaff()
	repo := &fakeRepo{
		getStaffMemberFn: func(ctx context.Context, staffID uuid.UUID) (domain.StaffMember, error) {
			return staff, nil
		},
		activeAvailabilityFn: func(ctx context.Context, staffID uuid.UUID, weekday int) (domain.Availability, bool, error) {
			return domain.Availability{}, false, nil
		},
	}
	s := NewService(repo, Options{})

	res, err := s.GenerateSlots(context.Background(), staff.ID, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), 30)
	if err != nil {
		t.Fatalf("GenerateSlots error: %v", err)
	}
	if len(res.Slots) != 0 {
		t.Fatalf("len(slots) = %d, want 0", len(res.Slots))
	}
	if res.Message == "" {
		t.Fatalf("expected a message for a day off")
	}
}

func TestGenerateSlots_UnconfiguredScheduleHidden(t *testing.T) {
	staff := testStaff()
	staff.ScheduleConfigured = false
	repo := &fakeRepo{
		getStaffMemberFn: func(ctx context.Context, staffID uuid.UUID) (domain.StaffMember, error) {
			return staff, nil
		},
		activeAvailabilityFn: func(ctx context.Context, staffID uuid.UUID, weekday int) (domain.Availability, bool, error) {
			t.Fatalf("availability must not be consulted for unconfigured staff")
			return domain.Availability{}, false, nil
		},
	}
	s := NewService(repo, Options{})

	res, err := s.GenerateSlots(context.Background(), staff.ID, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 30)
	if err != nil {
		t.Fatalf("GenerateSlots error: %v", err)
	}
	if len(res.Slots) != 0 || res.Message == "" {
		t.Fatalf("unconfigured staff must yield empty slots with a message, got %+v", res)
	}
}

type fakeSlotCache struct {
	getFn func(ctx context.Context, staffID uuid.UUID, date time.Time, durationMinutes int) ([]domain.Slot, bool)
	sets  int
}

func (f *fakeSlotCache) Get(ctx context.Context, staffID uuid.UUID, date time.Time, durationMinutes int) ([]domain.Slot, bool) {
	if f.getFn == nil {
		return nil, false
	}
	return f.getFn(ctx, staffID, date, durationMinutes)
}

func (f *fakeSlotCache) Set(ctx context.Context, staffID uuid.UUID, date time.Time, durationMinutes int, slots []domain.Slot) {
	f.sets++
}

func (f *fakeSlotCache) InvalidateDay(ctx context.Context, staffID uuid.UUID, date time.Time) {}

func TestGenerateSlots_CachedEmptyDayKeepsMessage(t *testing.T) {
	staff := testStaff()
	// Only the staff lookup is configured: a cache hit must short-circuit
	// before any schedule read.
	repo := &fakeRepo{
		getStaffMemberFn: func(ctx context.Context, staffID uuid.UUID) (domain.StaffMember, error) {
			return staff, nil
		},
	}
	cache := &fakeSlotCache{
		getFn: func(ctx context.Context, staffID uuid.UUID, date time.Time, durationMinutes int) ([]domain.Slot, bool) {
			return []domain.Slot{}, true
		},
	}
	s := NewService(repo, Options{SlotCache: cache})

	res, err := s.GenerateSlots(context.Background(), staff.ID, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 60)
	if err != nil {
		t.Fatalf("GenerateSlots error: %v", err)
	}
	if len(res.Slots) != 0 {
		t.Fatalf("len(slots) = %d, want 0", len(res.Slots))
	}
	if res.Message == "" {
		t.Fatalf("cached fully-booked day returned no message")
	}
	if cache.sets != 0 {
		t.Fatalf("cache.Set called %d times on a hit, want 0", cache.sets)
	}
}

func TestGenerateSlots_BookingExcludesIntersectingStartsOnly(t *testing.T) {
	staff := testStaff()
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	booked := domain.Appointment{
		StaffID:   staff.ID,
		StartTime: monday.Add(10 * time.Hour),
		EndTime:   monday.Add(11 * time.Hour),
		Status:    domain.AppointmentStatusPending,
	}
	repo := &fakeRepo{
		getStaffMemberFn: func(ctx context.Context, staffID uuid.UUID) (domain.StaffMember, error) {
			return staff, nil
		},
		activeAvailabilityFn: func(ctx context.Context, staffID uuid.UUID, weekday int) (domain.Availability, bool, error) {
			return domain.Availability{StaffID: staffID, Weekday: weekday, StartClock: "09:00", EndClock: "18:00", Active: true}, true, nil
		},
		listBlockingFn: func(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
			return []domain.Appointment{booked}, nil
		},
	}
	s := NewService(repo, Options{})

	res, err := s.GenerateSlots(context.Background(), staff.ID, monday, 30)
	if err != nil {
		t.Fatalf("GenerateSlots error: %v", err)
	}

	has := func(hour, min int) bool {
		want := monday.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
		for _, s := range res.Slots {
			if s.Start.Equal(want) {
				return true
			}
		}
		return false
	}
	if !has(9, 30) {
		t.Fatalf("09:30 must stay bookable: it ends exactly at the booked start")
	}
	if has(10, 0) || has(10, 30) {
		t.Fatalf("10:00 and 10:30 intersect the booked hour and must be excluded")
	}
	if !has(11, 0) {
		t.Fatalf("11:00 starts exactly at the booked end and must stay bookable")
	}
}

func TestGenerateSlots_Validation(t *testing.T) {
	s := NewService(&fakeRepo{}, Options{})

	_, err := s.GenerateSlots(context.Background(), uuid.Nil, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 30)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %T, want *ValidationError", err)
	}

	_, err = s.GenerateSlots(context.Background(), testStaff().ID, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 0)
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %T, want *ValidationError", err)
	}
}

func TestUpdateStatus_IdempotentCancellation(t *testing.T) {
	apptID := uuid.MustParse("00000000-0000-0000-0000-000000000010")
	calls := 0
	repo := &fakeRepo{
		updateStatusFn: func(ctx context.Context, appointmentID uuid.UUID, status domain.AppointmentStatus, reason string) (domain.Appointment, error) {
			calls++
			return domain.Appointment{
				ID:        appointmentID,
				StaffID:   testStaff().ID,
				StartTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
				EndTime:   time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
				Status:    domain.AppointmentStatusCancelled,
			}, nil
		},
	}
	s := NewService(repo, Options{})

	for i := 0; i < 2; i++ {
		appt, err := s.UpdateStatus(context.Background(), UpdateStatusInput{
			AppointmentID:      apptID,
			Status:             domain.AppointmentStatusCancelled,
			CancellationReason: "client asked",
		})
		if err != nil {
			t.Fatalf("UpdateStatus error on call %d: %v", i+1, err)
		}
		if appt.Status != domain.AppointmentStatusCancelled {
			t.Fatalf("status = %q, want cancelled", appt.Status)
		}
	}
	if calls != 2 {
		t.Fatalf("repo calls = %d, want 2", calls)
	}
}

func TestCreateAppointment_NotifierFailureDoesNotFailBooking(t *testing.T) {
	staff := testStaff()
	svc := testService60()
	cal := &memCalendar{}
	notified := make(chan struct{}, 1)
	s := NewService(calendarRepo(cal, staff, svc), Options{
		Notifier: notifierFunc(func(ctx context.Context, appt domain.Appointment) error {
			notified <- struct{}{}
			return errors.New("broker down")
		}),
	})

	_, _, err := s.CreateAppointment(context.Background(), CreateInput{
		StaffID:    staff.ID,
		CustomerID: "c1",
		ServiceID:  svc.ID,
		StartTime:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateAppointment error: %v", err)
	}

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatalf("notifier was not invoked")
	}
	if len(cal.appts) != 1 {
		t.Fatalf("committed rows = %d, want 1", len(cal.appts))
	}
}

type notifierFunc func(ctx context.Context, appt domain.Appointment) error

func (f notifierFunc) BookingConfirmed(ctx context.Context, appt domain.Appointment) error {
	return f(ctx, appt)
}
