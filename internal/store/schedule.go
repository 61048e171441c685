package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"slotline/backend/internal/domain"
)

// RecurringExpansionLookahead caps how far a recurring series may extend past
// its seed appointment.
const RecurringExpansionLookahead = 180 * 24 * time.Hour

// ScheduleRepository is the durable schedule store. Reads outside a
// transaction are advisory; anything that decides whether a booking commits
// must run through InStaffTransaction.
type ScheduleRepository interface {
	GetService(ctx context.Context, serviceID uuid.UUID) (domain.Service, error)
	GetStaffMember(ctx context.Context, staffID uuid.UUID) (domain.StaffMember, error)

	// ActiveAvailability returns the single active window for the weekday.
	// Duplicate active rows are tie-broken deterministically: most recently
	// updated wins. ok is false when the day has no active window.
	ActiveAvailability(ctx context.Context, staffID uuid.UUID, weekday int) (domain.Availability, bool, error)

	ListBlockedSlots(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.BlockedSlot, error)
	// ListBlockingAppointments returns non-cancelled, non-no-show rows whose
	// half-open interval intersects [windowStart, windowEnd).
	ListBlockingAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	// ListAppointments returns rows of every status in the window.
	ListAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)

	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, status domain.AppointmentStatus, reason string) (domain.Appointment, error)

	// InStaffTransaction runs fn inside a transaction that holds the staff
	// member's calendar lock, serializing conflicting check-then-insert
	// sequences. Work for different staff members proceeds independently.
	InStaffTransaction(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx ScheduleTx) error) error
}

// ScheduleTx is the view of the store inside a staff calendar transaction.
type ScheduleTx interface {
	ListBlockingAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	ListBlockedSlots(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.BlockedSlot, error)
	InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
}
