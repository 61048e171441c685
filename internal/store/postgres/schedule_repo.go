package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"slotline/backend/internal/domain"
	"slotline/backend/internal/store"
)

// lockWaitTimeout bounds how long a booking transaction waits for the staff
// calendar lock before surfacing a retryable failure instead of hanging.
const lockWaitTimeout = "3s"

type ScheduleRepo struct {
	db *bun.DB
}

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

type scheduleTx struct {
	tx bun.Tx
}

func (r *ScheduleRepo) GetService(ctx context.Context, serviceID uuid.UUID) (domain.Service, error) {
	var svc domain.Service
	err := r.db.NewSelect().
		Model(&svc).
		Where("id = ?", serviceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Service{}, store.ErrNotFound
		}
		return domain.Service{}, err
	}
	return svc, nil
}

func (r *ScheduleRepo) GetStaffMember(ctx context.Context, staffID uuid.UUID) (domain.StaffMember, error) {
	var m domain.StaffMember
	err := r.db.NewSelect().
		Model(&m).
		Where("id = ?", staffID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StaffMember{}, store.ErrNotFound
		}
		return domain.StaffMember{}, err
	}
	return m, nil
}

// ActiveAvailability picks the newest active window when the schema holds
// duplicate rows for one (staff, weekday). The data model does not enforce
// uniqueness, so the tie-break must be deterministic.
func (r *ScheduleRepo) ActiveAvailability(ctx context.Context, staffID uuid.UUID, weekday int) (domain.Availability, bool, error) {
	var a domain.Availability
	err := r.db.NewSelect().
		Model(&a).
		Where("staff_id = ?", staffID).
		Where("weekday = ?", weekday).
		Where("active = TRUE").
		OrderExpr("updated_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Availability{}, false, nil
		}
		return domain.Availability{}, false, err
	}
	return a, true, nil
}

func (r *ScheduleRepo) ListBlockedSlots(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.BlockedSlot, error) {
	var rows []domain.BlockedSlot
	err := r.db.NewSelect().
		Model(&rows).
		Where("staff_id = ?", staffID).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) ListBlockingAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("staff_id = ?", staffID).
		Where("status NOT IN (?)", bun.In([]domain.AppointmentStatus{domain.AppointmentStatusCancelled, domain.AppointmentStatusNoShow})).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) ListAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("staff_id = ?", staffID).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepo) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := r.db.NewSelect().
		Model(&a).
		Where("id = ?", appointmentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return a, nil
}

// UpdateAppointmentStatus applies a status transition under a row lock.
// Re-applying the current status is a no-op success, which makes concurrent
// cancellations of the same appointment both succeed exactly once.
// A transition that would put a released interval back into contention
// (cancelled or no-show back to a blocking status) is refused; re-booking
// must go through the booking transaction.
func (r *ScheduleRepo) UpdateAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, status domain.AppointmentStatus, reason string) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var current domain.Appointment
		err := tx.NewSelect().
			Model(&current).
			Where("id = ?", appointmentID).
			For("UPDATE").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return mapPgError(err)
		}

		if current.Status == status {
			out = current
			return nil
		}
		if !current.Status.Blocking() && status.Blocking() {
			return store.ErrConflict
		}

		current.Status = status
		if status == domain.AppointmentStatusCancelled || status == domain.AppointmentStatusNoShow {
			current.CancellationReason = reason
		}
		_, err = tx.NewUpdate().
			Model(&current).
			Column("status", "cancellation_reason", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return mapPgError(err)
		}
		out = current
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

// InStaffTransaction serializes conflicting bookings on one staff calendar
// with a transaction-scoped advisory lock. Different staff members hash to
// different locks and never block each other.
func (r *ScheduleRepo) InStaffTransaction(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("SET LOCAL lock_timeout = ?", lockWaitTimeout).Exec(ctx); err != nil {
			return err
		}
		if err := lockStaffCalendar(ctx, tx, staffID); err != nil {
			return err
		}
		return fn(ctx, scheduleTx{tx: tx})
	})
	return mapPgError(err)
}

func lockStaffCalendar(ctx context.Context, tx bun.Tx, staffID uuid.UUID) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", staffID.String()).Exec(ctx)
	return err
}

func (t scheduleTx) ListBlockingAppointments(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := t.tx.NewSelect().
		Model(&rows).
		Where("staff_id = ?", staffID).
		Where("status NOT IN (?)", bun.In([]domain.AppointmentStatus{domain.AppointmentStatusCancelled, domain.AppointmentStatusNoShow})).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t scheduleTx) ListBlockedSlots(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.BlockedSlot, error) {
	var rows []domain.BlockedSlot
	err := t.tx.NewSelect().
		Model(&rows).
		Where("staff_id = ?", staffID).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t scheduleTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := domain.Appointment{
		ID:         appt.ID,
		StaffID:    appt.StaffID,
		CustomerID: appt.CustomerID,
		ServiceID:  appt.ServiceID,
		StartTime:  appt.StartTime,
		EndTime:    appt.EndTime,
		Status:     appt.Status,
		Notes:      appt.Notes,
		CreatedAt:  appt.CreatedAt,
		UpdatedAt:  appt.UpdatedAt,
	}

	_, err := t.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// The exclusion constraint is the store-level backstop: even a
			// write that somehow ran without the calendar lock cannot commit
			// an overlap.
			if pgErr.Code == "23P01" && pgErr.ConstraintName == "appointments_no_overlap" {
				return domain.Appointment{}, store.ErrConflict
			}
			if pgErr.Code == "23503" {
				return domain.Appointment{}, store.ErrNotFound
			}
		}
		return domain.Appointment{}, mapPgError(err)
	}

	appt.ID = m.ID
	appt.CreatedAt = m.CreatedAt
	appt.UpdatedAt = m.UpdatedAt
	return appt, nil
}

// mapPgError folds transient concurrency failures into the store's retryable
// sentinel: serialization_failure, deadlock_detected, lock_not_available.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return store.ErrSerialization
		}
	}
	return err
}
