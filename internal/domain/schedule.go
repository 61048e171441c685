package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Availability is a recurring weekly working window. Start and end are naive
// wall-clock "HH:MM" strings resolved against the query date; Weekday follows
// time.Weekday numbering (0 = Sunday). The schema does not enforce uniqueness
// per (staff, weekday); readers tie-break on updated_at, most recent first.
type Availability struct {
	bun.BaseModel `bun:"table:availability"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	StaffID    uuid.UUID `bun:"staff_id,notnull,type:uuid"`
	Weekday    int       `bun:"weekday,notnull"`
	StartClock string    `bun:"start_clock,notnull"`
	EndClock   string    `bun:"end_clock,notnull"`
	Active     bool      `bun:"active,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

// Window resolves the wall-clock bounds to minute offsets from midnight.
func (a *Availability) Window() (startMin, endMin int, err error) {
	startMin, err = ParseClockMinutes(a.StartClock)
	if err != nil {
		return 0, 0, err
	}
	endMin, err = ParseClockMinutes(a.EndClock)
	if err != nil {
		return 0, 0, err
	}
	return startMin, endMin, nil
}

func (a *Availability) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// BlockedSlot is an owner-declared unavailable interval. It always wins over
// an otherwise-open availability window.
type BlockedSlot struct {
	bun.BaseModel `bun:"table:blocked_slots"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	StaffID   uuid.UUID `bun:"staff_id,notnull,type:uuid"`
	StartTime time.Time `bun:"start_time,notnull"`
	EndTime   time.Time `bun:"end_time,notnull"`
	Reason    string    `bun:"reason"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (b *BlockedSlot) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

func (b *BlockedSlot) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}
