package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"slotline/backend/internal/domain"
)

// SlotCache keeps recently computed slot listings in Redis for a short TTL.
// The listing is advisory and tolerates staleness, so every failure here is
// treated as a miss; the store stays the source of truth.
type SlotCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewSlotCache(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *SlotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &SlotCache{
		rdb: rdb,
		ttl: ttl,
		log: log.With(slog.String("component", "slot_cache")),
	}
}

type cachedSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func slotKey(staffID uuid.UUID, date time.Time, durationMinutes int) string {
	return "slots:" + staffID.String() + ":" + date.Format("2006-01-02") + ":" + strconv.Itoa(durationMinutes)
}

func dayPattern(staffID uuid.UUID, date time.Time) string {
	return "slots:" + staffID.String() + ":" + date.Format("2006-01-02") + ":*"
}

func (c *SlotCache) Get(ctx context.Context, staffID uuid.UUID, date time.Time, durationMinutes int) ([]domain.Slot, bool) {
	raw, err := c.rdb.Get(ctx, slotKey(staffID, date, durationMinutes)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("cache read failed", slog.Any("err", err))
		}
		return nil, false
	}

	var rows []cachedSlot
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false
	}
	slots := make([]domain.Slot, 0, len(rows))
	for _, r := range rows {
		slots = append(slots, domain.Slot{Start: r.Start, End: r.End})
	}
	return slots, true
}

func (c *SlotCache) Set(ctx context.Context, staffID uuid.UUID, date time.Time, durationMinutes int, slots []domain.Slot) {
	rows := make([]cachedSlot, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, cachedSlot{Start: s.Start, End: s.End})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, slotKey(staffID, date, durationMinutes), raw, c.ttl).Err(); err != nil {
		c.log.Debug("cache write failed", slog.Any("err", err))
	}
}

// InvalidateDay drops every cached duration for the staff member's day after
// a booking or cancellation changes it.
func (c *SlotCache) InvalidateDay(ctx context.Context, staffID uuid.UUID, date time.Time) {
	iter := c.rdb.Scan(ctx, 0, dayPattern(staffID, date), 64).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Debug("cache scan failed", slog.Any("err", err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Debug("cache invalidation failed", slog.Any("err", err))
	}
}
