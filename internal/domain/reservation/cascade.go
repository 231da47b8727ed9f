package reservation

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/ledger/ledger/internal/platform/kv"
)

// Cascade holds the reservations referenced by a doctor or patient index,
// read inside the caller's watched transaction so they can be torn down in
// the same EXEC that removes the owner.
type Cascade struct {
	reservations []*Reservation
	stale        []string
	indexKey     string
}

// LoadCascade reads every reservation listed in indexKey. The caller must
// already watch indexKey; the reservation records are watched here before
// they are read.
func LoadCascade(ctx context.Context, tx *redis.Tx, indexKey string) (*Cascade, error) {
	c := &Cascade{indexKey: indexKey}

	keys, err := tx.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return c, nil
	}
	if err := tx.Watch(ctx, keys...).Err(); err != nil {
		return nil, err
	}

	for _, key := range keys {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		res := fromHash(h)
		if res == nil {
			c.stale = append(c.stale, key)
			continue
		}
		if res.DoctorID == "" || res.DateTime == "" {
			res.DoctorID, res.DateTime, _ = kv.ParseReservationKey(key)
		}
		c.reservations = append(c.reservations, res)
	}
	return c, nil
}

// Queue appends the teardown of every loaded reservation to pipe: the record,
// its id lookup and both index entries.
func (c *Cascade) Queue(ctx context.Context, pipe redis.Pipeliner) {
	for _, res := range c.reservations {
		key := kv.ReservationKey(res.DoctorID, res.DateTime)
		pipe.Del(ctx, key, kv.ReservationIDKey(res.ID))
		pipe.SRem(ctx, kv.DoctorReservationsKey(res.DoctorID), key)
		if res.PatientID != "" {
			pipe.SRem(ctx, kv.PatientReservationsKey(res.PatientID), key)
		}
	}
	if len(c.stale) > 0 {
		members := make([]interface{}, len(c.stale))
		for i, k := range c.stale {
			members[i] = k
		}
		pipe.SRem(ctx, c.indexKey, members...)
	}
}

// Reservations returns the loaded reservations.
func (c *Cascade) Reservations() []*Reservation { return c.reservations }

// Len reports how many reservations will be torn down.
func (c *Cascade) Len() int { return len(c.reservations) }
