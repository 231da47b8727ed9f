package doctor

import (
	"context"
	"errors"
	"iter"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/ledger/ledger/internal/domain/reservation"
	"github.com/ledger/ledger/internal/platform/apperr"
	"github.com/ledger/ledger/internal/platform/kv"
)

type redisRepository struct {
	client redis.UniversalClient
}

func NewRedisRepository(client redis.UniversalClient) Repository {
	return &redisRepository{client: client}
}

func (r *redisRepository) Create(ctx context.Context, d *Doctor) error {
	hours := make([]interface{}, len(d.WorkingHours))
	for i, h := range d.WorkingHours {
		hours[i] = h
	}
	return kv.Atomic(ctx, r.client, "create doctor", func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, kv.DoctorKey(d.ID), d.hash()...)
		pipe.SAdd(ctx, kv.WorkingHoursKey(d.ID), hours...)
		return nil
	})
}

func (r *redisRepository) Get(ctx context.Context, id string) (*Doctor, error) {
	var fields *redis.MapStringStringCmd
	var hours *redis.StringSliceCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, kv.DoctorKey(id))
		hours = pipe.SMembers(ctx, kv.WorkingHoursKey(id))
		return nil
	})
	if err != nil {
		return nil, apperr.Store("get doctor", err)
	}
	h := fields.Val()
	if len(h) == 0 {
		return nil, apperr.NotFound(apperr.ErrDoctorNotFound, id)
	}
	wh := hours.Val()
	sort.Strings(wh)
	return &Doctor{
		ID:             id,
		Name:           h["name"],
		Specialization: h["specialization"],
		WorkingHours:   wh,
	}, nil
}

func (r *redisRepository) Delete(ctx context.Context, id string) ([]*reservation.Reservation, error) {
	doctorKey := kv.DoctorKey(id)
	hoursKey := kv.WorkingHoursKey(id)
	indexKey := kv.DoctorReservationsKey(id)

	var removed []*reservation.Reservation
	err := kv.Watch(ctx, r.client, "delete doctor", func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, doctorKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound(apperr.ErrDoctorNotFound, id)
		}

		cascade, err := reservation.LoadCascade(ctx, tx, indexKey)
		if err != nil {
			return err
		}
		err = kv.Commit(ctx, tx, func(pipe redis.Pipeliner) error {
			cascade.Queue(ctx, pipe)
			pipe.Del(ctx, doctorKey, hoursKey, indexKey)
			return nil
		})
		if err != nil {
			return err
		}
		removed = cascade.Reservations()
		return nil
	}, doctorKey, hoursKey, indexKey)
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// List scans doctor:* lazily. Doctors deleted between the scan and the fetch
// are skipped.
func (r *redisRepository) List(ctx context.Context) iter.Seq2[*Doctor, error] {
	return func(yield func(*Doctor, error) bool) {
		for key, err := range kv.Scan(ctx, r.client, kv.DoctorPattern) {
			if err != nil {
				yield(nil, err)
				return
			}
			d, err := r.Get(ctx, kv.IDFromKey(key))
			if errors.Is(err, apperr.ErrDoctorNotFound) {
				continue
			}
			if !yield(d, err) || err != nil {
				return
			}
		}
	}
}

func (r *redisRepository) WorkingHours(ctx context.Context, id string) ([]string, error) {
	hours, err := r.client.SMembers(ctx, kv.WorkingHoursKey(id)).Result()
	if err != nil {
		return nil, apperr.Store("working hours", err)
	}
	sort.Strings(hours)
	return hours, nil
}

func (r *redisRepository) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, kv.DoctorKey(id)).Result()
	if err != nil {
		return false, apperr.Store("doctor exists", err)
	}
	return n > 0, nil
}
