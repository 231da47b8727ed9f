package patient

import (
	"context"
	"errors"
	"iter"

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

func (r *redisRepository) Create(ctx context.Context, p *Patient) error {
	if err := r.client.HSet(ctx, kv.PatientKey(p.ID), p.hash()...).Err(); err != nil {
		return apperr.Store("create patient", err)
	}
	return nil
}

func (r *redisRepository) Get(ctx context.Context, id string) (*Patient, error) {
	h, err := r.client.HGetAll(ctx, kv.PatientKey(id)).Result()
	if err != nil {
		return nil, apperr.Store("get patient", err)
	}
	p := fromHash(h)
	if p == nil {
		return nil, apperr.NotFound(apperr.ErrPatientNotFound, id)
	}
	return p, nil
}

func (r *redisRepository) Delete(ctx context.Context, id string) ([]*reservation.Reservation, error) {
	patientKey := kv.PatientKey(id)
	indexKey := kv.PatientReservationsKey(id)

	var removed []*reservation.Reservation
	err := kv.Watch(ctx, r.client, "delete patient", func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, patientKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound(apperr.ErrPatientNotFound, id)
		}

		cascade, err := reservation.LoadCascade(ctx, tx, indexKey)
		if err != nil {
			return err
		}
		err = kv.Commit(ctx, tx, func(pipe redis.Pipeliner) error {
			cascade.Queue(ctx, pipe)
			pipe.Del(ctx, patientKey, indexKey)
			return nil
		})
		if err != nil {
			return err
		}
		removed = cascade.Reservations()
		return nil
	}, patientKey, indexKey)
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *redisRepository) List(ctx context.Context) iter.Seq2[*Patient, error] {
	return func(yield func(*Patient, error) bool) {
		for key, err := range kv.Scan(ctx, r.client, kv.PatientPattern) {
			if err != nil {
				yield(nil, err)
				return
			}
			p, err := r.Get(ctx, kv.IDFromKey(key))
			if errors.Is(err, apperr.ErrPatientNotFound) {
				continue
			}
			if !yield(p, err) || err != nil {
				return
			}
		}
	}
}
