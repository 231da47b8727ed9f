package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ledger/ledger/internal/platform/apperr"
	"github.com/ledger/ledger/internal/platform/events"
	"github.com/ledger/ledger/internal/platform/kv"
)

// Engine books and releases doctor time slots. It keeps no state of its own;
// every cross-key write is a WATCH/MULTI/EXEC transaction on an isolated
// connection, so it is safe for any number of concurrent callers.
type Engine struct {
	client    redis.UniversalClient
	publisher events.Publisher
	logger    zerolog.Logger
	newID     func() string
}

func NewEngine(client redis.UniversalClient, publisher events.Publisher, logger zerolog.Logger) *Engine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Engine{
		client:    client,
		publisher: publisher,
		logger:    logger.With().Str("component", "reservation_engine").Logger(),
		newID:     func() string { return uuid.New().String() },
	}
}

// Reserve books (doctor, dateTime) for a patient. Checks run in order and
// fail fast: doctor exists, patient exists, slot not already reserved, time
// of day within working hours. If any watched key changes before EXEC the
// booking is abandoned with ErrConcurrentModification and nothing is written.
func (e *Engine) Reserve(ctx context.Context, req Request) (*Reservation, error) {
	if req.DoctorID == "" || req.PatientID == "" || req.DateTime == "" {
		return nil, apperr.Validation("Some details are missing.")
	}
	tod, ok := TimeOfDay(req.DateTime)
	if !ok {
		return nil, apperr.Validation(`dateTime must be "<date> <time>"`)
	}

	doctorKey := kv.DoctorKey(req.DoctorID)
	patientKey := kv.PatientKey(req.PatientID)
	hoursKey := kv.WorkingHoursKey(req.DoctorID)
	resKey := kv.ReservationKey(req.DoctorID, req.DateTime)
	doctorIdx := kv.DoctorReservationsKey(req.DoctorID)
	patientIdx := kv.PatientReservationsKey(req.PatientID)

	var res *Reservation
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, doctorKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound(apperr.ErrDoctorNotFound, req.DoctorID)
		}

		n, err = tx.Exists(ctx, patientKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound(apperr.ErrPatientNotFound, req.PatientID)
		}

		reserved, err := tx.SIsMember(ctx, doctorIdx, resKey).Result()
		if err != nil {
			return err
		}
		if reserved {
			return apperr.ErrAlreadyReserved
		}

		working, err := tx.SIsMember(ctx, hoursKey, tod).Result()
		if err != nil {
			return err
		}
		if !working {
			return apperr.ErrOutsideWorkingHours
		}

		candidate := &Reservation{
			ID:        e.newID(),
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			DateTime:  req.DateTime,
		}
		err = kv.Commit(ctx, tx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, resKey, candidate.hash()...)
			pipe.SAdd(ctx, doctorIdx, resKey)
			pipe.SAdd(ctx, patientIdx, resKey)
			pipe.Set(ctx, kv.ReservationIDKey(candidate.ID), resKey, 0)
			return nil
		})
		if err != nil {
			return err
		}
		res = candidate
		return nil
	}

	if err := kv.Watch(ctx, e.client, "reserve", txf, doctorKey, patientKey, resKey, hoursKey); err != nil {
		e.logOutcome("reserve", err, req.DoctorID, req.DateTime)
		return nil, err
	}

	e.logger.Debug().
		Str("reservation_id", res.ID).
		Str("doctor_id", res.DoctorID).
		Str("patient_id", res.PatientID).
		Str("date_time", res.DateTime).
		Msg("reservation committed")
	e.publish(ctx, events.TypeReservationCreated, res)
	return res, nil
}

// Remove releases a reservation by id. All four artifacts (record, id
// lookup, doctor index entry, patient index entry) go in one EXEC. An id
// that no longer resolves reports ErrReservationNotFound.
func (e *Engine) Remove(ctx context.Context, id string) (*Reservation, error) {
	if id == "" {
		return nil, apperr.Validation("reservation id is required")
	}

	lookupKey := kv.ReservationIDKey(id)
	var res *Reservation
	dangling := false

	txf := func(tx *redis.Tx) error {
		resKey, err := tx.Get(ctx, lookupKey).Result()
		if errors.Is(err, redis.Nil) {
			return apperr.NotFound(apperr.ErrReservationNotFound, id)
		}
		if err != nil {
			return err
		}

		doctorID, dateTime, ok := kv.ParseReservationKey(resKey)
		if !ok {
			return apperr.Store("remove", fmt.Errorf("malformed reservation key %q under %s", resKey, lookupKey))
		}
		doctorIdx := kv.DoctorReservationsKey(doctorID)

		if err := tx.Watch(ctx, resKey, doctorIdx).Err(); err != nil {
			return err
		}
		h, err := tx.HGetAll(ctx, resKey).Result()
		if err != nil {
			return err
		}
		current := fromHash(h)

		if current == nil || current.ID != id {
			// The lookup outlived its record, or points at a slot that was
			// rebooked under a different id. Drop only the lookup and, when
			// the record is gone, the doctor index entry.
			dangling = true
			return kv.Commit(ctx, tx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, lookupKey)
				if current == nil {
					pipe.SRem(ctx, doctorIdx, resKey)
				}
				return nil
			})
		}

		patientIdx := kv.PatientReservationsKey(current.PatientID)
		if err := tx.Watch(ctx, patientIdx).Err(); err != nil {
			return err
		}

		err = kv.Commit(ctx, tx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, resKey)
			pipe.Del(ctx, lookupKey)
			pipe.SRem(ctx, doctorIdx, resKey)
			pipe.SRem(ctx, patientIdx, resKey)
			return nil
		})
		if err != nil {
			return err
		}
		if current.DateTime == "" {
			current.DateTime = dateTime
		}
		res = current
		return nil
	}

	if err := kv.Watch(ctx, e.client, "remove reservation", txf, lookupKey); err != nil {
		e.logOutcome("remove", err, id, "")
		return nil, err
	}
	if dangling {
		e.logger.Warn().Str("reservation_id", id).Msg("dangling reservation lookup repaired")
		return nil, apperr.NotFound(apperr.ErrReservationNotFound, id)
	}

	e.logger.Debug().Str("reservation_id", id).Msg("reservation removed")
	e.publish(ctx, events.TypeReservationRemoved, res)
	return res, nil
}

// Get resolves a reservation by id.
func (e *Engine) Get(ctx context.Context, id string) (*Reservation, error) {
	resKey, err := e.client.Get(ctx, kv.ReservationIDKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound(apperr.ErrReservationNotFound, id)
	}
	if err != nil {
		return nil, apperr.Store("get reservation", err)
	}
	h, err := e.client.HGetAll(ctx, resKey).Result()
	if err != nil {
		return nil, apperr.Store("get reservation", err)
	}
	res := fromHash(h)
	if res == nil {
		return nil, apperr.NotFound(apperr.ErrReservationNotFound, id)
	}
	return res, nil
}

// Availability reports a doctor's working hours and booked date-times. It is
// an advisory read outside any transaction; Reserve re-validates.
func (e *Engine) Availability(ctx context.Context, doctorID string) (*Availability, error) {
	var exists *redis.IntCmd
	var hours, booked *redis.StringSliceCmd
	_, err := e.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, kv.DoctorKey(doctorID))
		hours = pipe.SMembers(ctx, kv.WorkingHoursKey(doctorID))
		booked = pipe.SMembers(ctx, kv.DoctorReservationsKey(doctorID))
		return nil
	})
	if err != nil {
		return nil, apperr.Store("availability", err)
	}
	if exists.Val() == 0 {
		return nil, apperr.NotFound(apperr.ErrDoctorNotFound, doctorID)
	}

	av := &Availability{
		DoctorID:     doctorID,
		WorkingHours: hours.Val(),
		Reservations: make([]string, 0, len(booked.Val())),
	}
	for _, key := range booked.Val() {
		if _, dt, ok := kv.ParseReservationKey(key); ok {
			av.Reservations = append(av.Reservations, dt)
		}
	}
	sort.Strings(av.WorkingHours)
	sort.Strings(av.Reservations)
	return av, nil
}

// ListByDoctor returns the hydrated reservations of a doctor.
func (e *Engine) ListByDoctor(ctx context.Context, doctorID string) ([]*Reservation, error) {
	return e.listIndex(ctx, kv.DoctorKey(doctorID), kv.DoctorReservationsKey(doctorID), apperr.NotFound(apperr.ErrDoctorNotFound, doctorID))
}

// ListByPatient returns the hydrated reservations of a patient.
func (e *Engine) ListByPatient(ctx context.Context, patientID string) ([]*Reservation, error) {
	return e.listIndex(ctx, kv.PatientKey(patientID), kv.PatientReservationsKey(patientID), apperr.NotFound(apperr.ErrPatientNotFound, patientID))
}

func (e *Engine) listIndex(ctx context.Context, ownerKey, indexKey string, notFound error) ([]*Reservation, error) {
	n, err := e.client.Exists(ctx, ownerKey).Result()
	if err != nil {
		return nil, apperr.Store("list reservations", err)
	}
	if n == 0 {
		return nil, notFound
	}

	keys, err := e.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, apperr.Store("list reservations", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = e.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Store("list reservations", err)
	}

	out := make([]*Reservation, 0, len(keys))
	for _, cmd := range cmds {
		if res := fromHash(cmd.Val()); res != nil {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime < out[j].DateTime })
	return out, nil
}

// PublishRemoved announces reservations torn down by a directory cascade.
func (e *Engine) PublishRemoved(ctx context.Context, removed []*Reservation) {
	for _, res := range removed {
		e.publish(ctx, events.TypeReservationRemoved, res)
	}
}

func (e *Engine) publish(ctx context.Context, typ string, res *Reservation) {
	ctx = context.WithoutCancel(ctx)
	evt := events.New(typ, events.TopicReservations, res.ID, res)
	for _, topic := range []string{events.TopicReservations, events.DoctorTopic(res.DoctorID), events.PatientTopic(res.PatientID)} {
		if err := e.publisher.Publish(ctx, evt.WithTopic(topic)); err != nil {
			e.logger.Warn().Err(err).Str("type", typ).Str("topic", topic).Msg("event publish failed")
		}
	}
}

func (e *Engine) logOutcome(op string, err error, subject, dateTime string) {
	switch apperr.KindOf(err) {
	case apperr.KindStore, apperr.KindUnknown:
		e.logger.Error().Err(err).Str("op", op).Str("subject", subject).Msg("store error")
	case apperr.KindConflict:
		e.logger.Info().Str("op", op).Str("subject", subject).Str("date_time", dateTime).
			Str("code", apperr.CodeOf(err)).Msg("reservation conflict")
	}
}
