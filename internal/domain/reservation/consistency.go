package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ledger/ledger/internal/platform/apperr"
	"github.com/ledger/ledger/internal/platform/kv"
)

// Violation describes one broken link between the four reservation
// artifacts or between a reservation and the directory.
type Violation struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

func (v Violation) String() string { return v.Key + ": " + v.Reason }

// Verify walks the keyspace and reports every reservation whose record, id
// lookup, doctor index entry and patient index entry do not all agree. It
// reads outside any transaction, so it should run against a quiescent store
// or be treated as advisory.
func Verify(ctx context.Context, client redis.UniversalClient) ([]Violation, error) {
	var out []Violation
	add := func(key, format string, args ...any) {
		out = append(out, Violation{Key: key, Reason: fmt.Sprintf(format, args...)})
	}

	for key, err := range kv.Scan(ctx, client, kv.ReservationPattern) {
		if err != nil {
			return out, err
		}
		doctorID, dateTime, ok := kv.ParseReservationKey(key)
		if !ok {
			add(key, "malformed reservation key")
			continue
		}
		h, err := client.HGetAll(ctx, key).Result()
		if err != nil {
			return out, apperr.Store("verify", err)
		}
		res := fromHash(h)
		if res == nil {
			continue
		}
		if res.DoctorID != doctorID || res.DateTime != dateTime {
			add(key, "record fields %s/%s do not match key", res.DoctorID, res.DateTime)
		}

		target, err := client.Get(ctx, kv.ReservationIDKey(res.ID)).Result()
		switch {
		case errors.Is(err, redis.Nil):
			add(key, "missing id lookup %s", kv.ReservationIDKey(res.ID))
		case err != nil:
			return out, apperr.Store("verify", err)
		case target != key:
			add(key, "id lookup points at %s", target)
		}

		checks := []struct {
			set, what string
		}{
			{kv.DoctorReservationsKey(doctorID), "doctor index"},
			{kv.PatientReservationsKey(res.PatientID), "patient index"},
		}
		for _, c := range checks {
			member, err := client.SIsMember(ctx, c.set, key).Result()
			if err != nil {
				return out, apperr.Store("verify", err)
			}
			if !member {
				add(key, "not in %s %s", c.what, c.set)
			}
		}

		owners := []string{kv.DoctorKey(doctorID), kv.PatientKey(res.PatientID)}
		for _, owner := range owners {
			n, err := client.Exists(ctx, owner).Result()
			if err != nil {
				return out, apperr.Store("verify", err)
			}
			if n == 0 {
				add(key, "references missing %s", owner)
			}
		}
	}

	for lookup, err := range kv.Scan(ctx, client, kv.ReservationIDPattern) {
		if err != nil {
			return out, err
		}
		target, err := client.Get(ctx, lookup).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return out, apperr.Store("verify", err)
		}
		h, err := client.HGet(ctx, target, "id").Result()
		if errors.Is(err, redis.Nil) {
			add(lookup, "points at missing record %s", target)
			continue
		}
		if err != nil {
			return out, apperr.Store("verify", err)
		}
		if id := strings.TrimPrefix(lookup, kv.ReservationIDKey("")); h != id {
			add(lookup, "record %s carries id %s", target, h)
		}
	}

	for _, pattern := range []string{kv.DoctorReservationsPattern, kv.PatientReservationsPattern} {
		for index, err := range kv.Scan(ctx, client, pattern) {
			if err != nil {
				return out, err
			}
			members, err := client.SMembers(ctx, index).Result()
			if err != nil {
				return out, apperr.Store("verify", err)
			}
			for _, m := range members {
				n, err := client.Exists(ctx, m).Result()
				if err != nil {
					return out, apperr.Store("verify", err)
				}
				if n == 0 {
					add(index, "lists missing record %s", m)
				}
			}
		}
	}
	return out, nil
}
