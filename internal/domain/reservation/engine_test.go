package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ledger/ledger/internal/platform/apperr"
	"github.com/ledger/ledger/internal/platform/events"
	"github.com/ledger/ledger/internal/platform/kv"
	"github.com/ledger/ledger/internal/platform/kv/kvtest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func seedDoctor(t *testing.T, client *redis.Client, id string, hours ...string) {
	t.Helper()
	ctx := context.Background()
	if err := client.HSet(ctx, kv.DoctorKey(id), "id", id, "name", "Dr "+id, "specialization", "general").Err(); err != nil {
		t.Fatalf("seed doctor: %v", err)
	}
	members := make([]interface{}, len(hours))
	for i, h := range hours {
		members[i] = h
	}
	if len(members) > 0 {
		if err := client.SAdd(ctx, kv.WorkingHoursKey(id), members...).Err(); err != nil {
			t.Fatalf("seed working hours: %v", err)
		}
	}
}

func seedPatient(t *testing.T, client *redis.Client, id string) {
	t.Helper()
	if err := client.HSet(context.Background(), kv.PatientKey(id), "id", id, "name", "P "+id, "age", "30", "address", "Main St").Err(); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
}

func newTestEngine(t *testing.T) (*Engine, *redis.Client, *recordingPublisher) {
	t.Helper()
	_, client := kvtest.New(t)
	pub := &recordingPublisher{}
	return NewEngine(client, pub, zerolog.Nop()), client, pub
}

func sortedKeys(t *testing.T, client *redis.Client) []string {
	t.Helper()
	keys, err := client.Keys(context.Background(), "*").Result()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	return keys
}

func assertConsistent(t *testing.T, client *redis.Client) {
	t.Helper()
	violations, err := Verify(context.Background(), client)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	for _, v := range violations {
		t.Errorf("inconsistent: %s", v)
	}
}

func TestReserve_Success(t *testing.T) {
	eng, client, pub := newTestEngine(t)
	seedDoctor(t, client, "d1", "10:00", "11:00")
	seedPatient(t, client, "p1")
	eng.newID = func() string { return "r1" }
	ctx := context.Background()

	res, err := eng.Reserve(ctx, Request{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 10:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != "r1" || res.Key() != "reservation:d1:2024-01-01 10:00" {
		t.Fatalf("unexpected reservation %+v", res)
	}

	h, _ := client.HGetAll(ctx, res.Key()).Result()
	if h["id"] != "r1" || h["doctorId"] != "d1" || h["patientId"] != "p1" || h["dateTime"] != "2024-01-01 10:00" {
		t.Errorf("unexpected record %v", h)
	}
	if ok, _ := client.SIsMember(ctx, "doctorReservations:d1", res.Key()).Result(); !ok {
		t.Error("expected doctor index entry")
	}
	if ok, _ := client.SIsMember(ctx, "patientReservations:p1", res.Key()).Result(); !ok {
		t.Error("expected patient index entry")
	}
	if got, _ := client.Get(ctx, "reservationId:r1").Result(); got != res.Key() {
		t.Errorf("expected lookup to point at %s, got %s", res.Key(), got)
	}
	assertConsistent(t, client)

	if len(pub.events) != 3 {
		t.Fatalf("expected 3 events (global, doctor, patient), got %d", len(pub.events))
	}
	topics := map[string]bool{}
	for _, e := range pub.events {
		if e.Type != events.TypeReservationCreated {
			t.Errorf("unexpected event type %s", e.Type)
		}
		topics[e.Topic] = true
	}
	for _, want := range []string{events.TopicReservations, events.DoctorTopic("d1"), events.PatientTopic("p1")} {
		if !topics[want] {
			t.Errorf("missing event on topic %s", want)
		}
	}
}

func TestReserve_Validation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	cases := []Request{
		{PatientID: "p1", DateTime: "2024-01-01 10:00"},
		{DoctorID: "d1", DateTime: "2024-01-01 10:00"},
		{DoctorID: "d1", PatientID: "p1"},
		{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01T10:00"},
	}
	for _, req := range cases {
		_, err := eng.Reserve(context.Background(), req)
		if apperr.KindOf(err) != apperr.KindValidation {
			t.Errorf("%+v: expected validation error, got %v", req, err)
		}
	}
}

func TestReserve_CheckOrder(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	ctx := context.Background()

	// Doctor is checked before patient.
	_, err := eng.Reserve(ctx, Request{DoctorID: "nope", PatientID: "nope", DateTime: "2024-01-01 10:00"})
	if !errors.Is(err, apperr.ErrDoctorNotFound) {
		t.Fatalf("expected doctor not found, got %v", err)
	}

	seedDoctor(t, client, "d1", "10:00")
	_, err = eng.Reserve(ctx, Request{DoctorID: "d1", PatientID: "nope", DateTime: "2024-01-01 09:00"})
	if !errors.Is(err, apperr.ErrPatientNotFound) {
		t.Fatalf("expected patient not found, got %v", err)
	}

	seedPatient(t, client, "p1")
	_, err = eng.Reserve(ctx, Request{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 09:00"})
	if !errors.Is(err, apperr.ErrOutsideWorkingHours) {
		t.Fatalf("expected outside working hours, got %v", err)
	}

	if _, err := eng.Reserve(ctx, Request{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 10:00"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = eng.Reserve(ctx, Request{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 10:00"})
	if !errors.Is(err, apperr.ErrAlreadyReserved) {
		t.Fatalf("expected already reserved, got %v", err)
	}
}

func TestReserve_FailureWritesNothing(t *testing.T) {
	eng, client, pub := newTestEngine(t)
	seedDoctor(t, client, "d1", "10:00")
	seedPatient(t, client, "p1")
	before := sortedKeys(t, client)

	ctx := context.Background()
	failing := []Request{
		{DoctorID: "ghost", PatientID: "p1", DateTime: "2024-01-01 10:00"},
		{DoctorID: "d1", PatientID: "ghost", DateTime: "2024-01-01 10:00"},
		{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 12:00"},
	}
	for _, req := range failing {
		if _, err := eng.Reserve(ctx, req); err == nil {
			t.Fatalf("%+v: expected error", req)
		}
	}

	after := sortedKeys(t, client)
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Errorf("keyspace changed: before=%v after=%v", before, after)
	}
	if len(pub.events) != 0 {
		t.Errorf("expected no events, got %d", len(pub.events))
	}
}

func TestReserve_ConcurrentExactlyOneWinner(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	seedDoctor(t, client, "d1", "10:00")
	const n = 16
	for i := 0; i < n; i++ {
		seedPatient(t, client, fmt.Sprintf("p%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = eng.Reserve(context.Background(), Request{
				DoctorID:  "d1",
				PatientID: fmt.Sprintf("p%d", i),
				DateTime:  "2024-01-01 10:00",
			})
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, apperr.ErrAlreadyReserved), errors.Is(err, apperr.ErrConcurrentModification):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	members, _ := client.SMembers(context.Background(), kv.DoctorReservationsKey("d1")).Result()
	if len(members) != 1 {
		t.Errorf("expected one doctor index entry, got %v", members)
	}
	lookups, _ := client.Keys(context.Background(), kv.ReservationIDPattern).Result()
	if len(lookups) != 1 {
		t.Errorf("expected one id lookup, got %v", lookups)
	}
	assertConsistent(t, client)
}

func TestReserve_CancelledContextWritesNothing(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	seedDoctor(t, client, "d1", "10:00")
	seedPatient(t, client, "p1")
	before := sortedKeys(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.Reserve(ctx, Request{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 10:00"})
	if apperr.KindOf(err) != apperr.KindStore {
		t.Fatalf("expected store error, got %v", err)
	}
	if after := sortedKeys(t, client); fmt.Sprint(before) != fmt.Sprint(after) {
		t.Errorf("keyspace changed: %v", after)
	}
}

func TestReserve_StoreErrorIsNormalized(t *testing.T) {
	srv, client := kvtest.New(t)
	eng := NewEngine(client, nil, zerolog.Nop())
	srv.SetError("LOADING")

	_, err := eng.Reserve(context.Background(), Request{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 10:00"})
	if apperr.KindOf(err) != apperr.KindStore {
		t.Fatalf("expected store error, got %v", err)
	}
	if apperr.HTTPStatus(err) != 500 {
		t.Errorf("expected 500, got %d", apperr.HTTPStatus(err))
	}
}

func TestRemove_ThenRebook(t *testing.T) {
	eng, client, pub := newTestEngine(t)
	seedDoctor(t, client, "d1", "10:00")
	seedPatient(t, client, "p1")
	ctx := context.Background()
	req := Request{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 10:00"}

	first, err := eng.Reserve(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	removed, err := eng.Remove(ctx, first.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed.PatientID != "p1" {
		t.Errorf("expected removed reservation for p1, got %+v", removed)
	}

	for _, key := range []string{first.Key(), kv.ReservationIDKey(first.ID)} {
		if n, _ := client.Exists(ctx, key).Result(); n != 0 {
			t.Errorf("expected %s to be deleted", key)
		}
	}
	for _, set := range []string{kv.DoctorReservationsKey("d1"), kv.PatientReservationsKey("p1")} {
		if ok, _ := client.SIsMember(ctx, set, first.Key()).Result(); ok {
			t.Errorf("expected %s to no longer list the reservation", set)
		}
	}
	if pub.events[len(pub.events)-1].Type != events.TypeReservationRemoved {
		t.Errorf("expected removal event last, got %s", pub.events[len(pub.events)-1].Type)
	}

	second, err := eng.Reserve(ctx, req)
	if err != nil {
		t.Fatalf("rebooking a released slot: %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a fresh reservation id")
	}

	_, err = eng.Remove(ctx, first.ID)
	if !errors.Is(err, apperr.ErrReservationNotFound) {
		t.Fatalf("expected not found for a released id, got %v", err)
	}
	assertConsistent(t, client)
}

func TestRemove_Unknown(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	_, err := eng.Remove(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrReservationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if keys := sortedKeys(t, client); len(keys) != 0 {
		t.Errorf("expected empty keyspace, got %v", keys)
	}

	_, err = eng.Remove(context.Background(), "")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for empty id, got %v", err)
	}
}

func TestRemove_DanglingLookupIsRepaired(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	ctx := context.Background()
	key := kv.ReservationKey("d1", "2024-01-01 10:00")
	client.Set(ctx, kv.ReservationIDKey("r1"), key, 0)
	client.SAdd(ctx, kv.DoctorReservationsKey("d1"), key)

	_, err := eng.Remove(ctx, "r1")
	if !errors.Is(err, apperr.ErrReservationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if n, _ := client.Exists(ctx, kv.ReservationIDKey("r1")).Result(); n != 0 {
		t.Error("expected dangling lookup to be deleted")
	}
	if ok, _ := client.SIsMember(ctx, kv.DoctorReservationsKey("d1"), key).Result(); ok {
		t.Error("expected stale doctor index entry to be removed")
	}
}

func TestRemove_ConcurrentOnlyOneSucceeds(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	seedDoctor(t, client, "d1", "10:00")
	seedPatient(t, client, "p1")
	res, err := eng.Reserve(context.Background(), Request{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 10:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Remove(context.Background(), res.ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrReservationNotFound), errors.Is(err, apperr.ErrConcurrentModification):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one successful removal, got %d", ok)
	}
	assertConsistent(t, client)
}

func TestGet(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	seedDoctor(t, client, "d1", "10:00")
	seedPatient(t, client, "p1")
	res, err := eng.Reserve(context.Background(), Request{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 10:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := eng.Get(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got != *res {
		t.Errorf("got %+v, want %+v", got, res)
	}

	if _, err := eng.Get(context.Background(), "missing"); !errors.Is(err, apperr.ErrReservationNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAvailabilityAndListings(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	seedDoctor(t, client, "d1", "11:00", "10:00")
	seedPatient(t, client, "p1")
	seedPatient(t, client, "p2")
	ctx := context.Background()

	for _, r := range []Request{
		{DoctorID: "d1", PatientID: "p2", DateTime: "2024-01-02 11:00"},
		{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 10:00"},
	} {
		if _, err := eng.Reserve(ctx, r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	av, err := eng.Availability(ctx, "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(av.WorkingHours) != "[10:00 11:00]" {
		t.Errorf("unexpected working hours %v", av.WorkingHours)
	}
	if fmt.Sprint(av.Reservations) != "[2024-01-01 10:00 2024-01-02 11:00]" {
		t.Errorf("unexpected reservations %v", av.Reservations)
	}

	byDoctor, err := eng.ListByDoctor(ctx, "d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byDoctor) != 2 || byDoctor[0].DateTime != "2024-01-01 10:00" {
		t.Errorf("unexpected doctor listing %+v", byDoctor)
	}

	byPatient, err := eng.ListByPatient(ctx, "p2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byPatient) != 1 || byPatient[0].DateTime != "2024-01-02 11:00" {
		t.Errorf("unexpected patient listing %+v", byPatient)
	}

	if _, err := eng.Availability(ctx, "ghost"); !errors.Is(err, apperr.ErrDoctorNotFound) {
		t.Errorf("expected doctor not found, got %v", err)
	}
	if _, err := eng.ListByPatient(ctx, "ghost"); !errors.Is(err, apperr.ErrPatientNotFound) {
		t.Errorf("expected patient not found, got %v", err)
	}
}

func TestLoadCascade(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	seedDoctor(t, client, "d1", "10:00", "11:00")
	seedPatient(t, client, "p1")
	seedPatient(t, client, "p2")
	ctx := context.Background()
	for _, r := range []Request{
		{DoctorID: "d1", PatientID: "p1", DateTime: "2024-01-01 10:00"},
		{DoctorID: "d1", PatientID: "p2", DateTime: "2024-01-01 11:00"},
	} {
		if _, err := eng.Reserve(ctx, r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	indexKey := kv.DoctorReservationsKey("d1")
	client.SAdd(ctx, indexKey, kv.ReservationKey("d1", "2023-12-31 10:00"))

	err := kv.Watch(ctx, client, "test cascade", func(tx *redis.Tx) error {
		c, err := LoadCascade(ctx, tx, indexKey)
		if err != nil {
			return err
		}
		if c.Len() != 2 {
			t.Errorf("expected 2 reservations, got %d", c.Len())
		}
		return kv.Commit(ctx, tx, func(pipe redis.Pipeliner) error {
			c.Queue(ctx, pipe)
			return nil
		})
	}, indexKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, pattern := range []string{kv.ReservationPattern, kv.ReservationIDPattern} {
		if keys, _ := client.Keys(ctx, pattern).Result(); len(keys) != 0 {
			t.Errorf("expected no %s keys, got %v", pattern, keys)
		}
	}
	for _, set := range []string{indexKey, kv.PatientReservationsKey("p1"), kv.PatientReservationsKey("p2")} {
		if n, _ := client.SCard(ctx, set).Result(); n != 0 {
			t.Errorf("expected %s to be empty, got %d", set, n)
		}
	}
}

func TestVerify_ReportsBrokenLinks(t *testing.T) {
	_, client := kvtest.New(t)
	ctx := context.Background()
	key := kv.ReservationKey("d1", "2024-01-01 10:00")
	client.HSet(ctx, key, "id", "r1", "doctorId", "d1", "patientId", "p1", "dateTime", "2024-01-01 10:00")
	client.Set(ctx, kv.ReservationIDKey("r2"), "reservation:d9:2024-01-01 10:00", 0)

	violations, err := Verify(ctx, client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Missing: lookup r1, doctor index, patient index, doctor, patient; plus
	// the dangling r2 lookup.
	if len(violations) != 6 {
		t.Errorf("expected 6 violations, got %d: %v", len(violations), violations)
	}
}

func TestTimeOfDay(t *testing.T) {
	cases := map[string]string{
		"2024-01-01 10:00": "10:00",
		"Mon 09:30":        "09:30",
	}
	for in, want := range cases {
		got, ok := TimeOfDay(in)
		if !ok || got != want {
			t.Errorf("TimeOfDay(%q) = %q, %v", in, got, ok)
		}
	}
	for _, in := range []string{"2024-01-01", "2024-01-01T10:00", "2024-01-01 "} {
		if _, ok := TimeOfDay(in); ok {
			t.Errorf("expected %q to be rejected", in)
		}
	}
}
