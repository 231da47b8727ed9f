package reservation

import (
	"strings"

	"github.com/ledger/ledger/internal/platform/kv"
)

// Reservation maps to the reservation:{doctorId}:{dateTime} hash.
type Reservation struct {
	ID        string `json:"id"`
	DoctorID  string `json:"doctorId"`
	PatientID string `json:"patientId"`
	DateTime  string `json:"dateTime"`
}

// Key returns the composite store key of the reservation.
func (r *Reservation) Key() string { return kv.ReservationKey(r.DoctorID, r.DateTime) }

func (r *Reservation) hash() []interface{} {
	return []interface{}{
		"id", r.ID,
		"doctorId", r.DoctorID,
		"patientId", r.PatientID,
		"dateTime", r.DateTime,
	}
}

func fromHash(h map[string]string) *Reservation {
	if len(h) == 0 {
		return nil
	}
	return &Reservation{
		ID:        h["id"],
		DoctorID:  h["doctorId"],
		PatientID: h["patientId"],
		DateTime:  h["dateTime"],
	}
}

// Request carries the fields needed to book a slot.
type Request struct {
	DoctorID  string `json:"doctorId"`
	PatientID string `json:"patientId"`
	DateTime  string `json:"dateTime"`
}

// Availability lists a doctor's working hours and booked date-times.
type Availability struct {
	DoctorID     string   `json:"doctorId"`
	WorkingHours []string `json:"workingHours"`
	Reservations []string `json:"reservations"`
}

// TimeOfDay returns the time component of a "<date> <time>" token: the
// second field when splitting on a single space.
func TimeOfDay(dateTime string) (string, bool) {
	parts := strings.Split(dateTime, " ")
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
