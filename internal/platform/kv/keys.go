package kv

import "strings"

// Key layout. These strings are shared with existing data and must not change.
//
//	doctor:{id}                        hash  id, name, specialization
//	workingHours:{id}                  set   "HH:MM" tokens
//	patient:{id}                       hash  id, name, age, address
//	reservation:{doctorId}:{dateTime}  hash  id, doctorId, patientId, dateTime
//	doctorReservations:{doctorId}      set   reservation keys
//	patientReservations:{patientId}    set   reservation keys
//	reservationId:{resId}              string reservation key
const (
	doctorPrefix              = "doctor:"
	workingHoursPrefix        = "workingHours:"
	patientPrefix             = "patient:"
	reservationPrefix         = "reservation:"
	doctorReservationsPrefix  = "doctorReservations:"
	patientReservationsPrefix = "patientReservations:"
	reservationIDPrefix       = "reservationId:"
)

// Scan patterns.
const (
	DoctorPattern              = doctorPrefix + "*"
	PatientPattern             = patientPrefix + "*"
	ReservationPattern         = reservationPrefix + "*"
	ReservationIDPattern       = reservationIDPrefix + "*"
	DoctorReservationsPattern  = doctorReservationsPrefix + "*"
	PatientReservationsPattern = patientReservationsPrefix + "*"
)

func DoctorKey(id string) string       { return doctorPrefix + id }
func WorkingHoursKey(id string) string { return workingHoursPrefix + id }
func PatientKey(id string) string      { return patientPrefix + id }

func ReservationKey(doctorID, dateTime string) string {
	return reservationPrefix + doctorID + ":" + dateTime
}

func DoctorReservationsKey(doctorID string) string   { return doctorReservationsPrefix + doctorID }
func PatientReservationsKey(patientID string) string { return patientReservationsPrefix + patientID }
func ReservationIDKey(resID string) string           { return reservationIDPrefix + resID }

// ParseReservationKey splits a reservation key into doctor id and date-time.
// The date-time itself contains colons, so only the first separator after the
// prefix delimits the doctor id.
func ParseReservationKey(key string) (doctorID, dateTime string, ok bool) {
	rest, found := strings.CutPrefix(key, reservationPrefix)
	if !found {
		return "", "", false
	}
	doctorID, dateTime, ok = strings.Cut(rest, ":")
	if !ok || doctorID == "" || dateTime == "" {
		return "", "", false
	}
	return doctorID, dateTime, true
}

// IDFromKey strips the entity prefix from a doctor or patient key.
func IDFromKey(key string) string {
	_, id, _ := strings.Cut(key, ":")
	return id
}
