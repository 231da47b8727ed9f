package doctor

// Doctor is stored as the doctor:{id} hash plus the workingHours:{id} set.
type Doctor struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Specialization string   `json:"specialization"`
	WorkingHours   []string `json:"workingHours"`
}

func (d *Doctor) hash() []interface{} {
	return []interface{}{
		"id", d.ID,
		"name", d.Name,
		"specialization", d.Specialization,
	}
}

func (d *Doctor) clone() *Doctor {
	c := *d
	c.WorkingHours = append([]string(nil), d.WorkingHours...)
	return &c
}

// RegisterRequest is the body of POST /doctors.
type RegisterRequest struct {
	Name           string   `json:"name"`
	Specialization string   `json:"specialization"`
	WorkingHours   []string `json:"workingHours"`
}
