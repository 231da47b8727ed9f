package patient

import "encoding/json"

// Patient is stored as the patient:{id} hash. Age is kept as the decimal
// string written to the store.
type Patient struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Age     string `json:"age"`
	Address string `json:"address"`
}

func (p *Patient) hash() []interface{} {
	return []interface{}{
		"id", p.ID,
		"name", p.Name,
		"age", p.Age,
		"address", p.Address,
	}
}

func fromHash(h map[string]string) *Patient {
	if h["id"] == "" {
		return nil
	}
	return &Patient{ID: h["id"], Name: h["name"], Age: h["age"], Address: h["address"]}
}

// RegisterRequest is the body of POST /patients. Age may be sent as a JSON
// number or a numeric string.
type RegisterRequest struct {
	Name    string      `json:"name"`
	Age     json.Number `json:"age"`
	Address string      `json:"address"`
}
