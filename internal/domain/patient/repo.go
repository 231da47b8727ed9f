package patient

import (
	"context"
	"iter"

	"github.com/ledger/ledger/internal/domain/reservation"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id string) (*Patient, error)
	// Delete removes the patient together with every reservation that
	// references it and returns the reservations torn down.
	Delete(ctx context.Context, id string) ([]*reservation.Reservation, error)
	List(ctx context.Context) iter.Seq2[*Patient, error]
}
