package doctor

import (
	"context"
	"iter"

	"github.com/ledger/ledger/internal/domain/reservation"
)

type Repository interface {
	Create(ctx context.Context, d *Doctor) error
	Get(ctx context.Context, id string) (*Doctor, error)
	// Delete removes the doctor together with every reservation that
	// references it and returns the reservations torn down.
	Delete(ctx context.Context, id string) ([]*reservation.Reservation, error)
	List(ctx context.Context) iter.Seq2[*Doctor, error]
	WorkingHours(ctx context.Context, id string) ([]string, error)
	Exists(ctx context.Context, id string) (bool, error)
}
