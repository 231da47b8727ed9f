package patient

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ledger/ledger/internal/domain/reservation"
	"github.com/ledger/ledger/internal/platform/apperr"
	"github.com/ledger/ledger/internal/platform/events"
)

// RemovalNotifier announces reservations torn down by a cascade.
type RemovalNotifier interface {
	PublishRemoved(ctx context.Context, removed []*reservation.Reservation)
}

type Service struct {
	repo      Repository
	notifier  RemovalNotifier
	publisher events.Publisher
	logger    zerolog.Logger
	newID     func() string
}

func NewService(repo Repository, notifier RemovalNotifier, publisher events.Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		repo:      repo,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger.With().Str("component", "patient_service").Logger(),
		newID:     func() string { return uuid.New().String() },
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Patient, error) {
	if req.Name == "" || req.Age == "" || req.Address == "" {
		return nil, apperr.Validation("Some details are missing.")
	}
	age, err := strconv.Atoi(req.Age.String())
	if err != nil || age <= 0 {
		return nil, apperr.Validation("age must be a positive integer")
	}

	p := &Patient{
		ID:      s.newID(),
		Name:    req.Name,
		Age:     strconv.Itoa(age),
		Address: req.Address,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("patient_id", p.ID).Msg("patient registered")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Patient, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Patient, error) {
	out := []*Patient{}
	for p, err := range s.repo.List(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Delete removes the patient and cascades into their reservations.
func (s *Service) Delete(ctx context.Context, id string) error {
	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", id).Int("reservations_removed", len(removed)).Msg("patient deleted")

	if s.notifier != nil {
		s.notifier.PublishRemoved(ctx, removed)
	}
	evt := events.New(events.TypePatientRemoved, events.TopicReservations, id, map[string]any{
		"patientId":           id,
		"reservationsRemoved": len(removed),
	})
	pubCtx := context.WithoutCancel(ctx)
	for _, topic := range []string{events.TopicReservations, events.PatientTopic(id)} {
		if err := s.publisher.Publish(pubCtx, evt.WithTopic(topic)); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("event publish failed")
		}
	}
	return nil
}
