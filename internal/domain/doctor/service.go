package doctor

import (
	"context"
	"strings"

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
		logger:    logger.With().Str("component", "doctor_service").Logger(),
		newID:     func() string { return uuid.New().String() },
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Doctor, error) {
	if req.Name == "" || req.Specialization == "" || len(req.WorkingHours) == 0 {
		return nil, apperr.Validation("Some details are missing.")
	}
	hours := make([]string, 0, len(req.WorkingHours))
	for _, h := range req.WorkingHours {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, apperr.Validation("Some details are missing.")
		}
		hours = append(hours, h)
	}

	d := &Doctor{
		ID:             s.newID(),
		Name:           req.Name,
		Specialization: req.Specialization,
		WorkingHours:   hours,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("doctor_id", d.ID).Int("working_hours", len(hours)).Msg("doctor registered")
	return d, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Doctor, error) {
	return s.repo.Get(ctx, id)
}

// List materializes the directory listing.
func (s *Service) List(ctx context.Context) ([]*Doctor, error) {
	out := []*Doctor{}
	for d, err := range s.repo.List(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Delete removes the doctor and cascades into its reservations.
func (s *Service) Delete(ctx context.Context, id string) error {
	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.logger.Info().Str("doctor_id", id).Int("reservations_removed", len(removed)).Msg("doctor deleted")

	if s.notifier != nil {
		s.notifier.PublishRemoved(ctx, removed)
	}
	evt := events.New(events.TypeDoctorRemoved, events.TopicReservations, id, map[string]any{
		"doctorId":            id,
		"reservationsRemoved": len(removed),
	})
	pubCtx := context.WithoutCancel(ctx)
	for _, topic := range []string{events.TopicReservations, events.DoctorTopic(id)} {
		if err := s.publisher.Publish(pubCtx, evt.WithTopic(topic)); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("event publish failed")
		}
	}
	return nil
}
