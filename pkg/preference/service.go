package preference

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tendant/simple-session/pkg/utils"
)

// Service reads and records MFA preferences
type Service struct {
	repo  Repository
	clock utils.Clock
}

// NewService creates a preference service
func NewService(repo Repository, clock utils.Clock) *Service {
	return &Service{repo: repo, clock: utils.OrSystem(clock)}
}

// Load returns the subject's preference, or a zero preference when none is stored
func (s *Service) Load(ctx context.Context, subjectID string) (Preference, error) {
	p, err := s.repo.Get(ctx, subjectID)
	if errors.Is(err, ErrNotFound) {
		return Preference{SubjectID: subjectID}, nil
	}
	return p, err
}

// RecordPromptChoice stores the answer to the optional MFA prompt. Replays
// keep the first answer.
func (s *Service) RecordPromptChoice(ctx context.Context, subjectID string, optedIn bool) (Preference, error) {
	p, recorded, err := s.repo.RecordPrompt(ctx, subjectID, optedIn, s.clock.Now())
	if err != nil {
		return Preference{}, err
	}
	if recorded {
		slog.Info("Recorded MFA prompt choice", "subject_id", subjectID, "opted_in", optedIn)
	} else {
		slog.Debug("MFA prompt already answered", "subject_id", subjectID, "opted_in", p.OptedIn)
	}
	return p, nil
}

// SetOptedIn changes the opt-in flag outside of the first-login prompt
func (s *Service) SetOptedIn(ctx context.Context, subjectID string, optedIn bool) (Preference, error) {
	return s.repo.SetOptedIn(ctx, subjectID, optedIn, s.clock.Now())
}
