package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"quiz-session-service/internal/domain"
)

// Join registers a participant in a published quiz. Joining twice with the
// same user (or, for anonymous play, the same name) returns the first record.
func (s *QuizService) Join(ctx context.Context, quizID, userID, displayName string) (domain.Participant, error) {
	userID = strings.TrimSpace(userID)
	displayName = strings.TrimSpace(displayName)
	if userID == "" && displayName == "" {
		return domain.Participant{}, fmt.Errorf("join: user id or name: %w", domain.ErrMissingField)
	}

	if displayName == "" {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return domain.Participant{}, fmt.Errorf("join quiz %s: %w", quizID, err)
		}
		displayName = user.Username
	}

	participant, created, err := s.store.UpsertParticipant(ctx, domain.Participant{
		ID:          s.newID(),
		QuizID:      quizID,
		UserID:      userID,
		DisplayName: displayName,
		JoinedAt:    s.now(),
	})
	if err != nil {
		return domain.Participant{}, fmt.Errorf("join quiz %s: %w", quizID, err)
	}
	if created {
		s.emit(ctx, domain.EventParticipantJoined, quizID, participant)
	}
	return participant, nil
}

// ListParticipants returns the participants of a quiz ordered by join time.
func (s *QuizService) ListParticipants(ctx context.Context, quizID string) ([]domain.Participant, error) {
	if _, err := s.store.LoadQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list participants of %s: %w", quizID, err)
	}
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants, nil
}
