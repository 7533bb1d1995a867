package app

import (
	"context"
	"fmt"
	"sort"

	"quiz-session-service/internal/domain"
)

// TopResultsLimit caps the owner-facing leaderboard summary.
const TopResultsLimit = 10

// ResultSubmission carries a score computed by the caller.
type ResultSubmission struct {
	UserID         string
	QuizID         string
	Score          int
	TotalQuestions int
	CorrectAnswers int
	// Answers maps question id to selected answer id.
	Answers map[string]string
}

// SubmitResult stores a completed play-through. Every attempt is kept.
func (s *QuizService) SubmitResult(ctx context.Context, sub ResultSubmission) (domain.Result, error) {
	if sub.UserID == "" || sub.QuizID == "" {
		return domain.Result{}, fmt.Errorf("submit result: %w", domain.ErrMissingField)
	}
	if sub.Score < 0 || sub.TotalQuestions < 0 || sub.CorrectAnswers < 0 || sub.CorrectAnswers > sub.TotalQuestions {
		return domain.Result{}, fmt.Errorf("submit result: score=%d total=%d correct=%d: %w",
			sub.Score, sub.TotalQuestions, sub.CorrectAnswers, domain.ErrInvalidResult)
	}
	if _, err := s.store.GetUser(ctx, sub.UserID); err != nil {
		return domain.Result{}, fmt.Errorf("submit result: %w", err)
	}
	if _, err := s.quizzes.GetQuiz(ctx, sub.QuizID); err != nil {
		return domain.Result{}, fmt.Errorf("submit result: %w", err)
	}

	answers := make(map[string]string, len(sub.Answers))
	for questionID, answerID := range sub.Answers {
		answers[questionID] = answerID
	}
	result := domain.Result{
		ID:             s.newID(),
		UserID:         sub.UserID,
		QuizID:         sub.QuizID,
		Score:          sub.Score,
		TotalQuestions: sub.TotalQuestions,
		CorrectAnswers: sub.CorrectAnswers,
		Answers:        answers,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateResult(ctx, result); err != nil {
		return domain.Result{}, fmt.Errorf("submit result: %w", err)
	}
	return result, nil
}

// GetResultDetail joins a result with the quiz content, one row per question.
func (s *QuizService) GetResultDetail(ctx context.Context, resultID string) (domain.ResultDetail, error) {
	result, err := s.store.GetResult(ctx, resultID)
	if err != nil {
		return domain.ResultDetail{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, result.QuizID)
	if err != nil {
		return domain.ResultDetail{}, fmt.Errorf("result %s: %w", resultID, err)
	}
	return domain.ResultDetail{
		Result:    result,
		QuizTitle: quiz.Title,
		Questions: breakdown(quiz, result),
	}, nil
}

func breakdown(quiz domain.Quiz, result domain.Result) []domain.QuestionBreakdown {
	rows := make([]domain.QuestionBreakdown, 0, len(quiz.Questions))
	for _, question := range quiz.Questions {
		row := domain.QuestionBreakdown{
			QuestionID:         question.ID,
			QuestionText:       question.Text,
			SelectedAnswerText: domain.NotAnswered,
		}
		correct, hasCorrect := question.CorrectAnswer()
		if hasCorrect {
			row.CorrectAnswerID = correct.ID
			row.CorrectAnswerText = correct.Text
		}
		if selected, ok := question.FindAnswer(result.Answers[question.ID]); ok {
			row.SelectedAnswerID = selected.ID
			row.SelectedAnswerText = selected.Text
			row.IsCorrect = hasCorrect && selected.ID == correct.ID
		}
		rows = append(rows, row)
	}
	return rows
}

// Leaderboard ranks every result of a quiz by score, ties in submission order.
func (s *QuizService) Leaderboard(ctx context.Context, quizID string) ([]domain.LeaderboardEntry, error) {
	return s.rankedResults(ctx, quizID, 0)
}

// TopResults is the Leaderboard capped at TopResultsLimit entries.
func (s *QuizService) TopResults(ctx context.Context, quizID string) ([]domain.LeaderboardEntry, error) {
	return s.rankedResults(ctx, quizID, TopResultsLimit)
}

func (s *QuizService) rankedResults(ctx context.Context, quizID string, limit int) ([]domain.LeaderboardEntry, error) {
	if _, err := s.store.LoadQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("leaderboard of %s: %w", quizID, err)
	}
	entries := RankResults(results)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	usernames := make(map[string]string)
	for i := range entries {
		userID := entries[i].UserID
		name, ok := usernames[userID]
		if !ok {
			if user, err := s.store.GetUser(ctx, userID); err == nil {
				name = user.Username
			}
			usernames[userID] = name
		}
		entries[i].Username = name
	}
	return entries, nil
}

// RankResults sorts results by score descending. Equal scores keep their input order.
func RankResults(results []domain.Result) []domain.LeaderboardEntry {
	sorted := append([]domain.Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	entries := make([]domain.LeaderboardEntry, len(sorted))
	for i, r := range sorted {
		entries[i] = domain.LeaderboardEntry{
			Rank:           i + 1,
			ResultID:       r.ID,
			UserID:         r.UserID,
			Score:          r.Score,
			TotalQuestions: r.TotalQuestions,
			CorrectAnswers: r.CorrectAnswers,
			SubmittedAt:    r.CreatedAt,
		}
	}
	return entries
}
