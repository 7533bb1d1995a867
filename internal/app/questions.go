package app

import (
	"context"
	"fmt"
	"strings"

	"quiz-session-service/internal/domain"
)

// AnswerInput describes one answer of a question being authored.
type AnswerInput struct {
	Text    string
	Correct bool
}

// QuestionInput describes a question and its answers.
type QuestionInput struct {
	Text    string
	Answers []AnswerInput
}

// QuestionUpdate lists the mutable fields of a question. Nil fields are kept;
// a non-nil Answers replaces the whole answer set.
type QuestionUpdate struct {
	Text    *string
	Answers []AnswerInput
}

// AddQuestion appends a question with its answers to a quiz that is not published.
func (s *QuizService) AddQuestion(ctx context.Context, quizID string, input QuestionInput) (domain.Question, error) {
	quiz, err := s.editableQuiz(ctx, quizID)
	if err != nil {
		return domain.Question{}, fmt.Errorf("add question: %w", err)
	}

	question := domain.Question{
		ID:       s.newID(),
		QuizID:   quiz.ID,
		Text:     strings.TrimSpace(input.Text),
		Position: len(quiz.Questions),
	}
	if question.Text == "" {
		return domain.Question{}, fmt.Errorf("add question: text: %w", domain.ErrMissingField)
	}
	answers, err := s.buildAnswers(question.ID, input.Answers)
	if err != nil {
		return domain.Question{}, fmt.Errorf("add question: %w", err)
	}
	question.Answers = answers

	stored, err := s.store.AddQuestion(ctx, question)
	if err != nil {
		return domain.Question{}, fmt.Errorf("add question: %w", err)
	}
	s.quizzes.Invalidate(ctx, quizID)
	return stored, nil
}

// GetQuestion returns a question with its answers.
func (s *QuizService) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	return s.store.GetQuestion(ctx, questionID)
}

// UpdateQuestion edits a question of a quiz that is not published.
func (s *QuizService) UpdateQuestion(ctx context.Context, questionID string, update QuestionUpdate) (domain.Question, error) {
	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	if _, err := s.editableQuiz(ctx, question.QuizID); err != nil {
		return domain.Question{}, fmt.Errorf("update question: %w", err)
	}

	if update.Text != nil {
		text := strings.TrimSpace(*update.Text)
		if text == "" {
			return domain.Question{}, fmt.Errorf("update question: text: %w", domain.ErrMissingField)
		}
		question.Text = text
	}
	if update.Answers != nil {
		answers, err := s.buildAnswers(question.ID, update.Answers)
		if err != nil {
			return domain.Question{}, fmt.Errorf("update question: %w", err)
		}
		question.Answers = answers
	}

	if err := s.store.ReplaceQuestion(ctx, question); err != nil {
		return domain.Question{}, fmt.Errorf("update question: %w", err)
	}
	s.quizzes.Invalidate(ctx, question.QuizID)
	return question, nil
}

// DeleteQuestion removes a question of a quiz that is not published.
func (s *QuizService) DeleteQuestion(ctx context.Context, questionID string) error {
	question, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if _, err := s.editableQuiz(ctx, question.QuizID); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if err := s.store.DeleteQuestion(ctx, questionID); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	s.quizzes.Invalidate(ctx, question.QuizID)
	return nil
}

func (s *QuizService) editableQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz, err := s.store.LoadQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if quiz.Published || quiz.Active {
		return domain.Quiz{}, domain.ErrQuizLocked
	}
	return quiz, nil
}

func (s *QuizService) buildAnswers(questionID string, inputs []AnswerInput) ([]domain.Answer, error) {
	if len(inputs) == 0 {
		return nil, domain.ErrNoAnswers
	}
	answers := make([]domain.Answer, 0, len(inputs))
	hasCorrect := false
	for i, in := range inputs {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return nil, fmt.Errorf("answer %d text: %w", i, domain.ErrMissingField)
		}
		hasCorrect = hasCorrect || in.Correct
		answers = append(answers, domain.Answer{
			ID:         s.newID(),
			QuestionID: questionID,
			Text:       text,
			Correct:    in.Correct,
			Position:   i,
		})
	}
	if !hasCorrect {
		return nil, domain.ErrNoCorrectAnswer
	}
	return answers, nil
}
