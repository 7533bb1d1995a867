package app

import (
	"context"

	"quiz-session-service/internal/domain"
)

// QuizStore persists quizzes with their questions and answers.
type QuizStore interface {
	CreateQuiz(ctx context.Context, quiz domain.Quiz) error
	// LoadQuiz returns the quiz with questions and answers in position order.
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	FindByJoinCode(ctx context.Context, code string) (domain.Quiz, error)
	ListQuizzesByOwner(ctx context.Context, ownerID string) ([]domain.Quiz, error)
	DeleteQuiz(ctx context.Context, quizID string) error

	// UpdateSession runs fn against the current quiz and persists the result as
	// one atomic read-modify-write. If fn returns an error nothing is written.
	// A join code colliding with another published quiz yields domain.ErrJoinCodeTaken.
	UpdateSession(ctx context.Context, quizID string, fn func(*domain.Quiz) error) (domain.Quiz, error)

	// AddQuestion stores the question and all of its answers atomically.
	// The question methods fail with domain.ErrQuizLocked while the owning
	// quiz is published or active, checked in the same atomic step as the write.
	AddQuestion(ctx context.Context, question domain.Question) (domain.Question, error)
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
	ReplaceQuestion(ctx context.Context, question domain.Question) error
	DeleteQuestion(ctx context.Context, questionID string) error
}

// ParticipantStore tracks who joined which session.
type ParticipantStore interface {
	// UpsertParticipant inserts p unless a participant with the same key exists
	// for the quiz, in which case the existing record is returned with created=false.
	// It fails with domain.ErrQuizNotPublished unless the quiz is published at
	// the moment of the write.
	UpsertParticipant(ctx context.Context, p domain.Participant) (domain.Participant, bool, error)
	// ListParticipants returns participants by join time, ties in insertion order.
	ListParticipants(ctx context.Context, quizID string) ([]domain.Participant, error)
}

// ResultStore keeps immutable results.
type ResultStore interface {
	CreateResult(ctx context.Context, result domain.Result) error
	GetResult(ctx context.Context, resultID string) (domain.Result, error)
	// ListResults returns the results of a quiz in submission order.
	ListResults(ctx context.Context, quizID string) ([]domain.Result, error)
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUser(ctx context.Context, userID string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
}

// Store is the full persistence collaborator.
type Store interface {
	QuizStore
	ParticipantStore
	ResultStore
	UserStore
}

// QuizReader serves quiz content to read-heavy paths, typically from a cache.
type QuizReader interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	Invalidate(ctx context.Context, quizID string)
}

// Notifier receives session events. Delivery is fire-and-forget.
type Notifier interface {
	Publish(ctx context.Context, event domain.Event) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, domain.Event) error { return nil }
