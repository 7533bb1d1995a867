package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

// QuizService contains the quiz session use cases.
type QuizService struct {
	store    Store
	quizzes  QuizReader
	notifier Notifier

	now      func() time.Time
	newID    func() string
	joinCode func() string
}

// Option customizes a QuizService.
type Option func(*QuizService)

// WithClock overrides the time source; tests use it for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.now = now }
}

// WithJoinCodeGenerator overrides how join codes are drawn.
func WithJoinCodeGenerator(gen func() string) Option {
	return func(s *QuizService) { s.joinCode = gen }
}

// WithIDGenerator overrides how record ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(s *QuizService) { s.newID = gen }
}

func NewQuizService(store Store, quizzes QuizReader, notifier Notifier, opts ...Option) *QuizService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &QuizService{
		store:    store,
		quizzes:  quizzes,
		notifier: notifier,
		now:      time.Now,
		newID:    uuid.NewString,
		joinCode: GenerateJoinCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateQuiz creates a draft quiz owned by ownerID.
func (s *QuizService) CreateQuiz(ctx context.Context, ownerID, title, description string) (domain.Quiz, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Quiz{}, fmt.Errorf("create quiz: title: %w", domain.ErrMissingField)
	}
	if _, err := s.store.GetUser(ctx, ownerID); err != nil {
		return domain.Quiz{}, fmt.Errorf("create quiz: owner %s: %w", ownerID, err)
	}

	now := s.now()
	quiz := domain.Quiz{
		ID:          s.newID(),
		Title:       title,
		Description: strings.TrimSpace(description),
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Questions:   []domain.Question{},
	}
	if err := s.store.CreateQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("create quiz: %w", err)
	}
	log.Printf("quiz %s created by %s", quiz.ID, ownerID)
	return quiz, nil
}

// GetQuiz returns the quiz with its questions.
func (s *QuizService) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return s.quizzes.GetQuiz(ctx, quizID)
}

// ListQuizzes returns the quizzes owned by ownerID.
func (s *QuizService) ListQuizzes(ctx context.Context, ownerID string) ([]domain.Quiz, error) {
	return s.store.ListQuizzesByOwner(ctx, ownerID)
}

// DeleteQuiz removes the quiz with its questions, participants and results.
func (s *QuizService) DeleteQuiz(ctx context.Context, quizID string) error {
	if err := s.store.DeleteQuiz(ctx, quizID); err != nil {
		return err
	}
	s.quizzes.Invalidate(ctx, quizID)
	log.Printf("quiz %s deleted", quizID)
	return nil
}

// GetQuizByJoinCode resolves a currently published quiz from its join code.
func (s *QuizService) GetQuizByJoinCode(ctx context.Context, code string) (domain.Quiz, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !ValidJoinCode(code) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return s.store.FindByJoinCode(ctx, code)
}

// GetStatus reports the session flags of a quiz.
func (s *QuizService) GetStatus(ctx context.Context, quizID string) (domain.SessionStatus, error) {
	quiz, err := s.store.LoadQuiz(ctx, quizID)
	if err != nil {
		return domain.SessionStatus{}, err
	}
	return StatusOf(quiz), nil
}

// StatusOf derives the polled status view of a quiz.
func StatusOf(quiz domain.Quiz) domain.SessionStatus {
	status := domain.SessionStatus{
		QuizID:        quiz.ID,
		State:         quiz.State(),
		Published:     quiz.Published,
		Active:        quiz.Active,
		QuestionCount: len(quiz.Questions),
		JoinCode:      quiz.JoinCode,
	}
	if quiz.Active {
		index := quiz.CurrentQuestionIndex
		status.CurrentQuestionIndex = &index
	}
	return status
}

// Publish assigns a fresh join code and opens the quiz for joining.
// Publishing an already published quiz returns it unchanged.
func (s *QuizService) Publish(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz, err := s.updateWithJoinCode(ctx, quizID, func(q *domain.Quiz, code string) error {
		if len(q.Questions) == 0 {
			return domain.ErrEmptyQuiz
		}
		if q.Published {
			return nil
		}
		q.Published = true
		q.JoinCode = code
		q.EndedAt = time.Time{}
		return nil
	})
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("publish quiz %s: %w", quizID, err)
	}
	log.Printf("quiz %s published with code %s", quizID, quiz.JoinCode)
	return quiz, nil
}

// Unpublish clears the join code. An active session is stopped as well.
func (s *QuizService) Unpublish(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz, err := s.update(ctx, quizID, func(q *domain.Quiz) error {
		q.Published = false
		q.Active = false
		q.JoinCode = ""
		q.CurrentQuestionIndex = 0
		return nil
	})
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("unpublish quiz %s: %w", quizID, err)
	}
	return quiz, nil
}

// Start activates the session at the first question. A draft quiz is
// published on the way so that an active quiz always has a join code.
func (s *QuizService) Start(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz, err := s.updateWithJoinCode(ctx, quizID, func(q *domain.Quiz, code string) error {
		if len(q.Questions) == 0 {
			return domain.ErrEmptyQuiz
		}
		if !q.Published {
			q.Published = true
			q.JoinCode = code
			q.EndedAt = time.Time{}
		}
		q.Active = true
		q.CurrentQuestionIndex = 0
		return nil
	})
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("start quiz %s: %w", quizID, err)
	}
	log.Printf("quiz %s started", quizID)
	s.emit(ctx, domain.EventQuizStarted, quizID, questionAdvanced(quiz))
	return quiz, nil
}

// Advance moves the session to index. Moving backwards is allowed.
func (s *QuizService) Advance(ctx context.Context, quizID string, index int) (domain.Quiz, error) {
	quiz, err := s.update(ctx, quizID, func(q *domain.Quiz) error {
		if index < 0 || index >= len(q.Questions) {
			return fmt.Errorf("%w: %d not in [0,%d)", domain.ErrInvalidQuestionIndex, index, len(q.Questions))
		}
		if !q.Active {
			return domain.ErrQuizNotActive
		}
		q.CurrentQuestionIndex = index
		return nil
	})
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("advance quiz %s: %w", quizID, err)
	}
	s.emit(ctx, domain.EventQuestionAdvanced, quizID, questionAdvanced(quiz))
	return quiz, nil
}

// End stops the session and clears the join code. A new publish starts over.
func (s *QuizService) End(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz, err := s.update(ctx, quizID, func(q *domain.Quiz) error {
		q.Active = false
		q.Published = false
		q.JoinCode = ""
		q.CurrentQuestionIndex = 0
		q.EndedAt = s.now()
		return nil
	})
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("end quiz %s: %w", quizID, err)
	}
	log.Printf("quiz %s ended", quizID)
	s.emit(ctx, domain.EventQuizEnded, quizID, StatusOf(quiz))
	return quiz, nil
}

func (s *QuizService) update(ctx context.Context, quizID string, fn func(*domain.Quiz) error) (domain.Quiz, error) {
	quiz, err := s.store.UpdateSession(ctx, quizID, func(q *domain.Quiz) error {
		if err := fn(q); err != nil {
			return err
		}
		q.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	s.quizzes.Invalidate(ctx, quizID)
	return quiz, nil
}

// updateWithJoinCode retries fn with a fresh code while the store reports a
// collision, up to MaxJoinCodeAttempts.
func (s *QuizService) updateWithJoinCode(ctx context.Context, quizID string, fn func(q *domain.Quiz, code string) error) (domain.Quiz, error) {
	for attempt := 1; attempt <= MaxJoinCodeAttempts; attempt++ {
		code := s.joinCode()
		quiz, err := s.update(ctx, quizID, func(q *domain.Quiz) error {
			return fn(q, code)
		})
		if errors.Is(err, domain.ErrJoinCodeTaken) {
			log.Printf("join code collision for quiz %s (attempt %d/%d)", quizID, attempt, MaxJoinCodeAttempts)
			continue
		}
		return quiz, err
	}
	return domain.Quiz{}, fmt.Errorf("%w after %d attempts", domain.ErrJoinCodeExhausted, MaxJoinCodeAttempts)
}

func questionAdvanced(quiz domain.Quiz) domain.QuestionAdvanced {
	index := quiz.CurrentQuestionIndex
	return domain.QuestionAdvanced{
		Index:    index,
		Total:    len(quiz.Questions),
		Question: quiz.Questions[index].View(),
	}
}

// emit publishes an event at most once; failures are logged and dropped.
func (s *QuizService) emit(ctx context.Context, typ domain.EventType, quizID string, data any) {
	event := domain.Event{Type: typ, QuizID: quizID, OccurredAt: s.now(), Data: data}
	if err := s.notifier.Publish(ctx, event); err != nil {
		log.Printf("publish %s for quiz %s: %v", typ, quizID, err)
	}
}
