package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
)

func TestJoinIsIdempotentPerUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	quiz := f.quizWithQuestions(t, 1)
	_, _ = f.service.Publish(ctx, quiz.ID)

	var wg sync.WaitGroup
	ids := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.service.Join(ctx, quiz.ID, f.owner.ID, "")
			if err != nil {
				t.Errorf("join: %v", err)
				return
			}
			ids <- p.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("expected one participant record, got %s and %s", first, id)
		}
	}
	participants, _ := f.service.ListParticipants(ctx, quiz.ID)
	if len(participants) != 1 || participants[0].DisplayName != "owner" {
		t.Fatalf("unexpected participants %+v", participants)
	}

	joined := 0
	for _, typ := range f.notifier.types() {
		if typ == domain.EventParticipantJoined {
			joined++
		}
	}
	if joined != 1 {
		t.Fatalf("expected one participant.joined event, got %d", joined)
	}
}

func TestJoinByName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	quiz := f.quizWithQuestions(t, 1)
	_, _ = f.service.Publish(ctx, quiz.ID)

	alice, err := f.service.Join(ctx, quiz.ID, "", " Alice ")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	again, _ := f.service.Join(ctx, quiz.ID, "", "Alice")
	if again.ID != alice.ID || alice.DisplayName != "Alice" {
		t.Fatalf("expected same anonymous participant, got %+v vs %+v", alice, again)
	}
	if _, err := f.service.Join(ctx, quiz.ID, "", "Bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	participants, _ := f.service.ListParticipants(ctx, quiz.ID)
	if len(participants) != 2 || participants[0].DisplayName != "Alice" || participants[1].DisplayName != "Bob" {
		t.Fatalf("unexpected participants %+v", participants)
	}
}

func TestJoinValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	quiz := f.quizWithQuestions(t, 1)

	if _, err := f.service.Join(ctx, quiz.ID, f.owner.ID, ""); !errors.Is(err, domain.ErrQuizNotPublished) {
		t.Fatalf("expected not published, got %v", err)
	}
	_, _ = f.service.Publish(ctx, quiz.ID)
	if _, err := f.service.Join(ctx, quiz.ID, "", "  "); !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("expected missing field, got %v", err)
	}
	if _, err := f.service.Join(ctx, quiz.ID, "ghost", ""); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected unknown user, got %v", err)
	}
	if _, err := f.service.Join(ctx, "missing", f.owner.ID, ""); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected unknown quiz, got %v", err)
	}
	if _, err := f.service.ListParticipants(ctx, "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected unknown quiz on list, got %v", err)
	}
}

// interleavingStore runs a hook right before the wrapped write, standing in
// for a concurrent request that lands between the service's checks and the store.
type interleavingStore struct {
	*memory.Store
	beforeUpsert      func()
	beforeAddQuestion func()
}

func (s *interleavingStore) UpsertParticipant(ctx context.Context, p domain.Participant) (domain.Participant, bool, error) {
	if s.beforeUpsert != nil {
		s.beforeUpsert()
	}
	return s.Store.UpsertParticipant(ctx, p)
}

func (s *interleavingStore) AddQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	if s.beforeAddQuestion != nil {
		s.beforeAddQuestion()
	}
	return s.Store.AddQuestion(ctx, q)
}

func newInterleavingService(t *testing.T) (*app.QuizService, *interleavingStore, *recordingNotifier, domain.Quiz) {
	t.Helper()
	ctx := context.Background()
	store := &interleavingStore{Store: memory.NewStore()}
	notifier := &recordingNotifier{}
	service := app.NewQuizService(store, memory.NewQuizCache(store, time.Minute), notifier)
	owner, err := service.RegisterUser(ctx, "owner", "owner@example.com", "secret-pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	quiz, err := service.CreateQuiz(ctx, owner.ID, "Sample", "")
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	_, err = service.AddQuestion(ctx, quiz.ID, app.QuestionInput{
		Text: "Question", Answers: []app.AnswerInput{{Text: "right", Correct: true}},
	})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	return service, store, notifier, quiz
}

func TestJoinRacingEndIsRejected(t *testing.T) {
	ctx := context.Background()
	service, store, notifier, quiz := newInterleavingService(t)
	if _, err := service.Publish(ctx, quiz.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	store.beforeUpsert = func() {
		store.beforeUpsert = nil
		if _, err := service.End(ctx, quiz.ID); err != nil {
			t.Errorf("end: %v", err)
		}
	}

	if _, err := service.Join(ctx, quiz.ID, "", "alice"); !errors.Is(err, domain.ErrQuizNotPublished) {
		t.Fatalf("expected join after end to fail, got %v", err)
	}
	participants, _ := service.ListParticipants(ctx, quiz.ID)
	if len(participants) != 0 {
		t.Fatalf("expected no participants on an ended quiz, got %+v", participants)
	}
	for _, typ := range notifier.types() {
		if typ == domain.EventParticipantJoined {
			t.Fatalf("unexpected participant.joined event: %v", notifier.types())
		}
	}
}

func TestAddQuestionRacingPublishIsRejected(t *testing.T) {
	ctx := context.Background()
	service, store, _, quiz := newInterleavingService(t)
	store.beforeAddQuestion = func() {
		store.beforeAddQuestion = nil
		if _, err := service.Publish(ctx, quiz.ID); err != nil {
			t.Errorf("publish: %v", err)
		}
	}

	_, err := service.AddQuestion(ctx, quiz.ID, app.QuestionInput{
		Text: "late", Answers: []app.AnswerInput{{Text: "a", Correct: true}},
	})
	if !errors.Is(err, domain.ErrQuizLocked) {
		t.Fatalf("expected locked quiz, got %v", err)
	}
	reloaded, _ := service.GetQuiz(ctx, quiz.ID)
	if len(reloaded.Questions) != 1 {
		t.Fatalf("expected published quiz content unchanged, got %d questions", len(reloaded.Questions))
	}
}
