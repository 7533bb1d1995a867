package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quiz-session-service/internal/domain"
)

func TestUpdateSessionRejectsTakenJoinCode(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	if err := store.CreateQuiz(ctx, domain.Quiz{ID: "quiz-2", OwnerID: "u1"}); err != nil {
		t.Fatalf("create quiz: %v", err)
	}

	publish := func(code string) func(*domain.Quiz) error {
		return func(q *domain.Quiz) error {
			q.Published = true
			q.JoinCode = code
			return nil
		}
	}
	if _, err := store.UpdateSession(ctx, "quiz-1", publish("ABC123")); err != nil {
		t.Fatalf("publish quiz-1: %v", err)
	}
	_, err := store.UpdateSession(ctx, "quiz-2", publish("ABC123"))
	if !errors.Is(err, domain.ErrJoinCodeTaken) {
		t.Fatalf("expected join code conflict, got %v", err)
	}

	quiz, _ := store.LoadQuiz(ctx, "quiz-2")
	if quiz.Published || quiz.JoinCode != "" {
		t.Fatalf("expected quiz-2 untouched, got %+v", quiz)
	}
}

func TestJoinCodeReusableAfterClear(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	_ = store.CreateQuiz(ctx, domain.Quiz{ID: "quiz-2", OwnerID: "u1"})

	_, _ = store.UpdateSession(ctx, "quiz-1", func(q *domain.Quiz) error {
		q.Published, q.JoinCode = true, "ABC123"
		return nil
	})
	_, _ = store.UpdateSession(ctx, "quiz-1", func(q *domain.Quiz) error {
		q.Published, q.JoinCode = false, ""
		return nil
	})
	if _, err := store.FindByJoinCode(ctx, "ABC123"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected cleared code to be gone, got %v", err)
	}
	quiz, err := store.UpdateSession(ctx, "quiz-2", func(q *domain.Quiz) error {
		q.Published, q.JoinCode = true, "ABC123"
		return nil
	})
	if err != nil || quiz.JoinCode != "ABC123" {
		t.Fatalf("expected code reuse, got %+v err=%v", quiz, err)
	}
}

func TestUpdateSessionErrorLeavesQuizUnchanged(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := store.UpdateSession(ctx, "quiz-1", func(q *domain.Quiz) error {
		q.Title = "changed"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	quiz, _ := store.LoadQuiz(ctx, "quiz-1")
	if quiz.Title != "Sample" {
		t.Fatalf("expected title unchanged, got %q", quiz.Title)
	}
}

func TestUpsertParticipantIsAtomic(t *testing.T) {
	store := publishedStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	created := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := store.UpsertParticipant(ctx, domain.Participant{
				ID:          fmt.Sprintf("p%d", i),
				QuizID:      "quiz-1",
				UserID:      "u1",
				DisplayName: "Alice",
				JoinedAt:    time.Now(),
			})
			if err != nil {
				t.Errorf("upsert: %v", err)
			}
			created <- ok
		}(i)
	}
	wg.Wait()
	close(created)

	count := 0
	for ok := range created {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one insert, got %d", count)
	}
	list, _ := store.ListParticipants(ctx, "quiz-1")
	if len(list) != 1 {
		t.Fatalf("expected one participant, got %d", len(list))
	}
}

func TestListParticipantsOrder(t *testing.T) {
	store := publishedStore(t)
	ctx := context.Background()
	base := time.Unix(100, 0)

	_, _, _ = store.UpsertParticipant(ctx, domain.Participant{ID: "p1", QuizID: "quiz-1", DisplayName: "late", JoinedAt: base.Add(time.Second)})
	_, _, _ = store.UpsertParticipant(ctx, domain.Participant{ID: "p2", QuizID: "quiz-1", DisplayName: "tie-a", JoinedAt: base})
	_, _, _ = store.UpsertParticipant(ctx, domain.Participant{ID: "p3", QuizID: "quiz-1", DisplayName: "tie-b", JoinedAt: base})

	list, _ := store.ListParticipants(ctx, "quiz-1")
	got := []string{list[0].ID, list[1].ID, list[2].ID}
	want := []string{"p2", "p3", "p1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestQuestionLifecycle(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	q2, err := store.AddQuestion(ctx, domain.Question{ID: "q2", QuizID: "quiz-1", Text: "second"})
	if err != nil || q2.Position != 1 {
		t.Fatalf("expected position 1, got %+v err=%v", q2, err)
	}
	if err := store.ReplaceQuestion(ctx, domain.Question{ID: "q2", Text: "renamed"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := store.DeleteQuestion(ctx, "q1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	quiz, _ := store.LoadQuiz(ctx, "quiz-1")
	if len(quiz.Questions) != 1 || quiz.Questions[0].Text != "renamed" || quiz.Questions[0].Position != 0 {
		t.Fatalf("unexpected questions %+v", quiz.Questions)
	}
	if _, err := store.GetQuestion(ctx, "q1"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected deleted question gone, got %v", err)
	}
}

func TestUpsertParticipantRequiresPublishedQuiz(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	p := domain.Participant{ID: "p1", QuizID: "quiz-1", DisplayName: "Alice", JoinedAt: time.Now()}

	if _, _, err := store.UpsertParticipant(ctx, p); !errors.Is(err, domain.ErrQuizNotPublished) {
		t.Fatalf("expected not published, got %v", err)
	}
	publish(t, store)
	if _, created, err := store.UpsertParticipant(ctx, p); err != nil || !created {
		t.Fatalf("expected join while published, created=%v err=%v", created, err)
	}
	_, _ = store.UpdateSession(ctx, "quiz-1", func(q *domain.Quiz) error {
		q.Published, q.JoinCode = false, ""
		return nil
	})
	if _, _, err := store.UpsertParticipant(ctx, p); !errors.Is(err, domain.ErrQuizNotPublished) {
		t.Fatalf("expected existing participant rejected after unpublish, got %v", err)
	}
	if _, _, err := store.UpsertParticipant(ctx, domain.Participant{QuizID: "missing", DisplayName: "x"}); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQuestionEditsRejectedWhilePublished(t *testing.T) {
	store := publishedStore(t)
	ctx := context.Background()

	if _, err := store.AddQuestion(ctx, domain.Question{ID: "q2", QuizID: "quiz-1", Text: "late"}); !errors.Is(err, domain.ErrQuizLocked) {
		t.Fatalf("add: expected locked, got %v", err)
	}
	if err := store.ReplaceQuestion(ctx, domain.Question{ID: "q1", Text: "renamed"}); !errors.Is(err, domain.ErrQuizLocked) {
		t.Fatalf("replace: expected locked, got %v", err)
	}
	if err := store.DeleteQuestion(ctx, "q1"); !errors.Is(err, domain.ErrQuizLocked) {
		t.Fatalf("delete: expected locked, got %v", err)
	}
	quiz, _ := store.LoadQuiz(ctx, "quiz-1")
	if len(quiz.Questions) != 1 || quiz.Questions[0].Text != "What is 2 + 2?" {
		t.Fatalf("expected questions untouched, got %+v", quiz.Questions)
	}
}

func TestListResultsReturnsCopies(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	_ = store.CreateResult(ctx, domain.Result{ID: "r1", QuizID: "quiz-1", UserID: "u1", Answers: map[string]string{"q1": "a2"}})

	list, _ := store.ListResults(ctx, "quiz-1")
	list[0].Answers["q1"] = "a1"

	stored, _ := store.GetResult(ctx, "r1")
	if stored.Answers["q1"] != "a2" {
		t.Fatalf("expected stored answers unchanged, got %v", stored.Answers)
	}
}

func TestCreateUserConflicts(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.CreateUser(ctx, domain.User{ID: "u1", Username: "alice", Email: "a@x.io"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateUser(ctx, domain.User{ID: "u2", Username: "alice", Email: "b@x.io"}); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("expected username conflict, got %v", err)
	}
	if err := store.CreateUser(ctx, domain.User{ID: "u3", Username: "bob", Email: "a@x.io"}); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestDeleteQuizCascades(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	_ = store.CreateResult(ctx, domain.Result{ID: "r1", QuizID: "quiz-1", UserID: "u1"})

	if err := store.DeleteQuiz(ctx, "quiz-1"); err != nil {
		t.Fatalf("delete quiz: %v", err)
	}
	if _, err := store.GetResult(ctx, "r1"); !errors.Is(err, domain.ErrResultNotFound) {
		t.Fatalf("expected result removed, got %v", err)
	}
	if _, err := store.GetQuestion(ctx, "q1"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question removed, got %v", err)
	}
}

func publishedStore(t *testing.T) *Store {
	t.Helper()
	store := seededStore(t)
	publish(t, store)
	return store
}

func publish(t *testing.T, store *Store) {
	t.Helper()
	_, err := store.UpdateSession(context.Background(), "quiz-1", func(q *domain.Quiz) error {
		q.Published, q.JoinCode = true, "QUIZ01"
		return nil
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
}
