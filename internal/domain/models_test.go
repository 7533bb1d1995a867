package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestQuizState(t *testing.T) {
	cases := []struct {
		name string
		quiz Quiz
		want SessionState
	}{
		{"draft", Quiz{}, StateDraft},
		{"published", Quiz{Published: true, JoinCode: "ABC123"}, StatePublished},
		{"active", Quiz{Published: true, Active: true, JoinCode: "ABC123"}, StateActive},
		{"ended", Quiz{EndedAt: time.Unix(10, 0)}, StateEnded},
	}
	for _, tc := range cases {
		if got := tc.quiz.State(); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestCloneDoesNotShareAnswers(t *testing.T) {
	quiz := Quiz{Questions: []Question{{ID: "q1", Answers: []Answer{{ID: "a1", Text: "x"}}}}}
	clone := quiz.Clone()
	clone.Questions[0].Answers[0].Text = "changed"
	if quiz.Questions[0].Answers[0].Text != "x" {
		t.Fatalf("expected original untouched, got %q", quiz.Questions[0].Answers[0].Text)
	}
}

func TestParticipantKey(t *testing.T) {
	if got := (Participant{UserID: "u1", DisplayName: "Alice"}).Key(); got != "u1" {
		t.Fatalf("expected user id key, got %q", got)
	}
	if got := (Participant{DisplayName: "Alice"}).Key(); got != "name:Alice" {
		t.Fatalf("expected name key, got %q", got)
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("publish quiz q1: %w", ErrEmptyQuiz)
	if KindOf(wrapped) != KindValidation {
		t.Fatalf("expected validation kind, got %s", KindOf(wrapped))
	}
	if !errors.Is(wrapped, ErrEmptyQuiz) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("expected internal kind for foreign errors")
	}
	if KindOf(nil) != "" {
		t.Fatalf("expected empty kind for nil")
	}
}
