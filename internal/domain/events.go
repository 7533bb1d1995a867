package domain

import "time"

// EventType names a session notification.
type EventType string

const (
	EventParticipantJoined EventType = "participant.joined"
	EventQuizStarted       EventType = "quiz.started"
	EventQuestionAdvanced  EventType = "question.advanced"
	EventQuizEnded         EventType = "quiz.ended"
)

// Event is emitted to the notification channel after a transition commits.
type Event struct {
	Type       EventType `json:"type"`
	QuizID     string    `json:"quizId"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data,omitempty"`
}

// QuestionView is a question without correctness flags, safe to show to players.
type QuestionView struct {
	ID      string       `json:"id"`
	Text    string       `json:"text"`
	Answers []AnswerView `json:"answers"`
}

// AnswerView is an answer without its correctness flag.
type AnswerView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// View strips correctness flags from a question.
func (q Question) View() QuestionView {
	answers := make([]AnswerView, len(q.Answers))
	for i, a := range q.Answers {
		answers[i] = AnswerView{ID: a.ID, Text: a.Text}
	}
	return QuestionView{ID: q.ID, Text: q.Text, Answers: answers}
}

// QuestionAdvanced is the payload of EventQuestionAdvanced.
type QuestionAdvanced struct {
	Index    int          `json:"index"`
	Total    int          `json:"total"`
	Question QuestionView `json:"question"`
}
