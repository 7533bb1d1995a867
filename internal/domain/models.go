package domain

import "time"

// User owns quizzes and submits results.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Answer is one selectable option of a question.
type Answer struct {
	ID         string `json:"id"`
	QuestionID string `json:"questionId"`
	Text       string `json:"text"`
	Correct    bool   `json:"correct"`
	Position   int    `json:"position"`
}

// Question belongs to exactly one quiz.
type Question struct {
	ID       string   `json:"id"`
	QuizID   string   `json:"quizId"`
	Text     string   `json:"text"`
	Position int      `json:"position"`
	Answers  []Answer `json:"answers"`
}

// CorrectAnswer returns the first answer flagged correct.
func (q Question) CorrectAnswer() (Answer, bool) {
	for _, a := range q.Answers {
		if a.Correct {
			return a, true
		}
	}
	return Answer{}, false
}

// FindAnswer looks up an answer of this question by id.
func (q Question) FindAnswer(id string) (Answer, bool) {
	for _, a := range q.Answers {
		if a.ID == id {
			return a, true
		}
	}
	return Answer{}, false
}

// Quiz is the aggregate driven through the session lifecycle.
// JoinCode is empty when the quiz is not published.
type Quiz struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	OwnerID              string     `json:"ownerId"`
	Published            bool       `json:"published"`
	Active               bool       `json:"active"`
	JoinCode             string     `json:"joinCode,omitempty"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	EndedAt              time.Time  `json:"endedAt"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	Questions            []Question `json:"questions"`
}

// State derives the lifecycle state from the quiz flags.
func (q Quiz) State() SessionState {
	switch {
	case q.Active:
		return StateActive
	case q.Published:
		return StatePublished
	case !q.EndedAt.IsZero():
		return StateEnded
	default:
		return StateDraft
	}
}

// FindQuestion looks up a question of this quiz by id.
func (q Quiz) FindQuestion(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Clone returns a deep copy so stores never hand out shared slices.
func (q Quiz) Clone() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		out.Questions[i] = question
		out.Questions[i].Answers = append([]Answer(nil), question.Answers...)
	}
	return out
}

// SessionState names a lifecycle state.
type SessionState string

const (
	StateDraft     SessionState = "draft"
	StatePublished SessionState = "published"
	StateActive    SessionState = "active"
	StateEnded     SessionState = "ended"
)

// SessionStatus is the lightweight view polled by clients.
type SessionStatus struct {
	QuizID               string       `json:"quizId"`
	State                SessionState `json:"state"`
	Published            bool         `json:"published"`
	Active               bool         `json:"active"`
	CurrentQuestionIndex *int         `json:"currentQuestionIndex"`
	QuestionCount        int          `json:"questionCount"`
	JoinCode             string       `json:"joinCode,omitempty"`
}

// Participant is a user (or anonymous player) that joined a quiz session.
type Participant struct {
	ID          string    `json:"id"`
	QuizID      string    `json:"quizId"`
	UserID      string    `json:"userId,omitempty"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Key identifies the participant within its quiz: the user id, or the display
// name for anonymous play.
func (p Participant) Key() string {
	if p.UserID != "" {
		return p.UserID
	}
	return "name:" + p.DisplayName
}

// Result is an immutable record of one completed play-through.
type Result struct {
	ID             string            `json:"id"`
	UserID         string            `json:"userId"`
	QuizID         string            `json:"quizId"`
	Score          int               `json:"score"`
	TotalQuestions int               `json:"totalQuestions"`
	CorrectAnswers int               `json:"correctAnswers"`
	Answers        map[string]string `json:"answers"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// NotAnswered is reported for questions without a (valid) selected answer.
const NotAnswered = "Not answered"

// QuestionBreakdown compares a participant's selection with the correct answer.
type QuestionBreakdown struct {
	QuestionID         string `json:"questionId"`
	QuestionText       string `json:"questionText"`
	SelectedAnswerID   string `json:"selectedAnswerId,omitempty"`
	SelectedAnswerText string `json:"selectedAnswerText"`
	CorrectAnswerID    string `json:"correctAnswerId,omitempty"`
	CorrectAnswerText  string `json:"correctAnswerText"`
	IsCorrect          bool   `json:"isCorrect"`
}

// ResultDetail joins a result with the quiz content.
type ResultDetail struct {
	Result    Result              `json:"result"`
	QuizTitle string              `json:"quizTitle"`
	Questions []QuestionBreakdown `json:"questions"`
}

// LeaderboardEntry is one ranked result.
type LeaderboardEntry struct {
	Rank           int       `json:"rank"`
	ResultID       string    `json:"resultId"`
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"totalQuestions"`
	CorrectAnswers int       `json:"correctAnswers"`
	SubmittedAt    time.Time `json:"submittedAt"`
}
