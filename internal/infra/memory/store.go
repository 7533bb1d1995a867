package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-session-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. A single mutex makes
// every read-modify-write atomic.
type Store struct {
	mu sync.RWMutex

	users       map[string]domain.User
	usernames   map[string]string
	emails      map[string]string
	quizzes     map[string]*domain.Quiz
	joinCodes   map[string]string
	questions   map[string]string // question id -> quiz id
	partsByQuiz map[string][]domain.Participant
	partKeys    map[string]map[string]int // quiz id -> participant key -> index
	results     map[string]domain.Result
	resultOrder map[string][]string
}

func NewStore() *Store {
	return &Store{
		users:       make(map[string]domain.User),
		usernames:   make(map[string]string),
		emails:      make(map[string]string),
		quizzes:     make(map[string]*domain.Quiz),
		joinCodes:   make(map[string]string),
		questions:   make(map[string]string),
		partsByQuiz: make(map[string][]domain.Participant),
		partKeys:    make(map[string]map[string]int),
		results:     make(map[string]domain.Result),
		resultOrder: make(map[string][]string),
	}
}

func (s *Store) CreateUser(_ context.Context, user domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[user.Username]; ok {
		return domain.ErrUsernameTaken
	}
	if _, ok := s.emails[user.Email]; ok {
		return domain.ErrEmailTaken
	}
	s.users[user.ID] = user
	s.usernames[user.Username] = user.ID
	s.emails[user.Email] = user.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) CreateQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := quiz.Clone()
	s.quizzes[quiz.ID] = &stored
	for _, q := range stored.Questions {
		s.questions[q.ID] = quiz.ID
	}
	if quiz.JoinCode != "" {
		s.joinCodes[quiz.JoinCode] = quiz.ID
	}
	return nil
}

func (s *Store) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz.Clone(), nil
}

func (s *Store) FindByJoinCode(_ context.Context, code string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.joinCodes[code]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return s.quizzes[id].Clone(), nil
}

func (s *Store) ListQuizzesByOwner(_ context.Context, ownerID string) ([]domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quiz, 0)
	for _, quiz := range s.quizzes {
		if quiz.OwnerID == ownerID {
			out = append(out, quiz.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteQuiz(_ context.Context, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.ErrQuizNotFound
	}
	if quiz.JoinCode != "" {
		delete(s.joinCodes, quiz.JoinCode)
	}
	for _, q := range quiz.Questions {
		delete(s.questions, q.ID)
	}
	for _, id := range s.resultOrder[quizID] {
		delete(s.results, id)
	}
	delete(s.resultOrder, quizID)
	delete(s.partsByQuiz, quizID)
	delete(s.partKeys, quizID)
	delete(s.quizzes, quizID)
	return nil
}

func (s *Store) UpdateSession(_ context.Context, quizID string, fn func(*domain.Quiz) error) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return domain.Quiz{}, err
	}
	if next.JoinCode != "" && next.JoinCode != current.JoinCode {
		if owner, taken := s.joinCodes[next.JoinCode]; taken && owner != quizID {
			return domain.Quiz{}, domain.ErrJoinCodeTaken
		}
	}

	if current.JoinCode != "" {
		delete(s.joinCodes, current.JoinCode)
	}
	if next.JoinCode != "" {
		s.joinCodes[next.JoinCode] = quizID
	}
	// questions are owned by the question methods
	next.Questions = current.Questions
	*current = next
	return current.Clone(), nil
}

func (s *Store) AddQuestion(_ context.Context, question domain.Question) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[question.QuizID]
	if !ok {
		return domain.Question{}, domain.ErrQuizNotFound
	}
	if locked(quiz) {
		return domain.Question{}, domain.ErrQuizLocked
	}
	question.Position = len(quiz.Questions)
	question.Answers = append([]domain.Answer(nil), question.Answers...)
	quiz.Questions = append(quiz.Questions, question)
	s.questions[question.ID] = quiz.ID
	return question, nil
}

func (s *Store) GetQuestion(_ context.Context, questionID string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, question, ok := s.locateQuestion(questionID)
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	question.Answers = append([]domain.Answer(nil), question.Answers...)
	return question, nil
}

func (s *Store) ReplaceQuestion(_ context.Context, question domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, current, ok := s.locateQuestion(question.ID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if locked(quiz) {
		return domain.ErrQuizLocked
	}
	question.QuizID = current.QuizID
	question.Position = current.Position
	question.Answers = append([]domain.Answer(nil), question.Answers...)
	quiz.Questions[current.Position] = question
	return nil
}

func (s *Store) DeleteQuestion(_ context.Context, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, current, ok := s.locateQuestion(questionID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if locked(quiz) {
		return domain.ErrQuizLocked
	}
	questions := append(quiz.Questions[:current.Position:current.Position], quiz.Questions[current.Position+1:]...)
	for i := range questions {
		questions[i].Position = i
	}
	quiz.Questions = questions
	delete(s.questions, questionID)
	return nil
}

func locked(quiz *domain.Quiz) bool {
	return quiz.Published || quiz.Active
}

// locateQuestion must be called with the lock held.
func (s *Store) locateQuestion(questionID string) (*domain.Quiz, domain.Question, bool) {
	quizID, ok := s.questions[questionID]
	if !ok {
		return nil, domain.Question{}, false
	}
	quiz := s.quizzes[quizID]
	for _, q := range quiz.Questions {
		if q.ID == questionID {
			return quiz, q, true
		}
	}
	return nil, domain.Question{}, false
}

func (s *Store) UpsertParticipant(_ context.Context, p domain.Participant) (domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[p.QuizID]
	if !ok {
		return domain.Participant{}, false, domain.ErrQuizNotFound
	}
	if !quiz.Published {
		return domain.Participant{}, false, domain.ErrQuizNotPublished
	}
	keys, ok := s.partKeys[p.QuizID]
	if !ok {
		keys = make(map[string]int)
		s.partKeys[p.QuizID] = keys
	}
	if idx, exists := keys[p.Key()]; exists {
		return s.partsByQuiz[p.QuizID][idx], false, nil
	}
	keys[p.Key()] = len(s.partsByQuiz[p.QuizID])
	s.partsByQuiz[p.QuizID] = append(s.partsByQuiz[p.QuizID], p)
	return p, true, nil
}

func (s *Store) ListParticipants(_ context.Context, quizID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.Participant{}, s.partsByQuiz[quizID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (s *Store) CreateResult(_ context.Context, result domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[result.QuizID]; !ok {
		return domain.ErrQuizNotFound
	}
	result.Answers = copyAnswers(result.Answers)
	s.results[result.ID] = result
	s.resultOrder[result.QuizID] = append(s.resultOrder[result.QuizID], result.ID)
	return nil
}

func (s *Store) GetResult(_ context.Context, resultID string) (domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[resultID]
	if !ok {
		return domain.Result{}, domain.ErrResultNotFound
	}
	result.Answers = copyAnswers(result.Answers)
	return result, nil
}

func (s *Store) ListResults(_ context.Context, quizID string) ([]domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.resultOrder[quizID]
	out := make([]domain.Result, 0, len(ids))
	for _, id := range ids {
		result := s.results[id]
		result.Answers = copyAnswers(result.Answers)
		out = append(out, result)
	}
	return out, nil
}

func copyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
