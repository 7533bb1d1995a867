package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-session-service/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store implements app.Store on Postgres. Session transitions lock the quiz
// row, and uniqueness of join codes and participants is left to constraints.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return translate(err, "create user")
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = $1`, userID))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE username = $1`, username))
}

func (s *Store) scanUser(row pgx.Row) (domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.Quiz) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO quizzes (id, title, description, owner_id, published, active, join_code,
				current_question_index, ended_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			quiz.ID, quiz.Title, quiz.Description, quiz.OwnerID, quiz.Published, quiz.Active,
			nullString(quiz.JoinCode), quiz.CurrentQuestionIndex, nullTime(quiz.EndedAt),
			quiz.CreatedAt, quiz.UpdatedAt)
		if err != nil {
			return translate(err, "create quiz")
		}
		for i, q := range quiz.Questions {
			q.QuizID = quiz.ID
			q.Position = i
			if err := insertQuestion(ctx, tx, q); err != nil {
				return err
			}
		}
		return nil
	})
}

const quizColumns = `id, title, description, owner_id, published, active, join_code,
	current_question_index, ended_at, created_at, updated_at`

func (s *Store) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return loadQuiz(ctx, s.pool, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, quizID)
}

func (s *Store) FindByJoinCode(ctx context.Context, code string) (domain.Quiz, error) {
	return loadQuiz(ctx, s.pool, `SELECT `+quizColumns+` FROM quizzes WHERE join_code = $1`, code)
}

func (s *Store) ListQuizzesByOwner(ctx context.Context, ownerID string) ([]domain.Quiz, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM quizzes WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list quizzes: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}

	out := make([]domain.Quiz, 0, len(ids))
	for _, id := range ids {
		quiz, err := s.LoadQuiz(ctx, id)
		if errors.Is(err, domain.ErrQuizNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, quiz)
	}
	return out, nil
}

func (s *Store) DeleteQuiz(ctx context.Context, quizID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quizzes WHERE id = $1`, quizID)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, quizID string, fn func(*domain.Quiz) error) (domain.Quiz, error) {
	var updated domain.Quiz
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		quiz, err := loadQuiz(ctx, tx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1 FOR UPDATE`, quizID)
		if err != nil {
			return err
		}
		if err := fn(&quiz); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE quizzes SET title = $2, description = $3, published = $4, active = $5,
				join_code = $6, current_question_index = $7, ended_at = $8, updated_at = $9
			 WHERE id = $1`,
			quizID, quiz.Title, quiz.Description, quiz.Published, quiz.Active,
			nullString(quiz.JoinCode), quiz.CurrentQuestionIndex, nullTime(quiz.EndedAt), quiz.UpdatedAt)
		if err != nil {
			return translate(err, "update quiz")
		}
		updated = quiz
		return nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return updated, nil
}

func (s *Store) AddQuestion(ctx context.Context, question domain.Question) (domain.Question, error) {
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := lockEditableQuiz(ctx, tx, `SELECT published, active FROM quizzes WHERE id = $1 FOR UPDATE`,
			question.QuizID, domain.ErrQuizNotFound); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM questions WHERE quiz_id = $1`, question.QuizID).Scan(&question.Position); err != nil {
			return fmt.Errorf("count questions: %w", err)
		}
		return insertQuestion(ctx, tx, question)
	})
	if err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

func (s *Store) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	var q domain.Question
	err := s.pool.QueryRow(ctx,
		`SELECT id, quiz_id, text, position FROM questions WHERE id = $1`, questionID).
		Scan(&q.ID, &q.QuizID, &q.Text, &q.Position)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, question_id, text, correct, position FROM answers WHERE question_id = $1 ORDER BY position`, questionID)
	if err != nil {
		return domain.Question{}, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Text, &a.Correct, &a.Position); err != nil {
			return domain.Question{}, fmt.Errorf("load answers: %w", err)
		}
		q.Answers = append(q.Answers, a)
	}
	return q, rows.Err()
}

func (s *Store) ReplaceQuestion(ctx context.Context, question domain.Question) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := lockEditableQuiz(ctx, tx, lockQuestionQuiz, question.ID, domain.ErrQuestionNotFound); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE questions SET text = $2 WHERE id = $1`, question.ID, question.Text)
		if err != nil {
			return fmt.Errorf("update question: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrQuestionNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM answers WHERE question_id = $1`, question.ID); err != nil {
			return fmt.Errorf("replace answers: %w", err)
		}
		return insertAnswers(ctx, tx, question)
	})
}

func (s *Store) DeleteQuestion(ctx context.Context, questionID string) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := lockEditableQuiz(ctx, tx, lockQuestionQuiz, questionID, domain.ErrQuestionNotFound); err != nil {
			return err
		}
		var quizID string
		var position int
		err := tx.QueryRow(ctx,
			`DELETE FROM questions WHERE id = $1 RETURNING quiz_id, position`, questionID).Scan(&quizID, &position)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrQuestionNotFound
		}
		if err != nil {
			return fmt.Errorf("delete question: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE questions SET position = position - 1 WHERE quiz_id = $1 AND position > $2`, quizID, position)
		if err != nil {
			return fmt.Errorf("renumber questions: %w", err)
		}
		return nil
	})
}

// UpsertParticipant holds a share lock on the quiz row so that a concurrent
// unpublish or end (which take FOR UPDATE) cannot interleave with the join.
func (s *Store) UpsertParticipant(ctx context.Context, p domain.Participant) (domain.Participant, bool, error) {
	var (
		out     domain.Participant
		created bool
	)
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		var published bool
		err := tx.QueryRow(ctx, `SELECT published FROM quizzes WHERE id = $1 FOR SHARE`, p.QuizID).Scan(&published)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrQuizNotFound
		}
		if err != nil {
			return fmt.Errorf("lock quiz: %w", err)
		}
		if !published {
			return domain.ErrQuizNotPublished
		}

		inserted, err := scanParticipant(tx.QueryRow(ctx,
			`INSERT INTO participants (id, quiz_id, user_key, user_id, display_name, joined_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT ON CONSTRAINT participants_quiz_user_key DO NOTHING
			 RETURNING id, quiz_id, user_id, display_name, joined_at`,
			p.ID, p.QuizID, p.Key(), nullString(p.UserID), p.DisplayName, p.JoinedAt))
		if err == nil {
			out, created = inserted, true
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return translate(err, "join")
		}

		existing, err := scanParticipant(tx.QueryRow(ctx,
			`SELECT id, quiz_id, user_id, display_name, joined_at FROM participants
			 WHERE quiz_id = $1 AND user_key = $2`, p.QuizID, p.Key()))
		if err != nil {
			return fmt.Errorf("load participant: %w", err)
		}
		out = existing
		return nil
	})
	if err != nil {
		return domain.Participant{}, false, err
	}
	return out, created, nil
}

func (s *Store) ListParticipants(ctx context.Context, quizID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, quiz_id, user_id, display_name, joined_at FROM participants
		 WHERE quiz_id = $1 ORDER BY joined_at, seq`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("list participants: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var p domain.Participant
	var userID *string
	if err := row.Scan(&p.ID, &p.QuizID, &userID, &p.DisplayName, &p.JoinedAt); err != nil {
		return domain.Participant{}, err
	}
	if userID != nil {
		p.UserID = *userID
	}
	return p, nil
}

func (s *Store) CreateResult(ctx context.Context, result domain.Result) error {
	answers, err := json.Marshal(nonNilAnswers(result.Answers))
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO results (id, quiz_id, user_id, score, total_questions, correct_answers, answers, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		result.ID, result.QuizID, result.UserID, result.Score, result.TotalQuestions,
		result.CorrectAnswers, answers, result.CreatedAt)
	if err != nil {
		return translate(err, "create result")
	}
	return nil
}

const resultColumns = `id, quiz_id, user_id, score, total_questions, correct_answers, answers, created_at`

func (s *Store) GetResult(ctx context.Context, resultID string) (domain.Result, error) {
	result, err := scanResult(s.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM results WHERE id = $1`, resultID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Result{}, domain.ErrResultNotFound
	}
	if err != nil {
		return domain.Result{}, fmt.Errorf("load result: %w", err)
	}
	return result, nil
}

func (s *Store) ListResults(ctx context.Context, quizID string) ([]domain.Result, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resultColumns+` FROM results WHERE quiz_id = $1 ORDER BY seq`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Result, 0)
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("list results: %w", err)
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

func scanResult(row pgx.Row) (domain.Result, error) {
	var r domain.Result
	var answers []byte
	if err := row.Scan(&r.ID, &r.QuizID, &r.UserID, &r.Score, &r.TotalQuestions,
		&r.CorrectAnswers, &answers, &r.CreatedAt); err != nil {
		return domain.Result{}, err
	}
	r.Answers = map[string]string{}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &r.Answers); err != nil {
			return domain.Result{}, fmt.Errorf("decode answers: %w", err)
		}
	}
	return r, nil
}

func loadQuiz(ctx context.Context, q querier, query string, arg interface{}) (domain.Quiz, error) {
	var quiz domain.Quiz
	var joinCode *string
	var endedAt *time.Time
	err := q.QueryRow(ctx, query, arg).Scan(&quiz.ID, &quiz.Title, &quiz.Description, &quiz.OwnerID,
		&quiz.Published, &quiz.Active, &joinCode, &quiz.CurrentQuestionIndex, &endedAt,
		&quiz.CreatedAt, &quiz.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	if joinCode != nil {
		quiz.JoinCode = *joinCode
	}
	if endedAt != nil {
		quiz.EndedAt = *endedAt
	}

	questions, err := loadQuestions(ctx, q, quiz.ID)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz.Questions = questions
	return quiz, nil
}

// loadQuestions reads questions and answers in one pass, both in position order.
func loadQuestions(ctx context.Context, q querier, quizID string) ([]domain.Question, error) {
	rows, err := q.Query(ctx,
		`SELECT q.id, q.text, q.position, a.id, a.text, a.correct, a.position
		 FROM questions q LEFT JOIN answers a ON a.question_id = q.id
		 WHERE q.quiz_id = $1
		 ORDER BY q.position, a.position`, quizID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	questions := make([]domain.Question, 0)
	for rows.Next() {
		var (
			question domain.Question
			answerID *string
			text     *string
			correct  *bool
			position *int
		)
		if err := rows.Scan(&question.ID, &question.Text, &question.Position,
			&answerID, &text, &correct, &position); err != nil {
			return nil, fmt.Errorf("load questions: %w", err)
		}
		if n := len(questions); n == 0 || questions[n-1].ID != question.ID {
			question.QuizID = quizID
			questions = append(questions, question)
		}
		if answerID != nil {
			last := &questions[len(questions)-1]
			last.Answers = append(last.Answers, domain.Answer{
				ID:         *answerID,
				QuestionID: last.ID,
				Text:       *text,
				Correct:    *correct,
				Position:   *position,
			})
		}
	}
	return questions, rows.Err()
}

const lockQuestionQuiz = `SELECT z.published, z.active FROM questions q
	JOIN quizzes z ON z.id = q.quiz_id WHERE q.id = $1 FOR UPDATE OF z`

// lockEditableQuiz locks the quiz row selected by query and fails with
// domain.ErrQuizLocked while the quiz is published or active.
func lockEditableQuiz(ctx context.Context, q querier, query, id string, notFound error) error {
	var published, active bool
	err := q.QueryRow(ctx, query, id).Scan(&published, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("lock quiz: %w", err)
	}
	if published || active {
		return domain.ErrQuizLocked
	}
	return nil
}

func insertQuestion(ctx context.Context, q querier, question domain.Question) error {
	_, err := q.Exec(ctx,
		`INSERT INTO questions (id, quiz_id, text, position) VALUES ($1, $2, $3, $4)`,
		question.ID, question.QuizID, question.Text, question.Position)
	if err != nil {
		return translate(err, "insert question")
	}
	return insertAnswers(ctx, q, question)
}

func insertAnswers(ctx context.Context, q querier, question domain.Question) error {
	for i, a := range question.Answers {
		_, err := q.Exec(ctx,
			`INSERT INTO answers (id, question_id, text, correct, position) VALUES ($1, $2, $3, $4, $5)`,
			a.ID, question.ID, a.Text, a.Correct, i)
		if err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
	}
	return nil
}

// translate maps constraint violations onto domain errors.
func translate(err error, op string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case "quizzes_join_code_key":
			return domain.ErrJoinCodeTaken
		case "users_username_key":
			return domain.ErrUsernameTaken
		case "users_email_key":
			return domain.ErrEmailTaken
		}
	case pgForeignKeyViolation:
		switch pgErr.ConstraintName {
		case "quizzes_owner_id_fkey", "results_user_id_fkey":
			return domain.ErrUserNotFound
		default:
			return domain.ErrQuizNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNilAnswers(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	return in
}
