package domain

import "errors"

// Kind classifies domain errors so transports can map them to stable codes.
type Kind string

const (
	KindInternal          Kind = "internal"
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindResourceExhausted Kind = "resource_exhausted"
	KindState             Kind = "invalid_state"
	KindForbidden         Kind = "forbidden"
	KindUnauthorized      Kind = "unauthorized"
)

// Error is a domain error carrying a Kind. Values are compared by identity, so
// callers wrap them with fmt.Errorf("...: %w", err) and test with errors.Is.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	// ErrUserNotFound is returned when a referenced user does not exist.
	ErrUserNotFound = newError(KindNotFound, "user not found")
	// ErrQuizNotFound is returned when a quiz id or join code does not resolve.
	ErrQuizNotFound = newError(KindNotFound, "quiz not found")
	// ErrQuestionNotFound indicates a question id is invalid.
	ErrQuestionNotFound = newError(KindNotFound, "question not found")
	// ErrResultNotFound indicates a result id is invalid.
	ErrResultNotFound = newError(KindNotFound, "result not found")

	// ErrEmptyQuiz is returned when publishing or starting a quiz without questions.
	ErrEmptyQuiz = newError(KindValidation, "quiz has no questions")
	// ErrInvalidQuestionIndex is returned when advancing outside [0, questionCount).
	ErrInvalidQuestionIndex = newError(KindValidation, "invalid question index")
	// ErrMissingField marks a request without a required field.
	ErrMissingField = newError(KindValidation, "missing required field")
	// ErrNoAnswers is returned for a question without answers.
	ErrNoAnswers = newError(KindValidation, "question needs at least one answer")
	// ErrNoCorrectAnswer is returned for a question without a correct answer.
	ErrNoCorrectAnswer = newError(KindValidation, "question needs at least one correct answer")
	// ErrInvalidResult is returned for inconsistent score figures.
	ErrInvalidResult = newError(KindValidation, "invalid result figures")

	// ErrUsernameTaken is returned when registering a duplicate username.
	ErrUsernameTaken = newError(KindConflict, "username already registered")
	// ErrEmailTaken is returned when registering a duplicate email.
	ErrEmailTaken = newError(KindConflict, "email already registered")
	// ErrJoinCodeTaken is reported by stores when a join code collides with a published quiz.
	ErrJoinCodeTaken = newError(KindConflict, "join code already in use")

	// ErrJoinCodeExhausted is returned when no free join code was found within the retry budget.
	ErrJoinCodeExhausted = newError(KindResourceExhausted, "could not allocate a unique join code")

	// ErrQuizNotPublished is returned when joining a quiz that is not published.
	ErrQuizNotPublished = newError(KindState, "quiz is not published")
	// ErrQuizNotActive is returned when advancing a quiz that has not been started.
	ErrQuizNotActive = newError(KindState, "quiz is not active")
	// ErrQuizLocked is returned when editing questions of a published or active quiz.
	ErrQuizLocked = newError(KindState, "quiz cannot be edited while published")

	// ErrForbidden is returned when the caller does not own the quiz.
	ErrForbidden = newError(KindForbidden, "not the quiz owner")
	// ErrInvalidCredentials is returned by Authenticate on a bad username/password.
	ErrInvalidCredentials = newError(KindUnauthorized, "invalid credentials")
	// ErrUnauthenticated is returned when a request carries no valid token.
	ErrUnauthenticated = newError(KindUnauthorized, "authentication required")
)

// KindOf reports the Kind of the first domain error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
