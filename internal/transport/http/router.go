package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// API serves the REST endpoints of the quiz service.
type API struct {
	service  *app.QuizService
	tokens   *TokenIssuer
	validate *validator.Validate
}

func NewAPI(service *app.QuizService, tokens *TokenIssuer) *API {
	return &API{service: service, tokens: tokens, validate: validator.New()}
}

// NewRouter wires the REST API, the websocket endpoint and the health check.
func NewRouter(api *API, ws *WSHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if ws != nil {
		r.HandleFunc("/ws", ws.ServeWS)
	}

	authed := api.tokens.Require()
	optional := api.tokens.Optional()
	route := func(path string, mw mux.MiddlewareFunc, fn http.HandlerFunc, methods ...string) {
		var h http.Handler = fn
		if mw != nil {
			h = mw(h)
		}
		r.Handle("/api"+path, h).Methods(methods...)
	}

	route("/auth/register", nil, api.register, http.MethodPost)
	route("/auth/login", nil, api.login, http.MethodPost)

	route("/quizzes", authed, api.listQuizzes, http.MethodGet)
	route("/quizzes", authed, api.createQuiz, http.MethodPost)
	route("/quizzes/{id}", authed, api.getQuiz, http.MethodGet)
	route("/quizzes/{id}", authed, api.deleteQuiz, http.MethodDelete)
	route("/quizzes/{id}/questions", authed, api.addQuestion, http.MethodPost)
	route("/questions/{id}", authed, api.updateQuestion, http.MethodPut)
	route("/questions/{id}", authed, api.deleteQuestion, http.MethodDelete)

	route("/quizzes/{id}/publish", authed, api.transition(api.service.Publish), http.MethodPost)
	route("/quizzes/{id}/unpublish", authed, api.transition(api.service.Unpublish), http.MethodPost)
	route("/quizzes/{id}/start", authed, api.transition(api.service.Start), http.MethodPost)
	route("/quizzes/{id}/end", authed, api.transition(api.service.End), http.MethodPost)
	route("/quizzes/{id}/advance", authed, api.advance, http.MethodPost)

	route("/quizzes/{id}/status", nil, api.status, http.MethodGet)
	route("/join/{code}", nil, api.joinInfo, http.MethodGet)
	route("/quizzes/{id}/participants", optional, api.join, http.MethodPost)
	route("/quizzes/{id}/participants", nil, api.participants, http.MethodGet)

	route("/results", authed, api.submitResult, http.MethodPost)
	route("/results/{id}", authed, api.resultDetail, http.MethodGet)
	route("/quizzes/{id}/leaderboard", nil, api.leaderboard, http.MethodGet)
	route("/quizzes/{id}/leaderboard/top", authed, api.topResults, http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{Kind: string(domain.KindNotFound), Message: "route not found"}})
	})
	return r
}

// CORS wraps h with the allowed browser origins. An empty list allows any origin.
func CORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler(h)
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.service.RegisterUser(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respondWithToken(w, http.StatusCreated, user)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	a.respondWithToken(w, http.StatusOK, user)
}

func (a *API) respondWithToken(w http.ResponseWriter, status int, user domain.User) {
	token, expiresAt, err := a.tokens.Issue(user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, ExpiresAt: expiresAt, User: user})
}

type createQuizRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

func (a *API) listQuizzes(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	quizzes, err := a.service.ListQuizzes(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (a *API) createQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if !a.decode(w, r, &req) {
		return
	}
	actor, _ := ActorFrom(r.Context())
	quiz, err := a.service.CreateQuiz(r.Context(), actor.UserID, req.Title, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (a *API) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, ok := a.ownedQuiz(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (a *API) deleteQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, ok := a.ownedQuiz(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	if err := a.service.DeleteQuiz(r.Context(), quiz.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type answerRequest struct {
	Text    string `json:"text" validate:"required,max=500"`
	Correct bool   `json:"correct"`
}

type questionRequest struct {
	Text    string          `json:"text" validate:"required,max=1000"`
	Answers []answerRequest `json:"answers" validate:"required,min=1,dive"`
}

type updateQuestionRequest struct {
	Text    *string         `json:"text" validate:"omitempty,max=1000"`
	Answers []answerRequest `json:"answers" validate:"omitempty,dive"`
}

func toAnswerInputs(in []answerRequest) []app.AnswerInput {
	if in == nil {
		return nil
	}
	out := make([]app.AnswerInput, len(in))
	for i, a := range in {
		out[i] = app.AnswerInput{Text: a.Text, Correct: a.Correct}
	}
	return out
}

func (a *API) addQuestion(w http.ResponseWriter, r *http.Request) {
	quiz, ok := a.ownedQuiz(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	var req questionRequest
	if !a.decode(w, r, &req) {
		return
	}
	question, err := a.service.AddQuestion(r.Context(), quiz.ID, app.QuestionInput{
		Text:    req.Text,
		Answers: toAnswerInputs(req.Answers),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, question)
}

func (a *API) updateQuestion(w http.ResponseWriter, r *http.Request) {
	question, ok := a.ownedQuestion(w, r)
	if !ok {
		return
	}
	var req updateQuestionRequest
	if !a.decode(w, r, &req) {
		return
	}
	updated, err := a.service.UpdateQuestion(r.Context(), question.ID, app.QuestionUpdate{
		Text:    req.Text,
		Answers: toAnswerInputs(req.Answers),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	question, ok := a.ownedQuestion(w, r)
	if !ok {
		return
	}
	if err := a.service.DeleteQuestion(r.Context(), question.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionFunc func(ctx context.Context, quizID string) (domain.Quiz, error)

// transition runs an owner-only lifecycle operation and replies with the new status.
func (a *API) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quiz, ok := a.ownedQuiz(w, r, mux.Vars(r)["id"])
		if !ok {
			return
		}
		updated, err := fn(r.Context(), quiz.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, app.StatusOf(updated))
	}
}

type advanceRequest struct {
	Index *int `json:"index" validate:"required"`
}

func (a *API) advance(w http.ResponseWriter, r *http.Request) {
	quiz, ok := a.ownedQuiz(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	var req advanceRequest
	if !a.decode(w, r, &req) {
		return
	}
	updated, err := a.service.Advance(r.Context(), quiz.ID, *req.Index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app.StatusOf(updated))
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	status, err := a.service.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// publicQuiz is what players see after entering a join code.
type publicQuiz struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	JoinCode    string                `json:"joinCode"`
	Active      bool                  `json:"active"`
	Questions   []domain.QuestionView `json:"questions"`
}

func (a *API) joinInfo(w http.ResponseWriter, r *http.Request) {
	quiz, err := a.service.GetQuizByJoinCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]domain.QuestionView, len(quiz.Questions))
	for i, q := range quiz.Questions {
		views[i] = q.View()
	}
	writeJSON(w, http.StatusOK, publicQuiz{
		ID:          quiz.ID,
		Title:       quiz.Title,
		Description: quiz.Description,
		JoinCode:    quiz.JoinCode,
		Active:      quiz.Active,
		Questions:   views,
	})
}

type joinRequest struct {
	Name string `json:"name" validate:"max=100"`
}

func (a *API) join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	actor, _ := ActorFrom(r.Context())
	participant, err := a.service.Join(r.Context(), mux.Vars(r)["id"], actor.UserID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

func (a *API) participants(w http.ResponseWriter, r *http.Request) {
	list, err := a.service.ListParticipants(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type submitResultRequest struct {
	QuizID         string            `json:"quizId" validate:"required"`
	Score          int               `json:"score"`
	TotalQuestions int               `json:"totalQuestions"`
	CorrectAnswers int               `json:"correctAnswers"`
	Answers        map[string]string `json:"answers"`
}

func (a *API) submitResult(w http.ResponseWriter, r *http.Request) {
	var req submitResultRequest
	if !a.decode(w, r, &req) {
		return
	}
	actor, _ := ActorFrom(r.Context())
	result, err := a.service.SubmitResult(r.Context(), app.ResultSubmission{
		UserID:         actor.UserID,
		QuizID:         req.QuizID,
		Score:          req.Score,
		TotalQuestions: req.TotalQuestions,
		CorrectAnswers: req.CorrectAnswers,
		Answers:        req.Answers,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// resultDetail is visible to the player who submitted it and to the quiz owner.
func (a *API) resultDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetResultDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	actor, _ := ActorFrom(r.Context())
	if detail.Result.UserID != actor.UserID {
		if _, ok := a.ownedQuiz(w, r, detail.Result.QuizID); !ok {
			return
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.Leaderboard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) topResults(w http.ResponseWriter, r *http.Request) {
	quiz, ok := a.ownedQuiz(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	entries, err := a.service.TopResults(r.Context(), quiz.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ownedQuiz loads a quiz and checks that the caller owns it, writing the
// error response otherwise.
func (a *API) ownedQuiz(w http.ResponseWriter, r *http.Request, quizID string) (domain.Quiz, bool) {
	quiz, err := a.service.GetQuiz(r.Context(), quizID)
	if err != nil {
		writeError(w, err)
		return domain.Quiz{}, false
	}
	actor, _ := ActorFrom(r.Context())
	if quiz.OwnerID != actor.UserID {
		writeError(w, domain.ErrForbidden)
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (a *API) ownedQuestion(w http.ResponseWriter, r *http.Request) (domain.Question, bool) {
	question, err := a.service.GetQuestion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return domain.Question{}, false
	}
	if _, ok := a.ownedQuiz(w, r, question.QuizID); !ok {
		return domain.Question{}, false
	}
	return question, true
}

// decode reads a JSON body into dst and validates it.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, &domain.Error{Kind: domain.KindValidation, Message: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, &domain.Error{Kind: domain.KindValidation, Message: validationMessage(err)})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

var statusByKind = map[domain.Kind]int{
	domain.KindNotFound:          http.StatusNotFound,
	domain.KindValidation:        http.StatusBadRequest,
	domain.KindConflict:          http.StatusConflict,
	domain.KindResourceExhausted: http.StatusServiceUnavailable,
	domain.KindState:             http.StatusConflict,
	domain.KindForbidden:         http.StatusForbidden,
	domain.KindUnauthorized:      http.StatusUnauthorized,
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status, ok := statusByKind[kind]
	message := err.Error()
	if !ok {
		log.Printf("internal error: %v", err)
		status = http.StatusInternalServerError
		kind = domain.KindInternal
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: string(kind), Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
