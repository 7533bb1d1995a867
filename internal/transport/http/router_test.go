package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/events"
	"quiz-session-service/internal/infra/memory"
)

type testEnv struct {
	server  *httptest.Server
	service *app.QuizService
	broker  *events.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	broker := events.NewBroker()
	service := app.NewQuizService(store, memory.NewQuizCache(store, time.Minute), broker)
	tokens := NewTokenIssuer("test-secret-0123456789", time.Hour)

	router := NewRouter(NewAPI(service, tokens), NewWSHandler(service, broker, tokens, nil))
	server := httptest.NewServer(CORS(router, []string{"http://localhost:3000"}))
	t.Cleanup(server.Close)
	return &testEnv{server: server, service: service, broker: broker}
}

func (e *testEnv) call(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	status, raw := e.callRaw(t, method, path, token, body)
	out := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return status, out
}

func (e *testEnv) callList(t *testing.T, method, path, token string) (int, []map[string]interface{}) {
	t.Helper()
	status, raw := e.callRaw(t, method, path, token, nil)
	var out []map[string]interface{}
	if status == http.StatusOK {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return status, out
}

func (e *testEnv) callRaw(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, raw
}

func (e *testEnv) register(t *testing.T, username string) (token, userID string) {
	t.Helper()
	status, body := e.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret-pw",
	})
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d body %v", username, status, body)
	}
	user := body["user"].(map[string]interface{})
	return body["token"].(string), user["id"].(string)
}

func errorKind(body map[string]interface{}) string {
	detail, _ := body["error"].(map[string]interface{})
	kind, _ := detail["kind"].(string)
	return kind
}

func expectStatus(t *testing.T, got, want int, body interface{}) {
	t.Helper()
	if got != want {
		t.Fatalf("expected status %d, got %d (%v)", want, got, body)
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")

	status, body := env.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "secret-pw",
	})
	expectStatus(t, status, http.StatusConflict, body)

	status, body = env.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "al", "email": "not-an-email", "password": "x",
	})
	expectStatus(t, status, http.StatusBadRequest, body)

	status, body = env.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong-pw",
	})
	expectStatus(t, status, http.StatusUnauthorized, body)

	status, body = env.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "secret-pw",
	})
	expectStatus(t, status, http.StatusOK, body)
	if body["token"] == "" {
		t.Fatalf("expected token in login response")
	}

	status, body = env.call(t, http.MethodGet, "/api/quizzes", "not-a-token", nil)
	expectStatus(t, status, http.StatusUnauthorized, body)
	if errorKind(body) != "unauthorized" {
		t.Fatalf("expected unauthorized kind, got %v", body)
	}
}

func TestQuizSessionFlow(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.register(t, "alice")
	bob, bobID := env.register(t, "bob")

	status, quiz := env.call(t, http.MethodPost, "/api/quizzes", alice, map[string]string{"title": "Capitals"})
	expectStatus(t, status, http.StatusCreated, quiz)
	quizID := quiz["id"].(string)
	base := "/api/quizzes/" + quizID

	status, body := env.call(t, http.MethodPost, base+"/publish", alice, nil)
	expectStatus(t, status, http.StatusBadRequest, body)

	status, body = env.call(t, http.MethodPost, base+"/questions", alice, map[string]interface{}{
		"text":    "Capital of France?",
		"answers": []map[string]interface{}{{"text": "Lyon"}, {"text": "Paris", "correct": true}},
	})
	expectStatus(t, status, http.StatusCreated, body)
	questionID := body["id"].(string)

	status, body = env.call(t, http.MethodPost, base+"/questions", alice, map[string]interface{}{
		"text":    "No right answer",
		"answers": []map[string]interface{}{{"text": "a"}},
	})
	expectStatus(t, status, http.StatusBadRequest, body)

	status, body = env.call(t, http.MethodPost, base+"/publish", bob, nil)
	expectStatus(t, status, http.StatusForbidden, body)

	status, body = env.call(t, http.MethodPost, base+"/publish", alice, nil)
	expectStatus(t, status, http.StatusOK, body)
	code, _ := body["joinCode"].(string)
	if len(code) != app.JoinCodeLength || body["state"] != "published" {
		t.Fatalf("unexpected publish status %v", body)
	}

	status, body = env.call(t, http.MethodPut, "/api/questions/"+questionID, alice, map[string]interface{}{"text": "changed"})
	expectStatus(t, status, http.StatusConflict, body)
	if errorKind(body) != "invalid_state" {
		t.Fatalf("expected invalid_state, got %v", body)
	}

	status, raw := env.callRaw(t, http.MethodGet, "/api/join/"+strings.ToLower(code), "", nil)
	expectStatus(t, status, http.StatusOK, string(raw))
	if strings.Contains(string(raw), "correct") {
		t.Fatalf("join view must not reveal correctness: %s", raw)
	}

	status, first := env.call(t, http.MethodPost, base+"/participants", "", map[string]string{"name": "Carol"})
	expectStatus(t, status, http.StatusOK, first)
	_, again := env.call(t, http.MethodPost, base+"/participants", "", map[string]string{"name": "Carol"})
	if first["id"] != again["id"] {
		t.Fatalf("expected idempotent join, got %v and %v", first, again)
	}
	status, joined := env.call(t, http.MethodPost, base+"/participants", bob, nil)
	expectStatus(t, status, http.StatusOK, joined)
	if joined["displayName"] != "bob" {
		t.Fatalf("expected username as display name, got %v", joined)
	}
	_, participants := env.callList(t, http.MethodGet, base+"/participants", "")
	if len(participants) != 2 {
		t.Fatalf("expected two participants, got %v", participants)
	}

	status, body = env.call(t, http.MethodPost, base+"/advance", alice, map[string]int{"index": 0})
	expectStatus(t, status, http.StatusConflict, body)

	status, body = env.call(t, http.MethodPost, base+"/start", alice, nil)
	expectStatus(t, status, http.StatusOK, body)
	if body["state"] != "active" || body["currentQuestionIndex"] != float64(0) {
		t.Fatalf("unexpected start status %v", body)
	}

	status, body = env.call(t, http.MethodPost, base+"/advance", alice, map[string]int{"index": 5})
	expectStatus(t, status, http.StatusBadRequest, body)
	status, body = env.call(t, http.MethodPost, base+"/advance", alice, map[string]string{})
	expectStatus(t, status, http.StatusBadRequest, body)

	status, result := env.call(t, http.MethodPost, "/api/results", bob, map[string]interface{}{
		"quizId": quizID, "score": 100, "totalQuestions": 1, "correctAnswers": 1,
		"answers": map[string]string{questionID: "unknown-answer"},
	})
	expectStatus(t, status, http.StatusCreated, result)
	_, _ = env.call(t, http.MethodPost, "/api/results", alice, map[string]interface{}{
		"quizId": quizID, "score": 40, "totalQuestions": 1, "correctAnswers": 0,
	})
	status, body = env.call(t, http.MethodPost, "/api/results", bob, map[string]interface{}{
		"quizId": quizID, "score": 10, "totalQuestions": 1, "correctAnswers": 2,
	})
	expectStatus(t, status, http.StatusBadRequest, body)

	_, board := env.callList(t, http.MethodGet, base+"/leaderboard", "")
	if len(board) != 2 || board[0]["userId"] != bobID || board[0]["username"] != "bob" {
		t.Fatalf("unexpected leaderboard %v", board)
	}
	status, _ = env.callList(t, http.MethodGet, base+"/leaderboard/top", bob)
	expectStatus(t, status, http.StatusForbidden, nil)
	status, top := env.callList(t, http.MethodGet, base+"/leaderboard/top", alice)
	expectStatus(t, status, http.StatusOK, top)

	status, detail := env.call(t, http.MethodGet, "/api/results/"+result["id"].(string), alice, nil)
	expectStatus(t, status, http.StatusOK, detail)
	rows := detail["questions"].([]interface{})
	row := rows[0].(map[string]interface{})
	if row["selectedAnswerText"] != "Not answered" || row["correctAnswerText"] != "Paris" || row["isCorrect"] != false {
		t.Fatalf("unexpected breakdown %v", row)
	}

	status, body = env.call(t, http.MethodPost, base+"/end", alice, nil)
	expectStatus(t, status, http.StatusOK, body)
	if body["state"] != "ended" || body["joinCode"] != nil {
		t.Fatalf("unexpected end status %v", body)
	}
	status, body = env.call(t, http.MethodGet, "/api/join/"+code, "", nil)
	expectStatus(t, status, http.StatusNotFound, body)
	status, body = env.call(t, http.MethodPost, base+"/participants", "", map[string]string{"name": "Late"})
	expectStatus(t, status, http.StatusConflict, body)

	status, body = env.call(t, http.MethodDelete, base, alice, nil)
	expectStatus(t, status, http.StatusNoContent, body)
	status, body = env.call(t, http.MethodGet, base+"/status", "", nil)
	expectStatus(t, status, http.StatusNotFound, body)
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	env := newTestEnv(t)

	status, raw := env.callRaw(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || string(raw) != "ok" {
		t.Fatalf("unexpected health response %d %q", status, raw)
	}
	status, body := env.call(t, http.MethodGet, "/api/nope", "", nil)
	expectStatus(t, status, http.StatusNotFound, body)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	// Browsers send the requested header names in lowercase.
	for _, headers := range []string{"authorization", "content-type"} {
		req, _ := http.NewRequest(http.MethodOptions, env.server.URL+"/api/quizzes", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", headers)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("preflight: %v", err)
		}
		resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Fatalf("headers %q: expected allowed origin, got %q", headers, got)
		}
	}
}
