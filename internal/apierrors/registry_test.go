package apierrors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCoreErrorsRegistered(t *testing.T) {
	codes := []string{
		CodeUnauthorized,
		CodeForbidden,
		CodeNotFound,
		CodeRateLimited,
		CodeInternalError,
		CodeInvalidTransition,
		CodeSessionNotFound,
	}

	for _, code := range codes {
		if _, ok := Registry.Get(code); !ok {
			t.Errorf("code %s not registered", code)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInvalidTransition, http.StatusBadRequest},
		{CodeDuplicateCaseID, http.StatusConflict},
		{"unknown:code", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := Registry.HTTPStatus(tt.code); got != tt.status {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.status)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	if msg := Registry.Message(CodeSessionNotFound); msg != "Session not found" {
		t.Errorf("Message = %q", msg)
	}
	if msg := Registry.Message("unknown:code"); msg != "unknown:code" {
		t.Errorf("unknown code should echo itself, got %q", msg)
	}
}

func TestByNamespace(t *testing.T) {
	session := Registry.ByNamespace("session")
	if len(session) != len(sessionErrors) {
		t.Fatalf("expected %d session codes, got %d", len(sessionErrors), len(session))
	}
	for i := 1; i < len(session); i++ {
		if session[i-1].Code > session[i].Code {
			t.Errorf("codes not sorted: %s before %s", session[i-1].Code, session[i].Code)
		}
	}
	if got := Registry.ByNamespace("nope"); len(got) != 0 {
		t.Errorf("expected no codes, got %d", len(got))
	}
}

func TestErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ErrorWithDetails(c, CodeInvalidTransition, "Cannot navigate from 'case_id' to 'kyc'", gin.H{
		"current_stage": "case_id",
		"valid_targets": []string{"credentials"},
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Error        APIError `json:"error"`
		CurrentStage string   `json:"current_stage"`
		ValidTargets []string `json:"valid_targets"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != CodeInvalidTransition || body.CurrentStage != "case_id" || len(body.ValidTargets) != 1 {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if !c.IsAborted() {
		t.Error("context should be aborted")
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Error(c, CodeRateLimited)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
}
