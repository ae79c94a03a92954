package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/controlroom/internal/config"
	"github.com/goatkit/controlroom/internal/dispatcher"
	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/repository"
)

func TestFullVerificationFlow(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, "CSFLOW0001")

	w := env.do(t, http.MethodPost, "/api/verify-case", gin.H{"case_id": "csflow0001"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "verified", body["status"])
	assert.Equal(t, id, body["uuid"])
	assert.Equal(t, "credentials", body["next_step"])
	assert.NotEmpty(t, body["guest_token"])

	steps := []struct {
		submitPath string
		payload    gin.H
		acceptPath string
		status     string
		next       string
	}{
		{"/api/submit-credentials", gin.H{"username": "jane", "password": "hunter2"}, "accept-login", "login_accepted", "secret_key"},
		{"/api/submit-secret-key", gin.H{"secret_key": "123456"}, "accept-otp", "otp_accepted", "kyc"},
		{"/api/submit-kyc", gin.H{"kyc_reference": "ref-42"}, "accept-kyc", "kyc_accepted", "completed"},
	}
	for _, step := range steps {
		payload := gin.H{"case_id": "CSFLOW0001"}
		for k, v := range step.payload {
			payload[k] = v
		}
		w := env.do(t, http.MethodPost, step.submitPath, payload, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "submitted", decodeBody(t, w)["status"])

		w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/"+step.acceptPath, nil, env.agentToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decodeBody(t, w)
		assert.Equal(t, step.status, body["status"])
		assert.Equal(t, step.next, body["next_stage"])
	}

	s := env.session(t, id)
	assert.Equal(t, models.StageCompleted, s.Stage)
	assert.Equal(t, models.StatusCompleted, s.Status)
	assert.Len(t, s.UserData.VerifiedData, 3)
	assert.Nil(t, s.UserData.CurrentSubmission)
}

func TestIllegalNavigateReportsValidTargets(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, "CSNAV0001")

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/navigate", gin.H{"target_stage": "kyc"}, env.agentToken)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "case_id", body["current_stage"])
	assert.Equal(t, []any{"credentials"}, body["valid_targets"])
	assert.Equal(t, "session:invalid_transition", body["error"].(map[string]any)["code"])
	assert.Equal(t, models.StageCaseID, env.session(t, id).Stage)
}

func TestNavigate(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, "CSNAV0002")

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/navigate", gin.H{"target_stage": "credentials", "clear_data": "none"}, env.agentToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "session_navigated", body["status"])
	assert.Equal(t, "case_id", body["from_stage"])
	assert.Equal(t, "credentials", body["to_stage"])
	assert.Equal(t, "active", body["session_status"])
	assert.Equal(t, "none", body["clear_data_mode"])

	t.Run("clear all needs an admin", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/navigate", gin.H{"target_stage": "case_id", "clear_data": "all"}, env.agentToken)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "session:elevated_role_required", errorCode(t, w))

		w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/navigate", gin.H{"target_stage": "case_id", "clear_data": "all"}, env.adminToken)
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("bad clear mode", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/navigate", gin.H{"target_stage": "credentials", "clear_data": "some"}, env.agentToken)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "session:invalid_clear_mode", errorCode(t, w))
	})

	t.Run("missing target", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/navigate", gin.H{}, env.agentToken)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRejectLogin(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, "CSREJECT1")
	env.verify(t, "CSREJECT1")

	w := env.do(t, http.MethodPost, "/api/submit-credentials", gin.H{"case_id": "CSREJECT1", "username": "jane", "password": "x"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/reject-login", nil, env.agentToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "login_rejected", body["status"])
	assert.Equal(t, "credentials", body["next_stage"])
	assert.Contains(t, body["message"], "Invalid credentials")

	s := env.session(t, id)
	assert.Equal(t, models.StageCredentials, s.Stage)
	assert.Nil(t, s.UserData.CurrentSubmission)

	t.Run("accept without a submission", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/accept-login", nil, env.agentToken)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "session:no_submission", errorCode(t, w))
	})
}

func TestElevatedActions(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, "CSELEV001")

	for _, path := range []string{"force-complete", "mark-unsuccessful"} {
		w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/"+path, gin.H{"reason": "test"}, env.agentToken)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
		assert.Equal(t, "session:elevated_role_required", errorCode(t, w), path)
	}
	assert.Equal(t, models.StatusActive, env.session(t, id).Status)

	// The role check runs before the session is looked up.
	w := env.do(t, http.MethodPost, "/api/sessions/missing/force-complete", gin.H{"reason": "test"}, env.agentToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "session:elevated_role_required", errorCode(t, w))

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/force-complete", gin.H{"reason": "verified by phone"}, env.adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "force_completed", body["status"])
	assert.Equal(t, "case_id", body["from_stage"])

	s := env.session(t, id)
	assert.Equal(t, models.StageCompleted, s.Stage)
	assert.Equal(t, models.StatusActive, s.Status, "close_session was not requested")
}

func TestTerminatedSessionRejectsActions(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, "CSTERM001")

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/mark-unsuccessful", gin.H{"reason": "fraud", "comment": "mismatch"}, env.adminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "marked_unsuccessful", decodeBody(t, w)["status"])

	s := env.session(t, id)
	assert.Equal(t, models.StatusTerminated, s.Status)
	assert.Equal(t, models.StageCompleted, s.Stage)

	for _, tc := range []struct {
		path string
		body gin.H
	}{
		{"accept-login", nil},
		{"navigate", gin.H{"target_stage": "credentials"}},
		{"end", nil},
		{"notes", gin.H{"notes": "late note"}},
	} {
		w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/"+tc.path, tc.body, env.adminToken)
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.path)
		assert.Equal(t, "session:inactive", errorCode(t, w), tc.path)
	}
}

func TestEndSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, "CSEND0001")

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/end", gin.H{"reason": "user left"}, env.agentToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "session_ended", body["status"])
	assert.Equal(t, "terminated", body["session_status"])
}

func TestSubmissionEdgeCases(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t, "CSSUBMIT1")
	env.verify(t, "CSSUBMIT1")

	t.Run("stale submission is acknowledged", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/submit-kyc", gin.H{"case_id": "CSSUBMIT1"}, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "submitted", decodeBody(t, w)["status"])
	})

	t.Run("schema violations are rejected", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/submit-credentials", gin.H{"case_id": "CSSUBMIT1", "username": "jane"}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "session:invalid_submission", errorCode(t, w))
	})

	t.Run("unknown case", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/submit-credentials", gin.H{"case_id": "CSNOPE", "username": "a", "password": "b"}, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing case id", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/submit-credentials", gin.H{"username": "a", "password": "b"}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUserStartedKYC(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t, "CSKYCURL1")

	w := env.do(t, http.MethodPost, "/api/user-started-kyc", gin.H{"case_id": "CSKYCURL1"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "https://kyc.example.test/start", body["kyc_url"])
	assert.NotNil(t, env.session(t, id).LastActivityAt)
}

func TestGuestTokenRequiredOnREST(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Auth.Guest.RequireOnREST = true })
	env.createSession(t, "CSGUEST01")
	env.createSession(t, "CSGUEST02")
	token := env.verify(t, "CSGUEST01")
	foreign := env.verify(t, "CSGUEST02")

	payload := gin.H{"case_id": "CSGUEST01", "username": "jane", "password": "pw"}

	w := env.do(t, http.MethodPost, "/api/submit-credentials", payload, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/submit-credentials", payload, foreign)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/api/submit-credentials", payload, token)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestVerifyCase(t *testing.T) {
	t.Run("unknown case", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(t, http.MethodPost, "/api/verify-case", gin.H{"case_id": "CSMISSING"}, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Invalid case ID", decodeBody(t, w)["error"].(map[string]any)["message"])
	})

	t.Run("store failure is not reported as an unknown case", func(t *testing.T) {
		env := newTestEnv(t)
		env.createSession(t, "CSOUTAGE1")
		d, err := dispatcher.New(dispatcher.Options{
			Sessions:  brokenCaseLookup{env.sessions},
			Logs:      env.sessions,
			Publisher: env.hub,
			Tokens:    env.authority,
		})
		require.NoError(t, err)
		engine, err := NewRouter(Deps{Dispatcher: d, Auth: env.authSvc, Authority: env.authority, Hub: env.hub, Config: env.cfg})
		require.NoError(t, err)
		env.engine = engine

		w := env.do(t, http.MethodPost, "/api/verify-case", gin.H{"case_id": "CSOUTAGE1"}, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "core:internal_error", errorCode(t, w))
	})

	t.Run("empty case id", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(t, http.MethodPost, "/api/verify-case", gin.H{"case_id": "  "}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rate limited per ip", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *config.Config) { cfg.RateLimit.VerifyCasePerHour = 2 })
		for i := 0; i < 2; i++ {
			w := env.do(t, http.MethodPost, "/api/verify-case", gin.H{"case_id": "CSMISSING"}, "")
			assert.Equal(t, http.StatusNotFound, w.Code)
		}
		w := env.do(t, http.MethodPost, "/api/verify-case", gin.H{"case_id": "CSMISSING"}, "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}

type brokenCaseLookup struct {
	*repository.MemorySessionRepository
}

func (brokenCaseLookup) GetByCaseID(context.Context, string) (*models.Session, error) {
	return nil, errors.New("connection refused")
}
