package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"staffdesk/internal/config"
	"staffdesk/internal/middleware"
	"staffdesk/internal/models"
	"staffdesk/internal/permission"
	"staffdesk/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRoles struct {
	calls []string
}

func (r *recordingRoles) Grant(_ context.Context, memberID, roleID string) error {
	r.calls = append(r.calls, "grant:"+memberID+":"+roleID)
	return nil
}

func (r *recordingRoles) Revoke(_ context.Context, memberID, roleID string) error {
	r.calls = append(r.calls, "revoke:"+memberID+":"+roleID)
	return nil
}

type testServer struct {
	t      *testing.T
	cfg    *config.Config
	server *Server
	app    *fiber.App
	roles  *recordingRoles
}

func newTestServer(t *testing.T, policy string) *testServer {
	t.Helper()
	t.Setenv("APP_ENV", "test")

	cfg := &config.Config{
		Env:             "test",
		JWTSecret:       "test-secret",
		JWTIssuer:       "staffdesk",
		HistoryCacheTTL: time.Minute,
		AppealCooldown:  72 * time.Hour,
	}
	middleware.InitMiddleware(cfg)

	policies, err := permission.LoadFile(testutil.WritePolicy(t, policy))
	require.NoError(t, err)

	roles := &recordingRoles{}
	s, err := NewServerWithDeps(cfg, Deps{
		DB:       testutil.NewDB(t),
		Policies: policies,
		Roles:    roles,
	})
	require.NoError(t, err)

	app := fiber.New()
	s.SetupRoutes(app)
	return &testServer{t: t, cfg: cfg, server: s, app: app, roles: roles}
}

func (ts *testServer) token(memberID string, roles ...string) string {
	ts.t.Helper()
	tok, err := middleware.IssueToken(ts.cfg, memberID, roles, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, path, token string, body interface{}) (*http.Response, []byte) {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(ts.t, err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	return resp, raw
}

func (ts *testServer) submitLeave(token, duration string) models.Request {
	ts.t.Helper()
	resp, raw := ts.do(http.MethodPost, "/api/requests", token, fiber.Map{
		"kind":    "loa",
		"payload": fiber.Map{"reason": "exams", "duration": duration},
	})
	require.Equal(ts.t, http.StatusCreated, resp.StatusCode, string(raw))
	var req models.Request
	require.NoError(ts.t, json.Unmarshal(raw, &req))
	return req
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	return body.Code
}

func TestSubmitRequest(t *testing.T) {
	ts := newTestServer(t, testutil.Policy)
	staff := ts.token("1001", "100")

	req := ts.submitLeave(staff, "2w")
	assert.Equal(t, models.KindLOA, req.Kind)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, "2W", req.Payload.Duration)

	t.Run("duplicate pending is a conflict", func(t *testing.T) {
		resp, raw := ts.do(http.MethodPost, "/api/requests", staff, fiber.Map{
			"kind":    "loa",
			"payload": fiber.Map{"reason": "again", "duration": "1d"},
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, models.CodeDuplicatePending, errorCode(t, raw))
	})

	t.Run("missing token", func(t *testing.T) {
		resp, _ := ts.do(http.MethodPost, "/api/requests", "", fiber.Map{"kind": "loa"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("member cannot request leave", func(t *testing.T) {
		resp, raw := ts.do(http.MethodPost, "/api/requests", ts.token("4001", "400"), fiber.Map{
			"kind":    "loa",
			"payload": fiber.Map{"reason": "exams", "duration": "1d"},
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, models.CodeForbidden, errorCode(t, raw))
	})

	t.Run("malformed duration", func(t *testing.T) {
		resp, raw := ts.do(http.MethodPost, "/api/requests", ts.token("1002", "100"), fiber.Map{
			"kind":    "loa",
			"payload": fiber.Map{"reason": "exams", "duration": "soon"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, models.CodeInvalidPayload, errorCode(t, raw))
	})

	t.Run("unknown kind", func(t *testing.T) {
		resp, raw := ts.do(http.MethodPost, "/api/requests", staff, fiber.Map{"kind": "promotion"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, models.CodeValidation, errorCode(t, raw))
	})

	t.Run("invalid body", func(t *testing.T) {
		httpReq := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader("{"))
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+staff)
		resp, err := ts.app.Test(httpReq, -1)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestDecideRequest(t *testing.T) {
	ts := newTestServer(t, testutil.Policy)
	staff := ts.token("1001", "100")
	senior := ts.token("2001", "200")

	req := ts.submitLeave(staff, "1w")

	t.Run("submitter cannot decide", func(t *testing.T) {
		resp, _ := ts.do(http.MethodPost, "/api/requests/"+req.ID+"/accept", staff, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("deny needs a reason for leave", func(t *testing.T) {
		resp, raw := ts.do(http.MethodPost, "/api/requests/"+req.ID+"/deny", senior, fiber.Map{"reason": "  "})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, models.CodeReasonRequired, errorCode(t, raw))
	})

	resp, raw := ts.do(http.MethodPost, "/api/requests/"+req.ID+"/accept", senior, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var accepted models.Request
	require.NoError(t, json.Unmarshal(raw, &accepted))
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.ResolverID)
	assert.Equal(t, "2001", *accepted.ResolverID)
	assert.Equal(t, []string{"grant:1001:900"}, ts.roles.calls)

	t.Run("second decision conflicts", func(t *testing.T) {
		resp, raw := ts.do(http.MethodPost, "/api/requests/"+req.ID+"/deny", ts.token("2002", "200"), fiber.Map{"reason": "late"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, models.CodeAlreadyResolved, errorCode(t, raw))
	})

	t.Run("unknown id", func(t *testing.T) {
		resp, _ := ts.do(http.MethodPost, "/api/requests/does-not-exist/accept", senior, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("effects are visible to reviewers", func(t *testing.T) {
		resp, raw := ts.do(http.MethodGet, "/api/requests/"+req.ID+"/effects", senior, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var effects []models.SideEffect
		require.NoError(t, json.Unmarshal(raw, &effects))
		assert.NotEmpty(t, effects)

		resp, _ = ts.do(http.MethodGet, "/api/requests/"+req.ID+"/effects", staff, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("leave status", func(t *testing.T) {
		resp, raw := ts.do(http.MethodGet, "/api/members/1001/leave", staff, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Active     *models.Request `json:"active"`
			PastLeaves int64           `json:"past_leaves"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		require.NotNil(t, body.Active)
		assert.Equal(t, req.ID, body.Active.ID)
		assert.Zero(t, body.PastLeaves)
	})
}

func TestReadEndpoints(t *testing.T) {
	ts := newTestServer(t, testutil.Policy)
	staff := ts.token("1001", "100")
	senior := ts.token("2001", "200")
	req := ts.submitLeave(staff, "3d")

	t.Run("owner reads own request", func(t *testing.T) {
		resp, _ := ts.do(http.MethodGet, "/api/requests/"+req.ID, staff, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("stranger sees not found", func(t *testing.T) {
		resp, _ := ts.do(http.MethodGet, "/api/requests/"+req.ID, ts.token("4001", "400"), nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("my requests", func(t *testing.T) {
		resp, raw := ts.do(http.MethodGet, "/api/requests/me?kind=loa", staff, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var rows []models.Request
		require.NoError(t, json.Unmarshal(raw, &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, req.ID, rows[0].ID)
	})

	t.Run("bad kind filter", func(t *testing.T) {
		resp, _ := ts.do(http.MethodGet, "/api/requests/me?kind=nope", staff, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("member history needs history_view", func(t *testing.T) {
		resp, _ := ts.do(http.MethodGet, "/api/members/1001/requests", ts.token("1002", "100"), nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, raw := ts.do(http.MethodGet, "/api/members/1001/requests", senior, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var rows []models.Request
		require.NoError(t, json.Unmarshal(raw, &rows))
		assert.Len(t, rows, 1)
	})

	t.Run("subject history", func(t *testing.T) {
		resp, raw := ts.do(http.MethodGet, "/api/members/1001/subject-requests", senior, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var rows []models.Request
		require.NoError(t, json.Unmarshal(raw, &rows))
		assert.Len(t, rows, 1)
	})

	t.Run("queue", func(t *testing.T) {
		resp, raw := ts.do(http.MethodGet, "/api/queues/loa?limit=500", senior, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Requests []models.Request `json:"requests"`
			Limit    int              `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Len(t, body.Requests, 1)
		assert.Equal(t, maxPaginationLimit, body.Limit)

		resp, _ = ts.do(http.MethodGet, "/api/queues/loa", staff, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, _ = ts.do(http.MethodGet, "/api/queues/unknown", senior, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("attach artifact", func(t *testing.T) {
		resp, raw := ts.do(http.MethodPut, "/api/requests/"+req.ID+"/artifact", senior,
			fiber.Map{"channel_id": "555", "message_id": "777"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
		var got models.Request
		require.NoError(t, json.Unmarshal(raw, &got))
		require.NotNil(t, got.ArtifactMessageID)
		assert.Equal(t, "777", *got.ArtifactMessageID)

		resp, _ = ts.do(http.MethodPut, "/api/requests/"+req.ID+"/artifact", senior,
			fiber.Map{"channel_id": "", "message_id": "777"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t, testutil.Policy)
	staff := ts.token("1001", "100")
	admin := ts.token("3001", "300")
	req := ts.submitLeave(staff, "1d")

	t.Run("purge", func(t *testing.T) {
		resp, _ := ts.do(http.MethodDelete, "/api/admin/requests/"+req.ID, staff, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, _ = ts.do(http.MethodDelete, "/api/admin/requests/"+req.ID, admin, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = ts.do(http.MethodGet, "/api/requests/"+req.ID, staff, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("reload policies", func(t *testing.T) {
		resp, _ := ts.do(http.MethodPost, "/api/admin/policies/reload", staff, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, _ = ts.do(http.MethodPost, "/api/admin/policies/reload", admin, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("feature flags", func(t *testing.T) {
		resp, raw := ts.do(http.MethodGet, "/api/admin/feature-flags", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Kinds map[string]bool `json:"kinds"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		for _, k := range models.Kinds {
			assert.True(t, body.Kinds[string(k)], k)
		}

		resp, _ = ts.do(http.MethodGet, "/api/admin/feature-flags", staff, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestRoleEndpoints(t *testing.T) {
	ts := newTestServer(t, testutil.Policy)
	staff := ts.token("1001", "100")
	officer := ts.token("7001", "700")

	t.Run("promotion", func(t *testing.T) {
		resp, _ := ts.do(http.MethodPost, "/api/admin/promotions", staff, fiber.Map{
			"member_id": "1002", "member_roles": []string{"100"}, "role_id": "250",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp, raw := ts.do(http.MethodPost, "/api/admin/promotions", officer, fiber.Map{
			"member_id": "1001", "member_roles": []string{"100"}, "role_id": "250",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
		var change models.RoleChange
		require.NoError(t, json.Unmarshal(raw, &change))
		assert.Equal(t, models.RoleActionPromote, change.Action)
		assert.Equal(t, models.SideEffectOK, change.Status)
		// No redis in tests, so the announcement cannot be delivered.
		assert.Equal(t, models.SideEffectFailed, change.Announcement)
		assert.Contains(t, ts.roles.calls, "grant:1001:250")
	})

	t.Run("promotion rejections", func(t *testing.T) {
		tests := []struct {
			name     string
			body     fiber.Map
			wantCode int
		}{
			{"not staff", fiber.Map{"member_id": "4001", "member_roles": []string{"400"}, "role_id": "250"}, http.StatusBadRequest},
			{"malformed role", fiber.Map{"member_id": "1001", "member_roles": []string{"100"}, "role_id": "rank"}, http.StatusBadRequest},
			{"admin rank needs an admin", fiber.Map{"member_id": "1001", "member_roles": []string{"100"}, "role_id": "300"}, http.StatusForbidden},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, raw := ts.do(http.MethodPost, "/api/admin/promotions", officer, tt.body)
				assert.Equal(t, tt.wantCode, resp.StatusCode, string(raw))
			})
		}
	})

	t.Run("role change", func(t *testing.T) {
		resp, raw := ts.do(http.MethodPost, "/api/admin/roles", officer, fiber.Map{
			"action": "revoke", "member_id": "1001", "member_roles": []string{"100", "250"}, "role_id": "250",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
		assert.Contains(t, ts.roles.calls, "revoke:1001:250")

		resp, _ = ts.do(http.MethodPost, "/api/admin/roles", officer, fiber.Map{
			"action": "promote", "member_id": "1001", "role_id": "250",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = ts.do(http.MethodPost, "/api/admin/roles", staff, fiber.Map{
			"action": "grant", "member_id": "1002", "role_id": "250",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("history", func(t *testing.T) {
		resp, raw := ts.do(http.MethodGet, "/api/members/1001/role-changes", staff, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
		var rows []models.RoleChange
		require.NoError(t, json.Unmarshal(raw, &rows))
		require.Len(t, rows, 2)
		for _, r := range rows {
			assert.Equal(t, "1001", r.MemberID)
		}

		resp, _ = ts.do(http.MethodGet, "/api/members/1002/role-changes", ts.token("1003", "100"), nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestSwaggerDocs(t *testing.T) {
	ts := newTestServer(t, testutil.Policy)

	resp, raw := ts.do(http.MethodGet, "/api/swagger/doc.json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc struct {
		BasePath string                     `json:"basePath"`
		Paths    map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "/api", doc.BasePath)
	for _, p := range []string{"/requests", "/requests/{id}/accept", "/admin/promotions", "/members/{memberId}/role-changes"} {
		assert.Contains(t, doc.Paths, p)
	}
}

func TestHealthChecks(t *testing.T) {
	ts := newTestServer(t, testutil.Policy)

	resp, _ := ts.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := ts.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "healthy", body.Checks["database"])
	assert.Equal(t, "unavailable", body.Checks["redis"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewValidationError("x"), http.StatusBadRequest},
		{models.NewInvalidPayloadError("x", models.NewInvalidFormatError("y")), http.StatusBadRequest},
		{models.NewInvalidFormatError("x"), http.StatusBadRequest},
		{models.NewReasonRequiredError(models.KindLOA), http.StatusUnprocessableEntity},
		{models.NewUnauthorizedError("x"), http.StatusUnauthorized},
		{models.NewForbiddenError("x"), http.StatusForbidden},
		{models.NewNotFoundError("Request", "1"), http.StatusNotFound},
		{models.NewDuplicatePendingError(models.KindLOA), http.StatusConflict},
		{models.NewAlreadyResolvedError("1", models.StatusDenied), http.StatusConflict},
		{models.NewCooldownError(models.KindAppeal, time.Now()), http.StatusConflict},
		{models.NewConfigurationError("x"), http.StatusServiceUnavailable},
		{models.NewDependencyError("redis", fmt.Errorf("down")), http.StatusBadGateway},
		{models.NewInternalError(fmt.Errorf("boom")), http.StatusInternalServerError},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", models.NewForbiddenError("x")), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", defaultPageLimit, 0},
		{"?limit=10&offset=30", 10, 30},
		{"?limit=0&offset=-5", defaultPageLimit, 0},
		{"?limit=1000", maxPaginationLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			app := fiber.New()
			app.Get("/items", func(c *fiber.Ctx) error {
				p := parsePagination(c, defaultPageLimit)
				return c.JSON(fiber.Map{"limit": p.Limit, "offset": p.Offset})
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items"+tt.query, nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			var body map[string]int
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantLimit, body["limit"])
			assert.Equal(t, tt.wantOffset, body["offset"])
		})
	}
}

func TestNewServerWithDepsRequiresCollaborators(t *testing.T) {
	cfg := &config.Config{Env: "test"}
	_, err := NewServerWithDeps(cfg, Deps{})
	assert.Error(t, err)

	_, err = NewServerWithDeps(cfg, Deps{DB: testutil.NewDB(t)})
	assert.Error(t, err)
}
