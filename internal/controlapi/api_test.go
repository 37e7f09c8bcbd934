package controlapi_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/featuregate/internal/controlapi"
	"github.com/rafaeljc/featuregate/internal/flagservice"
	"github.com/rafaeljc/featuregate/internal/logger"
	"github.com/rafaeljc/featuregate/internal/registry"
	"github.com/rafaeljc/featuregate/internal/ruleengine"
	"github.com/rafaeljc/featuregate/internal/store"
	"github.com/rafaeljc/featuregate/internal/testsupport"
)

const testAPIKey = "s3cret-key"

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type env struct {
	api *controlapi.API
	svc *flagservice.Service
}

func setup(t *testing.T, repo store.FlagRepository) env {
	t.Helper()
	reg := registry.New(repo, logger.Discard(), registry.Options{BaseBackoff: time.Millisecond})
	svc := flagservice.New(reg, logger.Discard(), flagservice.Options{})
	require.NoError(t, svc.Refresh(context.Background()))
	t.Cleanup(svc.Close)

	return env{
		api: controlapi.NewAPI(svc, logger.Discard(), hashKey(testAPIKey)),
		svc: svc,
	}
}

// do sends an authenticated request on behalf of actor (omitted when empty).
func (e env) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(controlapi.HeaderAPIKey, testAPIKey)
	if actor != "" {
		req.Header.Set(controlapi.HeaderActorID, actor)
	}

	rr := httptest.NewRecorder()
	e.api.Router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (e env) create(t *testing.T, body any) controlapi.Flag {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/v1/flags", "alice", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeBody[controlapi.Flag](t, rr)
}

func TestAPI_CreateFlag(t *testing.T) {
	t.Parallel()

	t.Run("Should apply defaults and record the actor", func(t *testing.T) {
		t.Parallel()
		e := setup(t, store.NewMemoryStore())

		resp := e.create(t, map[string]any{"name": "  CHECKOUT_V2  "})

		assert.NotEmpty(t, resp.ID)
		assert.Equal(t, "CHECKOUT_V2", resp.Name)
		assert.True(t, resp.Enabled)
		assert.Equal(t, 100, resp.RolloutPercentage)
		assert.Equal(t, []string{}, resp.TargetRoles)
		assert.Equal(t, map[string]string{}, resp.Metadata)
		assert.Equal(t, "alice", resp.CreatedBy)
		assert.Equal(t, int64(1), resp.Version)
		assert.False(t, resp.CreatedAt.IsZero())
	})

	t.Run("Should be visible to evaluation immediately", func(t *testing.T) {
		t.Parallel()
		e := setup(t, store.NewMemoryStore())

		e.create(t, controlapi.CreateFlagRequest{
			Name:        "VIP_LOUNGE",
			TargetRoles: []string{"vip"},
		})

		assert.True(t, e.svc.IsFeatureEnabled(context.Background(), "VIP_LOUNGE", ruleengine.Subject{ID: "u1", Role: "vip"}))
		assert.False(t, e.svc.IsFeatureEnabled(context.Background(), "VIP_LOUNGE", ruleengine.Subject{ID: "u1", Role: "guest"}))
	})

	tests := []struct {
		name      string
		body      any
		wantCode  int
		wantError string
		wantField string
	}{
		{name: "broken json", body: `{invalid-json`, wantCode: http.StatusBadRequest, wantError: controlapi.CodeInvalidJSON},
		{name: "empty body", body: ``, wantCode: http.StatusBadRequest, wantError: controlapi.CodeInvalidJSON},
		{name: "blank name", body: map[string]any{"name": "   "}, wantCode: http.StatusBadRequest, wantError: controlapi.CodeInvalidInput, wantField: "name"},
		{name: "rollout above 100", body: map[string]any{"name": "X", "rollout_percentage": 101}, wantCode: http.StatusBadRequest, wantError: controlapi.CodeInvalidInput, wantField: "rollout_percentage"},
		{name: "rollout below 0", body: map[string]any{"name": "X", "rollout_percentage": -5}, wantCode: http.StatusBadRequest, wantError: controlapi.CodeInvalidInput, wantField: "rollout_percentage"},
	}

	for _, tt := range tests {
		t.Run("Should reject "+tt.name, func(t *testing.T) {
			t.Parallel()
			e := setup(t, store.NewMemoryStore())

			rr := e.do(t, http.MethodPost, "/api/v1/flags", "alice", tt.body)

			require.Equal(t, tt.wantCode, rr.Code)
			errResp := decodeBody[controlapi.ErrorResponse](t, rr)
			assert.Equal(t, tt.wantError, errResp.Code)
			if tt.wantField != "" {
				require.Len(t, errResp.Details, 1)
				assert.Equal(t, tt.wantField, errResp.Details[0].Field)
			}
		})
	}

	t.Run("Should reject duplicate names", func(t *testing.T) {
		t.Parallel()
		e := setup(t, store.NewMemoryStore())
		e.create(t, map[string]any{"name": "DUP"})

		rr := e.do(t, http.MethodPost, "/api/v1/flags", "alice", map[string]any{"name": "DUP"})

		require.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, controlapi.CodeDuplicateName, decodeBody[controlapi.ErrorResponse](t, rr).Code)
	})
}

func TestAPI_ListFlags(t *testing.T) {
	t.Parallel()
	e := setup(t, store.NewMemoryStore())
	for i := range 5 {
		e.create(t, map[string]any{"name": fmt.Sprintf("FLAG_%d", i)})
	}

	tests := []struct {
		name      string
		query     string
		wantNames []string
		wantPage  controlapi.Pagination
	}{
		{
			name:      "default page holds everything in creation order",
			query:     "",
			wantNames: []string{"FLAG_0", "FLAG_1", "FLAG_2", "FLAG_3", "FLAG_4"},
			wantPage:  controlapi.Pagination{TotalItems: 5, TotalPages: 1, CurrentPage: 1, PageSize: 50},
		},
		{
			name:      "second page",
			query:     "?page=2&page_size=2",
			wantNames: []string{"FLAG_2", "FLAG_3"},
			wantPage:  controlapi.Pagination{TotalItems: 5, TotalPages: 3, CurrentPage: 2, PageSize: 2},
		},
		{
			name:      "page beyond the end is empty",
			query:     "?page=9&page_size=2",
			wantNames: []string{},
			wantPage:  controlapi.Pagination{TotalItems: 5, TotalPages: 3, CurrentPage: 9, PageSize: 2},
		},
		{
			name:      "out of range values are clamped",
			query:     "?page=-1&page_size=100000",
			wantNames: []string{"FLAG_0", "FLAG_1", "FLAG_2", "FLAG_3", "FLAG_4"},
			wantPage:  controlapi.Pagination{TotalItems: 5, TotalPages: 1, CurrentPage: 1, PageSize: 500},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, http.MethodGet, "/api/v1/flags"+tt.query, "alice", nil)
			require.Equal(t, http.StatusOK, rr.Code)

			resp := decodeBody[controlapi.PaginatedResponse](t, rr)
			names := make([]string, 0, len(resp.Data))
			for _, f := range resp.Data {
				names = append(names, f.Name)
			}
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantPage, resp.Pagination)
		})
	}

	t.Run("malformed page is rejected", func(t *testing.T) {
		rr := e.do(t, http.MethodGet, "/api/v1/flags?page=banana", "alice", nil)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, controlapi.CodeInvalidQueryParam, decodeBody[controlapi.ErrorResponse](t, rr).Code)
	})
}

func TestAPI_GetFlag(t *testing.T) {
	t.Parallel()
	e := setup(t, store.NewMemoryStore())
	created := e.create(t, map[string]any{"name": "SEARCH_V3", "metadata": map[string]string{"owner": "search"}})

	rr := e.do(t, http.MethodGet, "/api/v1/flags/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created, decodeBody[controlapi.Flag](t, rr))

	rr = e.do(t, http.MethodGet, "/api/v1/flags/by-name/SEARCH_V3", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created.ID, decodeBody[controlapi.Flag](t, rr).ID)

	for _, path := range []string{"/api/v1/flags/missing-id", "/api/v1/flags/by-name/NOPE"} {
		rr = e.do(t, http.MethodGet, path, "alice", nil)
		require.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, controlapi.CodeNotFound, decodeBody[controlapi.ErrorResponse](t, rr).Code)
	}
}

func TestAPI_UpdateFlag(t *testing.T) {
	t.Parallel()

	t.Run("Should patch only the provided fields", func(t *testing.T) {
		t.Parallel()
		e := setup(t, store.NewMemoryStore())
		created := e.create(t, map[string]any{"name": "BETA", "description": "first", "target_users": []string{"u1"}})

		rr := e.do(t, http.MethodPatch, "/api/v1/flags/"+created.ID, "bob", map[string]any{
			"rollout_percentage": 25,
			"target_users":       []string{},
		})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		resp := decodeBody[controlapi.Flag](t, rr)
		assert.Equal(t, 25, resp.RolloutPercentage)
		assert.Equal(t, "first", resp.Description)
		assert.Empty(t, resp.TargetUsers)
		assert.Equal(t, int64(2), resp.Version)
		assert.Equal(t, "alice", resp.CreatedBy)
	})

	t.Run("Should reject a stale version", func(t *testing.T) {
		t.Parallel()
		e := setup(t, store.NewMemoryStore())
		created := e.create(t, map[string]any{"name": "CAS"})

		first := e.do(t, http.MethodPatch, "/api/v1/flags/"+created.ID, "bob", map[string]any{"description": "one", "version": 1})
		require.Equal(t, http.StatusOK, first.Code)

		second := e.do(t, http.MethodPatch, "/api/v1/flags/"+created.ID, "carol", map[string]any{"description": "two", "version": 1})

		require.Equal(t, http.StatusConflict, second.Code)
		assert.Equal(t, controlapi.CodeConflict, decodeBody[controlapi.ErrorResponse](t, second).Code)
	})

	t.Run("Should reject a rename onto an existing flag", func(t *testing.T) {
		t.Parallel()
		e := setup(t, store.NewMemoryStore())
		e.create(t, map[string]any{"name": "TAKEN"})
		other := e.create(t, map[string]any{"name": "OTHER"})

		rr := e.do(t, http.MethodPatch, "/api/v1/flags/"+other.ID, "bob", map[string]any{"name": "TAKEN"})

		require.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, controlapi.CodeDuplicateName, decodeBody[controlapi.ErrorResponse](t, rr).Code)
	})

	t.Run("Should return 404 for unknown ids", func(t *testing.T) {
		t.Parallel()
		e := setup(t, store.NewMemoryStore())

		rr := e.do(t, http.MethodPatch, "/api/v1/flags/ghost", "bob", map[string]any{"enabled": false})

		require.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestAPI_ToggleFlag(t *testing.T) {
	t.Parallel()
	e := setup(t, store.NewMemoryStore())
	created := e.create(t, map[string]any{"name": "KILL_SWITCH"})
	subject := ruleengine.Subject{ID: "u1"}

	rr := e.do(t, http.MethodPut, "/api/v1/flags/"+created.ID+"/enabled", "ops", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[controlapi.Flag](t, rr).Enabled)
	assert.False(t, e.svc.IsFeatureEnabled(context.Background(), "KILL_SWITCH", subject))

	rr = e.do(t, http.MethodPut, "/api/v1/flags/"+created.ID+"/enabled", "ops", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "enabled", decodeBody[controlapi.ErrorResponse](t, rr).Details[0].Field)
}

func TestAPI_DeleteFlag(t *testing.T) {
	t.Parallel()
	e := setup(t, store.NewMemoryStore())
	created := e.create(t, map[string]any{"name": "TEMP"})

	rr := e.do(t, http.MethodDelete, "/api/v1/flags/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, e.svc.IsFeatureEnabled(context.Background(), "TEMP", ruleengine.Subject{ID: "u1"}))

	rr = e.do(t, http.MethodDelete, "/api/v1/flags/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_Authentication(t *testing.T) {
	t.Parallel()
	e := setup(t, store.NewMemoryStore())

	tests := []struct {
		name     string
		header   string
		value    string
		wantCode int
	}{
		{name: "missing key", wantCode: http.StatusUnauthorized},
		{name: "wrong key", header: controlapi.HeaderAPIKey, value: "guess", wantCode: http.StatusUnauthorized},
		{name: "valid key header", header: controlapi.HeaderAPIKey, value: testAPIKey, wantCode: http.StatusOK},
		{name: "valid bearer token", header: "Authorization", value: "Bearer " + testAPIKey, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/flags", nil)
			req.Header.Set(controlapi.HeaderActorID, "alice")
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()

			e.api.Router.ServeHTTP(rr, req)

			require.Equal(t, tt.wantCode, rr.Code)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Equal(t, controlapi.CodeUnauthorized, decodeBody[controlapi.ErrorResponse](t, rr).Code)
			}
		})
	}

	t.Run("anonymous actor is forbidden", func(t *testing.T) {
		rr := e.do(t, http.MethodPost, "/api/v1/flags", "", map[string]any{"name": "NOPE"})

		require.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, controlapi.CodeForbidden, decodeBody[controlapi.ErrorResponse](t, rr).Code)
	})
}

func TestNewAPI_Guards(t *testing.T) {
	t.Parallel()
	e := setup(t, store.NewMemoryStore())

	assert.Panics(t, func() { controlapi.NewAPI(nil, logger.Discard(), "hash") })
	assert.Panics(t, func() { controlapi.NewAPI(e.svc, logger.Discard(), "") })
	assert.NotPanics(t, func() { controlapi.NewAPIWithConfig(e.svc, nil, "", true) })
}

// brokenRepo fails every read so the API has to surface a 500.
type brokenRepo struct {
	*store.MemoryStore
}

func (brokenRepo) ListAllFlags(context.Context) ([]*store.Flag, error) {
	return nil, errors.New("connection reset by peer")
}

func TestAPI_InternalError(t *testing.T) {
	t.Parallel()
	reg := registry.New(brokenRepo{store.NewMemoryStore()}, logger.Discard(), registry.Options{})
	svc := flagservice.New(reg, logger.Discard(), flagservice.Options{})
	t.Cleanup(svc.Close)
	api := controlapi.NewAPIWithConfig(svc, logger.Discard(), "", true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flags", nil)
	req.Header.Set(controlapi.HeaderActorID, "alice")
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	errResp := decodeBody[controlapi.ErrorResponse](t, rr)
	assert.Equal(t, controlapi.CodeInternal, errResp.Code)
	assert.NotContains(t, errResp.Message, "connection reset")
}

// TestAPI_Metrics is not parallel: it asserts deltas on global collectors.
func TestAPI_Metrics(t *testing.T) {
	e := setup(t, store.NewMemoryStore())
	const total = "featuregate_control_plane_http_requests_total"

	t.Run("records the route pattern, not the raw path", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "path": "/api/v1/flags/{id}", "code": "404"}

		testsupport.AssertMetricDelta(t, total, labels, 1, func() {
			rr := e.do(t, http.MethodGet, "/api/v1/flags/missing-key-123", "alice", nil)
			require.Equal(t, http.StatusNotFound, rr.Code)
		})
		testsupport.AssertHistogramRecorded(t, "featuregate_control_plane_http_handling_seconds",
			map[string]string{"method": "GET", "path": "/api/v1/flags/{id}"})
	})

	t.Run("collapses unknown routes to not_found", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "path": "not_found", "code": "404"}

		testsupport.AssertMetricDelta(t, total, labels, 1, func() {
			rr := e.do(t, http.MethodGet, "/admin.php", "", nil)
			require.Equal(t, http.StatusNotFound, rr.Code)
		})
	})

	t.Run("counts bad requests", func(t *testing.T) {
		labels := map[string]string{"method": "POST", "path": "/api/v1/flags", "code": "400"}

		testsupport.AssertMetricDelta(t, total, labels, 1, func() {
			rr := e.do(t, http.MethodPost, "/api/v1/flags", "alice", `{invalid-json`)
			require.Equal(t, http.StatusBadRequest, rr.Code)
		})
	})
}
