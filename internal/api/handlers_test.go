package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incidents/internal/credentials"
	"github.com/miradorstack/mirador-incidents/internal/engine"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/services"
	"github.com/miradorstack/mirador-incidents/internal/store/memory"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

type recordingRunner struct {
	got models.AnalysisRequest
	err error
}

func (r *recordingRunner) Run(_ context.Context, req models.AnalysisRequest) (models.AnalysisReport, error) {
	r.got = req
	if r.err != nil {
		return models.AnalysisReport{}, r.err
	}
	return models.AnalysisReport{RunID: "run-1", UserID: req.UserID}, nil
}

type echoResponder struct {
	context int
}

func (e *echoResponder) Reply(_ context.Context, message string, incidents []models.Incident) (string, error) {
	e.context = len(incidents)
	return "echo: " + message, nil
}

type fixture struct {
	router http.Handler
	store  *memory.Store
	runner *recordingRunner
	chat   *echoResponder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memory.New()
	playbooks, err := engine.NewPlaybookEngine("", nil)
	require.NoError(t, err)
	runner := &recordingRunner{}
	chat := &echoResponder{}
	svc := services.NewIncidentService(services.Deps{
		Runner:      runner,
		Incidents:   st,
		Rules:       st,
		Playbooks:   playbooks,
		Credentials: credentials.NewManager(st, nil, nil, nil),
		Chat:        chat,
	}, nil)
	return fixture{router: NewRouter(svc, nil), store: st, runner: runner, chat: chat}
}

func (f fixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func bearer(userID string) http.Header {
	claims, _ := json.Marshal(map[string]string{"user_id": userID})
	return http.Header{"Authorization": []string{"Bearer " + base64.StdEncoding.EncodeToString(claims)}}
}

func TestAnalyzeUsesBearerUser(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/analyze", map[string]int{"time_range_minutes": 30, "max_traces": 4}, bearer("alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", f.runner.got.UserID)
	assert.Equal(t, 30, f.runner.got.WindowMinutes)
	assert.Equal(t, 4, f.runner.got.MaxTraces)

	rec = f.do(t, http.MethodPost, "/api/v1/analyze", nil, http.Header{"Authorization": []string{"Bearer not-base64!"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.DefaultUserID, f.runner.got.UserID)
}

func TestAnalyzeMapsErrorKinds(t *testing.T) {
	f := newFixture(t)
	f.runner.err = utils.E(utils.KindCredentialsNotFound, "test", "no credentials for user", nil)

	rec := f.do(t, http.MethodPost, "/api/v1/analyze", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, utils.KindCredentialsNotFound, body.Error.Kind)
	assert.Equal(t, "no credentials for user", body.Error.Message)

	rec = f.do(t, http.MethodPost, "/api/v1/analyze", map[string]int{"time_range_minutes": -5}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIncidentRoutes(t *testing.T) {
	f := newFixture(t)
	inc, err := f.store.Append(context.Background(), models.Incident{
		TraceID:   "trace-1",
		Timestamp: time.Now(),
		Status:    models.StatusOpen,
		Analysis:  models.AnalysisResult{Category: "Database", Priority: models.PriorityP1},
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/incidents?status=open", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[services.Page[models.Incident]](t, rec)
	assert.Equal(t, 1, page.Total)

	rec = f.do(t, http.MethodGet, "/api/v1/incidents/"+inc.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-1", decodeBody[models.Incident](t, rec).TraceID)

	rec = f.do(t, http.MethodPatch, "/api/v1/incidents/"+inc.ID+"/status", map[string]string{"status": "resolved"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := f.store.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)

	rec = f.do(t, http.MethodPatch, "/api/v1/incidents/"+inc.ID+"/status", map[string]string{"status": "closed"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/incidents/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupRoutes(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Append(context.Background(), models.Incident{
		TraceID:         "trace-9",
		ServiceName:     "checkout",
		Timestamp:       time.Now(),
		OccurrenceCount: 3,
		Status:          models.StatusOpen,
		Analysis:        models.AnalysisResult{Category: "Network", Action: "Restart the gateway"},
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/groups", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[services.Page[models.Group]](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "trace-9", page.Items[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/groups/trace-9", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/groups/trace-9/playbook", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	steps := decodeBody[map[string][]string](t, rec)["steps"]
	require.NotEmpty(t, steps)
	assert.Equal(t, "Restart the gateway", steps[0])

	rec = f.do(t, http.MethodGet, "/api/v1/groups/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuleRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/alerts/rules", map[string]any{"name": "db", "category": "Database", "enabled": true}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[models.AlertRule](t, rec)
	require.NotEmpty(t, created.ID)

	rec = f.do(t, http.MethodPost, "/api/v1/alerts/rules", map[string]any{"name": "no category"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorBody](t, rec).Error.Message, "category")

	rec = f.do(t, http.MethodPut, "/api/v1/alerts/rules/"+created.ID, map[string]any{"name": "db", "category": "Database", "enabled": false}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[models.AlertRule](t, rec).Enabled)

	rec = f.do(t, http.MethodGet, "/api/v1/alerts/rules", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.AlertRule](t, rec), 1)

	rec = f.do(t, http.MethodDelete, "/api/v1/alerts/rules/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/alerts/rules/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyticsRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/analytics/summary", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[map[string]any](t, rec)
	assert.EqualValues(t, 100, summary["healthScore"])

	rec = f.do(t, http.MethodGet, "/api/v1/analytics/trends?range=24h", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStoreCredentialRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/credentials/bob", models.Credential{Token: "tok", ProjectID: "proj"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users, err := f.store.ListCredentialUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users)

	rec = f.do(t, http.MethodPost, "/api/v1/credentials/bob", models.Credential{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.store.SetFailure(errors.New("disk gone"))
	rec = f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRulesDegradesToEmptyList(t *testing.T) {
	f := newFixture(t)
	f.store.SetFailure(errors.New("disk gone"))

	rec := f.do(t, http.MethodGet, "/api/v1/alerts/rules", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Append(context.Background(), models.Incident{TraceID: "t1", Timestamp: time.Now(), Status: models.StatusOpen})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/chat", map[string]string{"message": "what broke?"}, bearer("alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo: what broke?", decodeBody[services.ChatReply](t, rec).Reply)
	assert.Equal(t, 1, f.chat.context)

	rec = f.do(t, http.MethodPost, "/api/v1/chat", map[string]string{"message": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, utils.KindInvalidArgument, decodeBody[errorBody](t, rec).Error.Kind)
}

func TestUserFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, engine.DefaultUserID, userFromRequest(req))

	raw := base64.RawURLEncoding.EncodeToString([]byte(`{"user_id":"carol"}`))
	req.Header.Set("Authorization", "Bearer "+raw)
	assert.Equal(t, "carol", userFromRequest(req))

	req.Header.Set("Authorization", "Bearer "+base64.StdEncoding.EncodeToString([]byte(`{"user_id":""}`)))
	assert.Equal(t, engine.DefaultUserID, userFromRequest(req))
}
