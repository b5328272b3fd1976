package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xelth-com/arkikgo/internal/lock"
	"github.com/xelth-com/arkikgo/internal/metrics"
	"github.com/xelth-com/arkikgo/internal/models"
	"github.com/xelth-com/arkikgo/internal/services/importer"
	"github.com/xelth-com/arkikgo/internal/websocket"
)

type nothingFound struct{}

func (nothingFound) FindExisting(context.Context, string, []string) (map[string]arkik.ExistingSnapshot, error) {
	return map[string]arkik.ExistingSnapshot{}, nil
}
func (nothingFound) FindOrders(context.Context, arkik.OrderQuery) ([]arkik.OrderSummary, error) {
	return nil, nil
}
func (nothingFound) FindOrderByNumber(context.Context, string, string) (*arkik.OrderSummary, error) {
	return nil, nil
}
func (nothingFound) FindRecords(context.Context, arkik.RecordQuery) ([]arkik.RecordSummary, error) {
	return nil, nil
}

type acceptAll struct{}

func (acceptAll) NextOrderSequence(context.Context, string, time.Time) (int, error) { return 1, nil }
func (acceptAll) CreateOrder(_ context.Context, w arkik.OrderWrite) (arkik.OrderRef, error) {
	return arkik.OrderRef{ID: "ord-" + w.Number, Number: w.Number}, nil
}
func (acceptAll) UpsertOrderItem(context.Context, arkik.OrderItemWrite) error { return nil }
func (acceptAll) RecordPrice(context.Context, arkik.PriceWrite) error         { return nil }
func (acceptAll) UpsertRecord(_ context.Context, w arkik.RecordWrite) (arkik.RecordRef, error) {
	return arkik.RecordRef{ID: "rem-" + w.Number, Created: true}, nil
}
func (acceptAll) ReplaceMaterials(context.Context, string, map[string]arkik.Measure, map[string]string) error {
	return nil
}
func (acceptAll) RecordWaste(context.Context, []arkik.WasteWrite) error { return nil }
func (acceptAll) TransferMaterials(context.Context, arkik.TransferWrite) (bool, error) {
	return true, nil
}
func (acceptAll) SaveOutcomes(context.Context, string, []arkik.CommitOutcome) error { return nil }

type staticCatalog struct{}

func (staticCatalog) LoadReferenceSet(context.Context, string) (*arkik.ReferenceSet, error) {
	return arkik.NewReferenceSet(
		[]arkik.Recipe{{ID: "rcp-1", Code: "R-250", ArkikCode: "5-250-2-C-28-14-D-2-000"}},
		[]arkik.Client{{ID: "cli-1", Code: "C001", Name: "Constructora ABC"}},
		[]arkik.Site{{ID: "site-1", ClientID: "cli-1", Name: "Torre Norte"}},
		[]arkik.Material{{ID: "mat-cement", Code: "CEMENT"}},
		[]arkik.Price{{RecipeID: "rcp-1", Amount: decimal.RequireFromString("1850")}},
	), nil
}
func (staticCatalog) OpenImportSession(context.Context, models.ImportSession) error { return nil }
func (staticCatalog) CloseImportSession(context.Context, string, models.ImportSessionStatus, any) error {
	return nil
}
func (staticCatalog) FindImportByFingerprint(context.Context, string, string) (*models.ImportSession, error) {
	return nil, nil
}

type failingPing struct{}

func (failingPing) Ping(context.Context) error { return assert.AnError }

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := websocket.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	engine := arkik.NewEngine(nothingFound{}, nothingFound{}, nothingFound{}, arkik.EngineConfig{Parallelism: 2}, nil, logger)
	committer := arkik.NewCommitter(acceptAll{}, lock.NewLocalLocker(), arkik.CommitterConfig{PlantCode: "P1"}, nil, hub, logger)
	svc := importer.NewService(engine, committer, staticCatalog{}, hub, nil, importer.Config{PlantID: "plant-1"}, logger)
	return NewRouter(svc, hub, metrics.New(), nil, logger)
}

func do(t *testing.T, r *Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonRow(number, status string) map[string]any {
	return map[string]any{
		"remision":            number,
		"cliente_nombre":      "Constructora ABC",
		"obra":                "Torre Norte",
		"fecha":               "2026-10-13",
		"product_description": "5-250-2-C-28-14-D-2-000",
		"volumen":             "7.5",
		"estatus":             status,
		"materiales": map[string]any{
			"CEMENT": map[string]any{"teorica": "100", "real": "101"},
		},
	}
}

func openSession(t *testing.T, r *Router, rows ...map[string]any) string {
	t.Helper()
	rec := do(t, r, http.MethodPost, "/api/import/sessions", map[string]any{"rows": rows})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Summary arkik.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Summary.SessionID)
	return resp.Summary.SessionID
}

func TestOpenSessionValidatesPayload(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/import/sessions", map[string]any{"rows": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	rec = do(t, r, http.MethodPost, "/api/import/sessions", map[string]any{"rows": []any{map[string]any{"obra": "x"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenSessionRejectsUnknownUpload(t *testing.T) {
	r := newTestRouter(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "remisiones.txt")
	require.NoError(t, err)
	part.Write([]byte("hola"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import/sessions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestSessionFlow(t *testing.T) {
	r := newTestRouter(t)
	id := openSession(t, r, jsonRow("1001", "Terminado"), jsonRow("1002", "Cancelado"))
	base := "/api/import/sessions/" + id

	rec := do(t, r, http.MethodGet, base+"/records?status=valid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.NotEmpty(t, records)

	// the cancelled slip blocks the commit
	rec = do(t, r, http.MethodPost, base+"/commit", nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), string(arkik.BlockerStatusDecision))

	rec = do(t, r, http.MethodGet, base+"/blockers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var blockers []arkik.Blocker
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blockers))
	require.Len(t, blockers, 1)
	assert.Equal(t, "1002", blockers[0].Number)

	// waste without a reason is rejected by payload validation
	rec = do(t, r, http.MethodPut, base+"/records/1002/status-decision", map[string]any{"action": "mark_as_waste"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPut, base+"/records/1002/status-decision", map[string]any{"action": "mark_as_waste", "reason": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"state":"decided"`)

	// a normal slip has no decision to take
	rec = do(t, r, http.MethodPut, base+"/records/1001/status-decision", map[string]any{"action": "proceed_normal"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPut, base+"/duplicates/1001", map[string]any{"strategy": "skip"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "1001 is not a duplicate")

	rec = do(t, r, http.MethodPost, base+"/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report arkik.CommitReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Zero(t, report.Counts[arkik.OutcomeFailed])

	rec = do(t, r, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"committed":true`)

	rec = do(t, r, http.MethodGet, base+"/report.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
}

func TestUnattendedCommitByQuery(t *testing.T) {
	r := newTestRouter(t)
	id := openSession(t, r, jsonRow("2001", "Cancelado"))

	rec := do(t, r, http.MethodPost, "/api/import/sessions/"+id+"/commit?unattended=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAssignmentRequiresOrderForExisting(t *testing.T) {
	r := newTestRouter(t)
	id := openSession(t, r, jsonRow("3001", "Terminado"))
	base := "/api/import/sessions/" + id + "/records/3001"

	rec := do(t, r, http.MethodPut, base+"/assignment", map[string]any{"mode": "existing"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPut, base+"/assignment", map[string]any{"mode": "existing", "order_id": "ord-x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown candidate")

	rec = do(t, r, http.MethodPut, base+"/assignment", map[string]any{"mode": "new"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"mode":"new"`)

	rec = do(t, r, http.MethodGet, base+"/candidates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"candidates":[]`)
}

func TestOnDemandMatchingAndTargets(t *testing.T) {
	r := newTestRouter(t)
	id := openSession(t, r, jsonRow("6001", "Terminado"), jsonRow("6002", "Terminado"))
	base := "/api/import/sessions/" + id + "/records/"

	rec := do(t, r, http.MethodGet, base+"6001/targets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, r, http.MethodPost, base+"6001/targets", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var targets []arkik.ReassignmentTarget
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &targets))
	require.Len(t, targets, 1)
	assert.Equal(t, "6002", targets[0].Number)
	assert.True(t, targets[0].InBatch)

	// the search is kept on the session
	rec = do(t, r, http.MethodGet, base+"6001/targets", nil)
	assert.Contains(t, rec.Body.String(), `"number":"6002"`)

	rec = do(t, r, http.MethodPost, base+"6001/candidates?include_assigned=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"candidates":[]`)
	assert.Contains(t, rec.Body.String(), `"mode":"new"`)

	rec = do(t, r, http.MethodPost, base+"9999/candidates", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, r, http.MethodPost, base+"9999/targets", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAbandonAndNotFound(t *testing.T) {
	r := newTestRouter(t)
	id := openSession(t, r, jsonRow("4001", "Terminado"))

	rec := do(t, r, http.MethodDelete, "/api/import/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/import/sessions/"+id+"/records", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "RESOURCE_NOT_FOUND")
}

func TestQRPathResolvesSession(t *testing.T) {
	r := newTestRouter(t)
	id := openSession(t, r, jsonRow("5001", "Terminado"))

	rec := do(t, r, http.MethodGet, "/ARKIK/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	rec := do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	r.health = map[string]HealthChecker{"database": failingPing{}}
	rec = do(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	do(t, r, http.MethodGet, "/health", nil)
	rec := do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arkik_http_requests_total")
}
