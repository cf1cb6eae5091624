package engine

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardlabs/ward/internal/rules"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T) (*gin.Engine, rules.Store) {
	t.Helper()
	ruleStore := rules.NewMemoryStore()
	decisions := NewMemoryDecisionStore()
	handler := NewHandler(New(ruleStore, decisions), decisions)

	router := gin.New()
	v1 := router.Group("/v1")
	handler.RegisterRoutes(v1)
	return router, ruleStore
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestDecideEndpoint(t *testing.T) {
	router, ruleStore := setupTestRouter(t)
	seedRule(t, ruleStore, highValueRule(rules.StatusActive))

	w := doJSON(router, http.MethodPost, "/v1/decide", map[string]any{
		"checkpoint": "transaction",
		"attributes": map[string]any{"amount": 6000, "risk_score": 80},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Decision Decision `json:"decision"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, rules.ActionBlock, resp.Decision.Action)
	assert.NotEmpty(t, resp.Decision.ID)
	assert.Equal(t, 1, resp.Decision.RulesEvaluated)
}

func TestDecideEndpointUnknownCheckpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/decide", map[string]any{"checkpoint": "refund"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecideEndpointMissingCheckpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(router, http.MethodPost, "/v1/decide", map[string]any{"attributes": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDecisionsFiltersByAction(t *testing.T) {
	router, ruleStore := setupTestRouter(t)
	seedRule(t, ruleStore, highValueRule(rules.StatusActive))

	// One block, one approve.
	doJSON(router, http.MethodPost, "/v1/decide", map[string]any{
		"checkpoint": "transaction",
		"attributes": map[string]any{"amount": 6000, "risk_score": 80},
	})
	doJSON(router, http.MethodPost, "/v1/decide", map[string]any{
		"checkpoint": "transaction",
		"attributes": map[string]any{"amount": 10, "risk_score": 1},
	})

	w := doJSON(router, http.MethodGet, "/v1/decisions?action=BLOCK", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Decisions []Decision `json:"decisions"`
		Count     int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, rules.ActionBlock, resp.Decisions[0].Action)
}

func TestGetDecisionNotFound(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(router, http.MethodGet, "/v1/decisions/dec_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
