package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/middlewares"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/queries"
	"github.com/mmdatafocus/eventchain/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	profileA = "profile-a"
	profileB = "profile-b"
)

type server struct {
	db     *gorm.DB
	engine *workflow.Engine
	router *gin.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := config.OpenSQLite(filepath.Join(t.TempDir(), "chains.db"))
	require.NoError(t, err)
	require.NoError(t, models.MigrateTable(db))
	previous := config.GetDB()
	config.SetDB(db)
	t.Cleanup(func() {
		config.SetDB(previous)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	engine := workflow.NewEngine(db, logger, nil)
	h := NewHandler(engine, queries.NewService(db, logger), logger)
	return &server{db: db, engine: engine, router: NewRouter(h)}
}

func (s *server) do(t *testing.T, method, path, profileId string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if profileId != "" {
		req.Header.Set(middlewares.HeaderBusinessProfileId, profileId)
		req.Header.Set(middlewares.HeaderUserId, "user-1")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *server) createChain(t *testing.T, profileId string, chainType models.ChainType, objectId string, total string) *models.Chain {
	t.Helper()
	w := s.do(t, http.MethodPost, "/chains", profileId, map[string]any{
		"chain_type":        chainType,
		"primary_object_id": objectId,
		"title":             string(chainType) + " " + objectId,
		"total_amount":      total,
		"currency":          "PLN",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	chain := decode[models.Chain](t, w)
	return &chain
}

type errorBody struct {
	Error   models.ErrorKind  `json:"error"`
	Message string            `json:"message"`
	ChainId string            `json:"chain_id"`
	Fields  map[string]string `json:"fields"`
}
