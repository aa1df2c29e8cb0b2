package handlers_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lucib3196/gestalt-questions-backend/internal/handlers"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/runner"
	"github.com/lucib3196/gestalt-questions-backend/internal/server"
	"github.com/lucib3196/gestalt-questions-backend/internal/services"
	"github.com/lucib3196/gestalt-questions-backend/internal/storage"
	"github.com/lucib3196/gestalt-questions-backend/internal/types"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Nop()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Question{}, &types.Topic{}, &types.Language{}, &types.QType{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := storage.NewLocalStore(log, t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}

	qsvc := services.NewQuestionService(log, db, store, "")
	syncSvc := services.NewSyncService(log, db, store, qsvc)
	runSvc := services.NewRunService(log, qsvc, runner.New(log, runner.Options{}))

	return server.NewRouter(server.RouterConfig{
		CORSOrigins:     []string{"http://localhost:3000"},
		QuestionHandler: handlers.NewQuestionHandler(log, qsvc),
		CodegenHandler:  handlers.NewCodegenHandler(log, nil),
		RunHandler:      handlers.NewRunHandler(log, runSvc),
		SyncHandler:     handlers.NewSyncHandler(log, syncSvc),
	})
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createViaHTTP(t *testing.T, router *gin.Engine, title string, files map[string]string) types.QuestionMeta {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := json.Marshal(map[string]any{"title": title, "topics": []string{"statics"}})
	if err != nil {
		t.Fatalf("marshal question part: %v", err)
	}
	if err := mw.WriteField("question", string(part)); err != nil {
		t.Fatalf("write field: %v", err)
	}
	for name, content := range files {
		fw, ferr := mw.CreateFormFile(name, name)
		if ferr != nil {
			t.Fatalf("create form file: %v", ferr)
		}
		fw.Write([]byte(content))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/questions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status: want=%d got=%d body=%s", http.StatusCreated, w.Code, w.Body.String())
	}
	var meta types.QuestionMeta
	if err := json.Unmarshal(w.Body.Bytes(), &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	return meta
}

func TestCreateAndGetQuestionHTTP(t *testing.T) {
	router := testRouter(t)
	meta := createViaHTTP(t, router, "HTTP Created", map[string]string{"question.html": "<p>q</p>"})

	w := doJSON(t, router, http.MethodGet, "/questions/"+meta.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	var got types.QuestionMeta
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Title != "HTTP Created" {
		t.Fatalf("title: want=%q got=%q", "HTTP Created", got.Title)
	}

	w = doJSON(t, router, http.MethodGet, "/questions/"+meta.ID.String()+"/full", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("full status: want=200 got=%d", w.Code)
	}
	var full services.FullQuestion
	if err := json.Unmarshal(w.Body.Bytes(), &full); err != nil {
		t.Fatalf("decode full: %v", err)
	}
	if full.Files["question.html"] != "<p>q</p>" {
		t.Fatalf("uploaded file missing from full view: %v", full.Files)
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	router := testRouter(t)

	w := doJSON(t, router, http.MethodGet, "/questions/2f9bdf7e-0000-4000-8000-000000000000", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: want=404 got=%d", w.Code)
	}
	var env handlers.ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error.Message == "" {
		t.Fatalf("envelope message empty")
	}
	if env.Error.Code != "not_found" {
		t.Fatalf("envelope code: want=%q got=%q", "not_found", env.Error.Code)
	}

	// Malformed id is a 400.
	w = doJSON(t, router, http.MethodGet, "/questions/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status: want=400 got=%d", w.Code)
	}
}

func TestFileRoundTripHTTP(t *testing.T) {
	router := testRouter(t)
	meta := createViaHTTP(t, router, "File Ops", nil)
	base := "/questions/" + meta.ID.String() + "/files"

	req := httptest.NewRequest(http.MethodPut, base+"/server.js", strings.NewReader("module.exports = {};"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("put status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, base+"/server.js", nil)
	if w.Code != http.StatusOK || w.Body.String() != "module.exports = {};" {
		t.Fatalf("read back: status=%d body=%q", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, base, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "server.js") {
		t.Fatalf("list: status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodDelete, base+"/server.js", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status: want=200 got=%d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, base+"/server.js", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("read deleted: want=404 got=%d", w.Code)
	}
}

func TestFilterEndpoint(t *testing.T) {
	router := testRouter(t)
	createViaHTTP(t, router, "Alpha", nil)
	createViaHTTP(t, router, "Beta", nil)

	w := doJSON(t, router, http.MethodPost, "/questions/filter", map[string]any{"title": "alph"})
	if w.Code != http.StatusOK {
		t.Fatalf("filter status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	var metas []types.QuestionMeta
	if err := json.Unmarshal(w.Body.Bytes(), &metas); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(metas) != 1 || metas[0].Title != "Alpha" {
		t.Fatalf("filter result: want [Alpha] got %+v", metas)
	}

	// Empty filter lists everything.
	w = doJSON(t, router, http.MethodPost, "/questions/filter", map[string]any{})
	if err := json.Unmarshal(w.Body.Bytes(), &metas); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("empty filter: want=2 got=%d", len(metas))
	}
}

func TestDeleteQuestionHTTP(t *testing.T) {
	router := testRouter(t)
	meta := createViaHTTP(t, router, "Doomed", nil)

	w := doJSON(t, router, http.MethodDelete, "/questions/"+meta.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status: want=200 got=%d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/questions/"+meta.ID.String(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: want=404 got=%d", w.Code)
	}
}

func TestRunServerUnknownRuntime(t *testing.T) {
	router := testRouter(t)
	meta := createViaHTTP(t, router, "Runnable", nil)

	w := doJSON(t, router, http.MethodPost, "/run_server/"+meta.ID.String()+"/ruby", nil)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status: want=415 got=%d body=%s", w.Code, w.Body.String())
	}
	var res types.RunResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Success {
		t.Fatalf("success: want=false got=true")
	}
}

func TestRunServerMissingFile(t *testing.T) {
	router := testRouter(t)
	meta := createViaHTTP(t, router, "No Server", nil)

	w := doJSON(t, router, http.MethodPost, "/run_server/"+meta.ID.String()+"/js", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: want=404 got=%d body=%s", w.Code, w.Body.String())
	}
}

func TestSyncEndpoints(t *testing.T) {
	router := testRouter(t)
	createViaHTTP(t, router, "Synced", nil)

	w := doJSON(t, router, http.MethodPost, "/questions/check_unsync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	var check struct {
		Entries []services.PrefixStatus `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &check); err != nil {
		t.Fatalf("decode check: %v", err)
	}
	if len(check.Entries) != 1 || check.Entries[0].Status != services.StatusSynced {
		t.Fatalf("check entries: want one synced got %+v", check.Entries)
	}

	// Idempotent sweep: nothing to repair.
	w = doJSON(t, router, http.MethodPost, "/questions/sync_questions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync status: want=200 got=%d", w.Code)
	}
	var report services.SyncReport
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Repaired != 0 || report.Failed != 0 {
		t.Fatalf("sync report: want no repairs got %+v", report)
	}

	w = doJSON(t, router, http.MethodPost, "/questions/prune_missing", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("prune status: want=200 got=%d", w.Code)
	}
	var prune services.PruneReport
	if err := json.Unmarshal(w.Body.Bytes(), &prune); err != nil {
		t.Fatalf("decode prune: %v", err)
	}
	if prune.StillValid != 1 || prune.DeletedFromDB != 0 {
		t.Fatalf("prune report: want valid=1 deleted=0 got %+v", prune)
	}
}
