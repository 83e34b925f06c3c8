package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"section-collab-be/internal/dto"
	"section-collab-be/internal/pkg/logger"
	"section-collab-be/internal/pkg/serverutils"
	"section-collab-be/internal/repository/memory"
	"section-collab-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "controller-test-secret"

func newApp(t *testing.T) *fiber.App {
	t.Helper()

	log := logger.NewNopLogger()
	store := memory.NewDocumentStore()
	lockStore := memory.NewLockStore(time.Second)
	versions := service.NewVersionService(store, store)
	broadcaster := service.NewBroadcastService(service.NewBroadcastPubSub(log), "controller-test", log)
	locks := service.NewLockService(lockStore, versions, broadcaster, time.Minute, log)
	collab := service.NewCollaborationService(versions, locks, broadcaster, log)
	t.Cleanup(func() {
		_ = lockStore.Close()
		_ = broadcaster.Close()
	})

	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	api := app.Group("/api")
	jwt := serverutils.NewJwtMiddleware(testSecret)
	NewDocumentController(collab, jwt).RegisterRoutes(api)
	NewSectionController(collab, jwt).RegisterRoutes(api)
	return app
}

func token(t *testing.T, userId uuid.UUID) string {
	t.Helper()
	tok, err := serverutils.SignToken(userId, testSecret)
	require.NoError(t, err)
	return tok
}

func call(t *testing.T, app *fiber.App, method, path, tok string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func createDoc(t *testing.T, app *fiber.App, tok string) string {
	t.Helper()
	status, body := call(t, app, http.MethodPost, "/api/documents/v1", tok, dto.CreateDocumentRequest{
		ProjectId: uuid.New(),
		Name:      "Design review",
		Sections: []dto.SectionPayload{
			{Id: "summary", Title: "Summary"},
			{Id: "risks", Title: "Risks"},
		},
	})
	require.Equal(t, http.StatusCreated, status, body)
	return body["data"].(map[string]interface{})["id"].(string)
}

func TestCreateDocumentEndpoint(t *testing.T) {
	app := newApp(t)
	tok := token(t, uuid.New())

	id := createDoc(t, app, tok)

	status, body := call(t, app, http.MethodGet, "/api/documents/v1/"+id, tok, nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "Design review", data["name"])
	current := data["current_version"].(map[string]interface{})
	assert.EqualValues(t, 1, current["version_number"])
}

func TestCreateDocumentValidation(t *testing.T) {
	app := newApp(t)

	status, body := call(t, app, http.MethodPost, "/api/documents/v1", token(t, uuid.New()), dto.CreateDocumentRequest{
		ProjectId: uuid.New(),
		Name:      "No sections",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION", body["error_code"])
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	app := newApp(t)

	status, body := call(t, app, http.MethodGet, "/api/documents/v1/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["error_code"])

	status, _ = call(t, app, http.MethodGet, "/api/documents/v1/"+uuid.NewString(), "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUnknownDocumentIsNotFound(t *testing.T) {
	app := newApp(t)

	status, body := call(t, app, http.MethodGet, "/api/documents/v1/"+uuid.NewString(), token(t, uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["error_code"])

	status, _ = call(t, app, http.MethodGet, "/api/documents/v1/not-a-uuid", token(t, uuid.New()), nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLockConflictCarriesHolder(t *testing.T) {
	app := newApp(t)
	alice := uuid.New()
	aliceTok := token(t, alice)
	bobTok := token(t, uuid.New())
	id := createDoc(t, app, aliceTok)

	status, body := call(t, app, http.MethodPost, "/api/documents/v1/"+id+"/sections/risks/lock", aliceTok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["data"].(map[string]interface{})["changed"])

	status, body = call(t, app, http.MethodPost, "/api/documents/v1/"+id+"/sections/risks/lock", bobTok, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "LOCK_DENIED", body["error_code"])
	details := body["details"].(map[string]interface{})
	assert.Equal(t, "risks", details["section_id"])
	holder := details["holder"].(map[string]interface{})
	assert.Equal(t, alice.String(), holder["user_id"])

	status, body = call(t, app, http.MethodGet, "/api/documents/v1/"+id+"/locks", bobTok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

func TestCommitSectionEndpoint(t *testing.T) {
	app := newApp(t)
	tok := token(t, uuid.New())
	id := createDoc(t, app, tok)

	status, body := call(t, app, http.MethodPut, "/api/documents/v1/"+id+"/sections/summary", tok, dto.CommitSectionRequest{Content: "draft"})
	assert.Equal(t, http.StatusConflict, status, "commit without a lease")
	assert.Equal(t, "LOCK_DENIED", body["error_code"])

	status, _ = call(t, app, http.MethodPost, "/api/documents/v1/"+id+"/sections/summary/lock", tok, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = call(t, app, http.MethodPut, "/api/documents/v1/"+id+"/sections/summary", tok, dto.CommitSectionRequest{Content: "draft", Seq: 2})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["data"].(map[string]interface{})["version_number"])

	status, body = call(t, app, http.MethodPut, "/api/documents/v1/"+id+"/sections/summary", tok, dto.CommitSectionRequest{Content: "older", Seq: 1})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "STALE_COMMIT", body["error_code"])

	status, body = call(t, app, http.MethodGet, "/api/documents/v1/"+id+"/versions/2", tok, nil)
	require.Equal(t, http.StatusOK, status)
	sections := body["data"].(map[string]interface{})["sections"].([]interface{})
	assert.Equal(t, "draft", sections[0].(map[string]interface{})["content"])

	status, body = call(t, app, http.MethodGet, "/api/documents/v1/"+id+"/versions", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 2)

	status, _ = call(t, app, http.MethodDelete, "/api/documents/v1/"+id+"/sections/summary/lock", tok, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSaveVersionEndpoint(t *testing.T) {
	app := newApp(t)
	tok := token(t, uuid.New())
	id := createDoc(t, app, tok)

	status, body := call(t, app, http.MethodPost, "/api/documents/v1/"+id+"/versions", tok, dto.SaveVersionRequest{
		Sections: []dto.SectionPayload{{Id: "summary", Title: "Summary", Content: "all at once"}},
	})
	require.Equal(t, http.StatusCreated, status)
	assert.EqualValues(t, 2, body["data"].(map[string]interface{})["version_number"])

	status, _ = call(t, app, http.MethodGet, "/api/documents/v1/"+id+"/versions/0", tok, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
