package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"labdesk.org/internal/access"
	"labdesk.org/internal/audit"
	"labdesk.org/internal/auth"
	"labdesk.org/internal/lab"
	"labdesk.org/internal/library"
	"labdesk.org/internal/maintenance"
	"labdesk.org/internal/notify"
	"labdesk.org/internal/quotes"
	"labdesk.org/internal/review"
	"labdesk.org/internal/staging"
	"labdesk.org/internal/stream"
)

const testSecret = "test-secret-test-secret-test-secret"

type apiClient struct {
	baseURL string
	client  *http.Client
	users   *auth.Manager
	docs    string
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	users, err := auth.NewManager(auth.NewMemoryStore(), auth.BcryptHasher{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	root := t.TempDir()
	docs, err := staging.New(root, 0)
	require.NoError(t, err)
	hub := stream.New()
	notes := notify.NewService(notify.NewMemoryStore(), nil).WithPublisher(hub)
	reviews, err := review.NewService(review.NewMemoryStore(), docs, notes, nil)
	require.NoError(t, err)
	lib, err := library.NewService(library.NewMemoryStore(), docs, nil)
	require.NoError(t, err)

	engine, err := lab.New(lab.Deps{
		Sessions:    users,
		Maintenance: maintenance.NewService(maintenance.NewMemoryStore(), docs, nil),
		Reviews:     reviews,
		Notes:       notes,
		Trail:       audit.NewTrail(audit.NewMemoryStore(), nil),
		Quotes:      quotes.NewService(quotes.NewMemoryStore()),
		Library:     lib,
	})
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer(testSecret)
	require.NoError(t, err)

	api := New(engine, tokens, nil, hub, nil, Options{
		Version:    "test",
		LoginRate:  100,
		LoginBurst: 100,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		users:   users,
		docs:    root,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) upload(path, filename string, content []byte, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.uploadForm(path, filename, content, nil, headers)
}

// uploadForm is upload with extra form fields.
func (c *apiClient) uploadForm(path, filename string, content []byte, fields, headers map[string]string) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			c.t.Fatalf("write field: %v", err)
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		c.t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(content)
	if err := mw.Close(); err != nil {
		c.t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("upload request: %v", err)
	}
	return resp
}

// login creates the account and returns an Authorization header for it.
func (c *apiClient) login(username string, role access.Role) map[string]string {
	c.t.Helper()
	_, err := c.users.CreateUser(context.Background(), username, "password-"+username, role)
	require.NoError(c.t, err)
	resp := c.post("/v1/auth/login", map[string]any{
		"username": username,
		"password": "password-" + username,
	}, nil)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	payload := decode[loginResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectError(t *testing.T, resp *http.Response, status int, code string) map[string]any {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, code, body["code"])
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["request_id"])
	return body
}

func TestAPILoginLogoutFlow(t *testing.T) {
	api := newTestAPI(t)
	hdr := api.login("maria", access.RoleManager)

	me := decode[map[string]any](t, api.get("/v1/auth/me", nil, hdr))
	assert.Equal(t, "maria", me["username"])
	assert.Equal(t, "manager", me["role"])
	assert.Len(t, me["permissions"], len(access.Permissions(access.RoleManager)))

	// One session per account.
	resp := api.post("/v1/auth/login", map[string]any{"username": "maria", "password": "password-maria"}, nil)
	expectError(t, resp, http.StatusConflict, "session_already_active")

	resp = api.post("/v1/auth/logout", nil, hdr)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	// The old token dies with its session.
	resp = api.get("/v1/auth/me", nil, hdr)
	expectError(t, resp, http.StatusUnauthorized, "invalid_token")

	resp = api.post("/v1/auth/login", map[string]any{"username": "maria", "password": "password-maria"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAPILoginRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.login("erin", access.RoleEngineer)

	resp := api.post("/v1/auth/login", map[string]any{"username": "erin", "password": "nope"}, nil)
	body := expectError(t, resp, http.StatusUnauthorized, "invalid_credentials")
	assert.Equal(t, "Invalid username or password.", body["error"])

	resp = api.post("/v1/auth/login", map[string]any{"username": "ghost", "password": "nope"}, nil)
	expectError(t, resp, http.StatusUnauthorized, "invalid_credentials")
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/equipment", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
	resp.Body.Close()

	resp = api.get("/v1/equipment", nil, map[string]string{"Authorization": "Bearer garbage"})
	expectError(t, resp, http.StatusUnauthorized, "invalid_token")

	guest := api.login("gus", access.RoleGuest)
	resp = api.get("/v1/equipment", nil, guest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = api.post("/v1/equipment", map[string]any{"name": "Centrifuge"}, guest)
	body := expectError(t, resp, http.StatusForbidden, "permission_denied")
	assert.Equal(t, "You are not allowed to perform this action.", body["error"])

	resp = api.get("/v1/audit", nil, guest)
	expectError(t, resp, http.StatusForbidden, "permission_denied")
}

func TestAPIMaintenanceFlow(t *testing.T) {
	api := newTestAPI(t)
	mgr := api.login("maria", access.RoleManager)
	eng := api.login("erin", access.RoleEngineer)

	resp := api.post("/v1/equipment", map[string]any{
		"name":          "Spectrometer",
		"equipment_num": "SP-1",
		"description":   "UV-Vis",
	}, mgr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	eq := decode[maintenance.Equipment](t, resp)

	resp = api.post("/v1/equipment", map[string]any{"name": "spectrometer"}, mgr)
	expectError(t, resp, http.StatusConflict, "conflict")

	resp = api.post("/v1/equipment/"+eq.ID+"/maintenance", map[string]any{
		"date": "2025-01-10",
		"task": "Replace lamp",
	}, mgr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	entry := decode[maintenance.LogEntry](t, resp)

	resp = api.post("/v1/equipment/"+eq.ID+"/maintenance", map[string]any{"date": "10/01/2025", "task": "x"}, mgr)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")

	overdue := decode[map[string]any](t, api.get("/v1/equipment/overdue", url.Values{"date": {"2025-01-08"}}, mgr))
	assert.Len(t, overdue["items"], 1)

	pending := decode[map[string]any](t, api.get("/v1/maintenance/pending", nil, eng))
	assert.Len(t, pending["items"], 1)

	resp = api.post("/v1/maintenance/"+entry.ID+"/acknowledge", nil, eng)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	acked := decode[maintenance.LogEntry](t, resp)
	require.NotNil(t, acked.AcknowledgedBy)

	resp = api.post("/v1/maintenance/"+entry.ID+"/acknowledge", nil, eng)
	expectError(t, resp, http.StatusConflict, "already_acknowledged")

	resp = api.post("/v1/maintenance/missing/acknowledge", nil, eng)
	expectError(t, resp, http.StatusNotFound, "not_found")

	acked = decode[maintenance.LogEntry](t, api.get("/v1/maintenance/"+entry.ID, nil, eng))
	require.NotNil(t, acked.AcknowledgedBy)
	resp = api.get("/v1/maintenance/missing", nil, eng)
	expectError(t, resp, http.StatusNotFound, "not_found")

	got := decode[maintenance.Equipment](t, api.get("/v1/equipment/"+eq.ID, nil, eng))
	assert.True(t, got.Completed)

	history := decode[map[string]any](t, api.get("/v1/equipment/"+eq.ID+"/log", nil, mgr))
	assert.Len(t, history["items"], 1)
}

func TestAPIReportApprovalFlow(t *testing.T) {
	api := newTestAPI(t)
	mgr := api.login("maria", access.RoleManager)
	eng := api.login("erin", access.RoleEngineer)

	resp := api.upload("/v1/reports", "calibration.pdf", []byte("%PDF-1.4\n"), eng)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rep := decode[review.Report](t, resp)
	assert.Equal(t, review.StatusPending, rep.Status)

	// Engineers upload but do not review.
	resp = api.get("/v1/reports", nil, eng)
	expectError(t, resp, http.StatusForbidden, "permission_denied")

	pending := decode[map[string]any](t, api.get("/v1/reports", nil, mgr))
	assert.Len(t, pending["items"], 1)

	resp = api.post("/v1/reports/"+rep.ID+"/reject", map[string]any{"reason": "  "}, mgr)
	expectError(t, resp, http.StatusBadRequest, "empty_reason")

	resp = api.post("/v1/reports/"+rep.ID+"/approve", map[string]any{"folder": "2025-Q1"}, mgr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	approved := decode[review.Report](t, resp)
	assert.Equal(t, review.StatusApproved, approved.Status)
	assert.Equal(t, "2025-Q1", approved.Folder)

	_, err := os.Stat(filepath.Join(api.docs, "approved", "2025-Q1", "calibration.pdf"))
	assert.NoError(t, err)

	resp = api.post("/v1/reports/"+rep.ID+"/reject", map[string]any{"reason": "late"}, mgr)
	expectError(t, resp, http.StatusConflict, "already_decided")

	notes := decode[map[string]any](t, api.get("/v1/notifications", nil, eng))
	assert.NotEmpty(t, notes["items"])

	// A second report with the same name is filed next to the first.
	resp = api.upload("/v1/reports", "calibration.pdf", []byte("%PDF-1.4\nrev B"), eng)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := decode[review.Report](t, resp)
	resp = api.post("/v1/reports/"+second.ID+"/approve", map[string]any{"folder": "2025-Q1"}, mgr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "calibration-2.pdf", decode[review.Report](t, resp).ArchiveName)
	_, err = os.Stat(filepath.Join(api.docs, "approved", "2025-Q1", "calibration-2.pdf"))
	assert.NoError(t, err)

	filed := decode[struct {
		Items []review.Report `json:"items"`
	}](t, api.get("/v1/reports", url.Values{"status": {"approved"}, "folder": {"2025-Q1"}}, mgr))
	require.Len(t, filed.Items, 2)
	assert.Equal(t, second.ID, filed.Items[0].ID)

	other := decode[map[string]any](t, api.get("/v1/reports", url.Values{"status": {"approved"}, "folder": {"2024-Q4"}}, mgr))
	assert.Empty(t, other["items"])

	resp = api.get("/v1/reports", url.Values{"status": {"archived"}}, mgr)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")
	resp = api.get("/v1/reports", url.Values{"status": {"approved"}}, eng)
	expectError(t, resp, http.StatusForbidden, "permission_denied")
}

func TestAPILibrary(t *testing.T) {
	api := newTestAPI(t)
	mgr := api.login("maria", access.RoleManager)
	eng := api.login("erin", access.RoleEngineer)
	guest := api.login("gus", access.RoleGuest)

	resp := api.post("/v1/library/procedures/folders", map[string]any{"name": "Tensile"}, mgr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = api.post("/v1/library/procedures/folders", map[string]any{"name": "Tensile"}, mgr)
	expectError(t, resp, http.StatusConflict, "conflict")
	resp = api.post("/v1/library/procedures/folders", map[string]any{"name": "a/b"}, mgr)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")
	resp = api.post("/v1/library/manuals/folders", map[string]any{"name": "x"}, mgr)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")

	resp = api.uploadForm("/v1/library/procedures/documents", "sop-12.docx", []byte("PK\x03\x04body"), map[string]string{"folder": "Tensile"}, mgr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[library.Document](t, resp)
	assert.Equal(t, "Tensile", doc.Folder)
	_, err := os.Stat(filepath.Join(api.docs, "approved", "library", "procedures", "Tensile", "sop-12.docx"))
	assert.NoError(t, err)

	resp = api.uploadForm("/v1/library/records/documents", "dvpr.docx", []byte("PK\x03\x04body"), nil, mgr)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")
	resp = api.uploadForm("/v1/library/records/documents", "dvpr.pdf", []byte("%PDF-1.4"), map[string]string{"folder": "Nowhere"}, mgr)
	expectError(t, resp, http.StatusNotFound, "not_found")
	resp = api.uploadForm("/v1/library/records/documents", "dvpr.pdf", []byte("%PDF-1.4"), nil, mgr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = api.uploadForm("/v1/library/procedures/documents", "sop-13.pdf", []byte("%PDF-1.4"), nil, eng)
	expectError(t, resp, http.StatusForbidden, "permission_denied")

	folders := decode[map[string]any](t, api.get("/v1/library/procedures/folders", nil, eng))
	assert.Len(t, folders["items"], 1)
	docs := decode[map[string]any](t, api.get("/v1/library/procedures/documents", url.Values{"folder": {"Tensile"}}, eng))
	assert.Len(t, docs["items"], 1)
	base := decode[map[string]any](t, api.get("/v1/library/records/documents", nil, eng))
	assert.Len(t, base["items"], 1)
	resp = api.get("/v1/library/procedures/documents", nil, guest)
	expectError(t, resp, http.StatusForbidden, "permission_denied")

	resp = api.get("/v1/library/documents/"+doc.ID, nil, eng)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "sop-12.docx")
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "PK\x03\x04body", body.String())

	resp = api.do(http.MethodDelete, "/v1/library/documents/"+doc.ID, nil, eng)
	expectError(t, resp, http.StatusForbidden, "permission_denied")
	resp = api.do(http.MethodDelete, "/v1/library/documents/"+doc.ID, nil, mgr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = api.get("/v1/library/documents/"+doc.ID, nil, mgr)
	expectError(t, resp, http.StatusNotFound, "not_found")
	_, err = os.Stat(filepath.Join(api.docs, "approved", "library", "procedures", "Tensile", "sop-12.docx"))
	assert.True(t, os.IsNotExist(err))
}

func TestAPIRejectsMalformedBodies(t *testing.T) {
	api := newTestAPI(t)
	mgr := api.login("maria", access.RoleManager)

	req, err := http.NewRequest(http.MethodPost, api.baseURL+"/v1/equipment", bytes.NewBufferString(`{"name":`))
	require.NoError(t, err)
	req.Header.Set("Authorization", mgr["Authorization"])
	resp, err := api.client.Do(req)
	require.NoError(t, err)
	body := expectError(t, resp, http.StatusBadRequest, "invalid_input")
	assert.Contains(t, body["error"], "malformed JSON")

	resp = api.post("/v1/equipment", map[string]any{"name": "Scale", "colour": "red"}, mgr)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")

	resp = api.post("/v1/reports", map[string]any{"file": "nope"}, mgr)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")

	resp = api.get("/v1/audit", url.Values{"limit": {"0"}}, mgr)
	expectError(t, resp, http.StatusBadRequest, "invalid_input")
}

func TestAPIHealthChecksAndFallbacks(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[map[string]any](t, resp)
	assert.Equal(t, "test", health["version"])

	resp = api.get("/readyz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = api.get("/v1/nowhere", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = api.get("/v1/auth/login", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()
}

func TestReadyReportsFailure(t *testing.T) {
	tokens, err := auth.NewTokenIssuer(testSecret)
	require.NoError(t, err)
	api := New(nil, tokens, ReadyFunc(func(context.Context) error { return context.DeadlineExceeded }), stream.New(), nil, Options{})

	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAPIStreamDeliversNotifications(t *testing.T) {
	api := newTestAPI(t)
	mgr := api.login("maria", access.RoleManager)
	eng := api.login("erin", access.RoleEngineer)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", mgr["Authorization"])
	resp, err := api.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	up := api.upload("/v1/reports", "run.pdf", []byte("%PDF-1.4\n"), eng)
	require.Equal(t, http.StatusCreated, up.StatusCode)
	up.Body.Close()

	buf := make([]byte, 4096)
	var got bytes.Buffer
	for !bytes.Contains(got.Bytes(), []byte("event: notification")) {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			t.Fatalf("stream ended early: %v (%q)", err, got.String())
		}
	}
	assert.Contains(t, got.String(), "run.pdf")
}
