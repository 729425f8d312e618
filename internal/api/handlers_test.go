package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pipeline/internal/auth"
	"pipeline/internal/config"
	"pipeline/internal/database"
	"pipeline/internal/database/dbtest"
	"pipeline/internal/profile"
	"pipeline/internal/storage"
)

const testInternalSecret = "feed-secret"

type fakeStorage struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	deleted  []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	b, _ := io.ReadAll(reader)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[objectKey] = b
	return nil
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + objectKey, nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
}

func newAuthService(t *testing.T) *auth.AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	svc, err := auth.NewAuthService(privPEM, pubPEM, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

// newTestServer wires the full router without redis, queue, or scanner.
func newTestServer(t *testing.T, store storage.ObjectStore) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		API: config.APIConfig{
			CORSOrigins:        []string{"http://localhost:5173"},
			RateLimitPerSecond: 1000,
			InternalSecret:     testInternalSecret,
		},
		Auth:    config.AuthConfig{LoginRateLimitPerHour: 10, LoginLockThreshold: 5, LoginLockTTL: time.Minute},
		Credits: config.CreditsConfig{DailyLimit: 1, ReferralBonus: 5},
	}
	db := dbtest.Open(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router := NewRouter(ctx, Dependencies{
		Config:   cfg,
		DB:       db,
		Auth:     newAuthService(t),
		Storage:  store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Location: time.UTC,
	})
	return &testServer{router: router, db: db}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// register creates an account through the API and returns its access token and id.
func (s *testServer) register(t *testing.T, username string) (string, uint) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/register", "", gin.H{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"accessToken"`
		User        struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	decode(t, w, &resp)
	return resp.AccessToken, resp.User.ID
}

func (s *testServer) promote(t *testing.T, userID uint) {
	t.Helper()
	if err := s.db.Model(&database.User{}).Where("id = ?", userID).Update("is_admin", true).Error; err != nil {
		t.Fatalf("promote: %v", err)
	}
}

func (s *testServer) seedJob(t *testing.T, ident string) database.Job {
	t.Helper()
	job := database.Job{JobIdentifier: ident, Title: "Go Engineer " + ident, Company: "Acme", IsActive: true}
	if err := s.db.Create(&job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Code string `json:"code"`
	}
	decode(t, w, &resp)
	return resp.Code
}

func newMultipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status %d body %s", w.Code, w.Body.String())
	}
	var health map[string]string
	decode(t, w, &health)
	if health["database"] != "ok" || health["redis"] != "disabled" {
		t.Fatalf("health = %v", health)
	}

	if w := s.do(t, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK {
		t.Fatalf("metrics status %d", w.Code)
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	s := newTestServer(t, nil)
	token, _ := s.register(t, "alice")

	w := s.do(t, http.MethodPost, "/api/register", "", gin.H{
		"username": "alice", "email": "other@example.com", "password": "secret123",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: status %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "alice", "password": "wrong-pass1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: status %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "alice", "password": "secret123"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), refreshTokenCookieName+"=") {
		t.Fatalf("login should set the refresh cookie, got %q", w.Header().Values("Set-Cookie"))
	}

	if w := s.do(t, http.MethodGet, "/api/user", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous /api/user: status %d", w.Code)
	}
	w = s.do(t, http.MethodGet, "/api/user", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: status %d body %s", w.Code, w.Body.String())
	}
	var me struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		Credits struct {
			DailyLimit     int `json:"dailyLimit"`
			DailyRemaining int `json:"dailyRemaining"`
		} `json:"credits"`
	}
	decode(t, w, &me)
	if me.User.Username != "alice" || me.Credits.DailyLimit != 1 || me.Credits.DailyRemaining != 1 {
		t.Fatalf("me = %+v", me)
	}
}

func TestApplySpendsCredits(t *testing.T) {
	s := newTestServer(t, nil)
	token, _ := s.register(t, "bob")
	first := s.seedJob(t, "a")
	second := s.seedJob(t, "b")

	w := s.do(t, http.MethodPost, "/api/applications", token, gin.H{"jobId": first.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("apply: status %d body %s", w.Code, w.Body.String())
	}
	var app struct {
		ID           uint   `json:"id"`
		Status       string `json:"status"`
		CreditSource string `json:"creditSource"`
	}
	decode(t, w, &app)
	if app.Status != database.StatusApplied || app.CreditSource != "daily" {
		t.Fatalf("application = %+v", app)
	}

	w = s.do(t, http.MethodPost, "/api/applications", token, gin.H{"jobId": first.ID})
	if w.Code != http.StatusConflict || errorCode(t, w) != "conflict" {
		t.Fatalf("duplicate apply: status %d body %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/applications", token, gin.H{"jobId": second.ID})
	if w.Code != http.StatusConflict || errorCode(t, w) != "no_credits" {
		t.Fatalf("apply without credits: status %d body %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/jobs/%d/applied", first.ID), token, nil)
	var applied struct {
		Applied bool `json:"applied"`
	}
	decode(t, w, &applied)
	if !applied.Applied {
		t.Fatalf("applied flag should be set")
	}

	w = s.do(t, http.MethodPatch, fmt.Sprintf("/api/applications/%d/status", app.ID), token, gin.H{"status": "Interviewing"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("applicant promoting own application: status %d", w.Code)
	}
	w = s.do(t, http.MethodPatch, fmt.Sprintf("/api/applications/%d/status", app.ID), token, gin.H{"status": "Withdrawn"})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw: status %d body %s", w.Code, w.Body.String())
	}
}

func TestAdminGuardAndStatusNotification(t *testing.T) {
	s := newTestServer(t, nil)
	userToken, _ := s.register(t, "carol")
	adminToken, adminID := s.register(t, "dave")
	job := s.seedJob(t, "a")

	if w := s.do(t, http.MethodGet, "/api/admin/users", adminToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin listing users: status %d", w.Code)
	}
	s.promote(t, adminID)
	w := s.do(t, http.MethodGet, "/api/admin/users", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("admin listing users: status %d body %s", w.Code, w.Body.String())
	}
	var users struct {
		Total int64 `json:"total"`
	}
	decode(t, w, &users)
	if users.Total != 2 {
		t.Fatalf("total users = %d", users.Total)
	}

	w = s.do(t, http.MethodPost, "/api/applications", userToken, gin.H{"jobId": job.ID})
	var app struct {
		ID uint `json:"id"`
	}
	decode(t, w, &app)

	// the applicant already has the submission confirmation
	w = s.do(t, http.MethodGet, "/api/notifications/unread-count", userToken, nil)
	var unread struct {
		Count int64 `json:"count"`
	}
	decode(t, w, &unread)
	if unread.Count != 1 {
		t.Fatalf("unread after apply = %d", unread.Count)
	}

	w = s.do(t, http.MethodPatch, fmt.Sprintf("/api/applications/%d/status", app.ID), adminToken, gin.H{"status": "Interviewing"})
	if w.Code != http.StatusOK {
		t.Fatalf("admin status change: status %d body %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/api/notifications?unread=true", userToken, nil)
	var list struct {
		Notifications []struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"notifications"`
	}
	decode(t, w, &list)
	if len(list.Notifications) != 2 || list.Notifications[0].Type != "status_change" || list.Notifications[0].Message == "" {
		t.Fatalf("notifications = %+v", list.Notifications)
	}

	if w := s.do(t, http.MethodPatch, "/api/notifications/read-all", userToken, nil); w.Code != http.StatusOK {
		t.Fatalf("read-all: status %d", w.Code)
	}
	w = s.do(t, http.MethodGet, "/api/notifications/unread-count", userToken, nil)
	decode(t, w, &unread)
	if unread.Count != 0 {
		t.Fatalf("unread after read-all = %d", unread.Count)
	}
}

func TestMessagesThread(t *testing.T) {
	s := newTestServer(t, nil)
	userToken, _ := s.register(t, "erin")
	adminToken, adminID := s.register(t, "frank")
	strangerToken, _ := s.register(t, "grace")
	s.promote(t, adminID)
	job := s.seedJob(t, "a")

	w := s.do(t, http.MethodPost, "/api/applications", userToken, gin.H{"jobId": job.ID})
	var app struct {
		ID uint `json:"id"`
	}
	decode(t, w, &app)
	thread := fmt.Sprintf("/api/applications/%d/messages", app.ID)

	if w := s.do(t, http.MethodPost, thread, strangerToken, gin.H{"content": "hi"}); w.Code != http.StatusForbidden {
		t.Fatalf("stranger posting: status %d", w.Code)
	}
	w = s.do(t, http.MethodPost, thread, adminToken, gin.H{"content": "Please send your portfolio"})
	if w.Code != http.StatusCreated {
		t.Fatalf("admin message: status %d body %s", w.Code, w.Body.String())
	}
	var msg struct {
		ID uint `json:"id"`
	}
	decode(t, w, &msg)

	w = s.do(t, http.MethodGet, thread, userToken, nil)
	var listed struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
		Unread int64 `json:"unread"`
	}
	decode(t, w, &listed)
	if len(listed.Messages) != 1 || listed.Unread != 1 {
		t.Fatalf("thread = %+v", listed)
	}

	w = s.do(t, http.MethodPatch, fmt.Sprintf("%s/%d/read", thread, msg.ID), userToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("mark read: status %d body %s", w.Code, w.Body.String())
	}
}

func TestProfileDocuments(t *testing.T) {
	store := newFakeStorage()
	s := newTestServer(t, store)
	token, userID := s.register(t, "heidi")
	otherToken, _ := s.register(t, "ivan")
	base := fmt.Sprintf("/api/profiles/%d", userID)

	w := s.do(t, http.MethodGet, base, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("empty profile: status %d body %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodGet, base, otherToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("foreign profile: status %d", w.Code)
	}

	w = s.do(t, http.MethodPost, base, token, gin.H{
		"fullName": "Heidi Klum",
		"skills":   []gin.H{{"name": "Go"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save profile: status %d body %s", w.Code, w.Body.String())
	}

	upload := func(token, filename string) *httptest.ResponseRecorder {
		body, contentType := newMultipartUpload(t, filename, []byte("%PDF-1.4 resume"))
		req := httptest.NewRequest(http.MethodPost, base+"/documents", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	if w := upload(token, "malware.exe"); w.Code != http.StatusBadRequest {
		t.Fatalf("exe upload: status %d", w.Code)
	}
	if w := upload(otherToken, "cv.pdf"); w.Code != http.StatusForbidden {
		t.Fatalf("foreign upload: status %d", w.Code)
	}
	w = upload(token, "CV.pdf")
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: status %d body %s", w.Code, w.Body.String())
	}
	var doc struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	decode(t, w, &doc)
	if _, ok := store.uploaded[doc.Key]; !ok || doc.Name != "CV.pdf" {
		t.Fatalf("stored doc = %+v, uploaded = %v", doc, store.uploaded)
	}

	w = s.do(t, http.MethodGet, base+"/documents/link?key="+doc.Key, token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), doc.Key) {
		t.Fatalf("link: status %d body %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodGet, base+"/documents/link?key=profiles/999/x.pdf", token, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign key link: status %d", w.Code)
	}

	w = s.do(t, http.MethodDelete, base+"/documents?key="+doc.Key, token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d body %s", w.Code, w.Body.String())
	}
	if len(store.deleted) != 1 || store.deleted[0] != doc.Key {
		t.Fatalf("deleted = %v", store.deleted)
	}
}

func (s *testServer) upload(t *testing.T, path, token, filename string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := newMultipartUpload(t, filename, []byte("%PDF-1.4 resume"))
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func storedDocuments(t *testing.T, db *gorm.DB, userID uint) []profile.Document {
	t.Helper()
	var prof database.Profile
	if err := db.Where("user_id = ?", userID).First(&prof).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	return prof.Documents
}

func TestProfileSaveKeepsDocuments(t *testing.T) {
	store := newFakeStorage()
	s := newTestServer(t, store)
	token, userID := s.register(t, "kate")
	base := fmt.Sprintf("/api/profiles/%d", userID)

	// 先上传再首次保存，档案行由上传创建。
	if w := s.upload(t, base+"/documents", token, "cv.pdf"); w.Code != http.StatusCreated {
		t.Fatalf("upload: status %d body %s", w.Code, w.Body.String())
	}
	for _, name := range []string{"Kate", "Kate Bell"} {
		w := s.do(t, http.MethodPost, base, token, gin.H{"fullName": name})
		if w.Code != http.StatusOK {
			t.Fatalf("save %q: status %d body %s", name, w.Code, w.Body.String())
		}
		var resp struct {
			FullName  string             `json:"fullName"`
			Documents []profile.Document `json:"documents"`
		}
		decode(t, w, &resp)
		if resp.FullName != name || len(resp.Documents) != 1 {
			t.Fatalf("save %q response = %+v", name, resp)
		}
	}

	// 模拟保存期间另一请求写入文档：直接改行后再保存，文档不应被覆盖。
	extra := profile.Document{Key: profile.DocumentPrefix(userID) + "extra.pdf", Name: "extra.pdf"}
	docs := append(storedDocuments(t, s.db, userID), extra)
	if err := s.db.Model(&database.Profile{}).Where("user_id = ?", userID).
		Update("documents", datatypes.NewJSONSlice(docs)).Error; err != nil {
		t.Fatalf("write documents: %v", err)
	}
	if w := s.do(t, http.MethodPost, base, token, gin.H{"headline": "Backend"}); w.Code != http.StatusOK {
		t.Fatalf("save: status %d body %s", w.Code, w.Body.String())
	}
	if got := storedDocuments(t, s.db, userID); len(got) != 2 || got[1].Key != extra.Key {
		t.Fatalf("documents after save = %+v", got)
	}

	var count int64
	s.db.Model(&database.Profile{}).Where("user_id = ?", userID).Count(&count)
	if count != 1 {
		t.Fatalf("profile rows = %d", count)
	}
}

func TestConcurrentUploadsAllRecorded(t *testing.T) {
	store := newFakeStorage()
	s := newTestServer(t, store)
	token, userID := s.register(t, "liam")
	path := fmt.Sprintf("/api/profiles/%d/documents", userID)

	const n = 5
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = s.upload(t, path, token, fmt.Sprintf("doc-%d.pdf", i)).Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusCreated {
			t.Fatalf("upload %d: status %d", i, code)
		}
	}
	if got := storedDocuments(t, s.db, userID); len(got) != n {
		t.Fatalf("documents = %d, want %d", len(got), n)
	}
	if len(store.uploaded) != n {
		t.Fatalf("objects = %d, want %d", len(store.uploaded), n)
	}

	key := storedDocuments(t, s.db, userID)[0].Key
	if w := s.do(t, http.MethodDelete, path+"?key="+key, token, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d body %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodDelete, path+"?key="+key, token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete: status %d", w.Code)
	}
	if got := storedDocuments(t, s.db, userID); len(got) != n-1 {
		t.Fatalf("documents after delete = %d", len(got))
	}
}

func TestJobListCacheInvalidatedByAdminWrites(t *testing.T) {
	s := newTestServer(t, nil)
	adminToken, adminID := s.register(t, "mona")
	s.promote(t, adminID)

	list := func() []database.Job {
		t.Helper()
		w := s.do(t, http.MethodGet, "/api/jobs", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("list jobs: status %d body %s", w.Code, w.Body.String())
		}
		var page struct {
			Jobs []database.Job `json:"jobs"`
		}
		decode(t, w, &page)
		return page.Jobs
	}

	archived := s.seedJob(t, "cache-a")
	if got := list(); len(got) != 1 {
		t.Fatalf("first listing = %d jobs", len(got))
	}

	// 绕过 API 直接写库，列表仍命中缓存。
	fresh := s.seedJob(t, "cache-b")
	if got := list(); len(got) != 1 || got[0].ID != archived.ID {
		t.Fatalf("cached listing = %+v", got)
	}

	w := s.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/jobs/%d", archived.ID), adminToken, gin.H{"isActive": false})
	if w.Code != http.StatusOK {
		t.Fatalf("archive: status %d body %s", w.Code, w.Body.String())
	}
	if got := list(); len(got) != 1 || got[0].ID != fresh.ID {
		t.Fatalf("listing after archive = %+v", got)
	}

	// 失败的写操作不清缓存。
	s.seedJob(t, "cache-c")
	if w := s.do(t, http.MethodPatch, "/api/admin/jobs/9999", adminToken, gin.H{"isActive": false}); w.Code != http.StatusNotFound {
		t.Fatalf("archive missing job: status %d", w.Code)
	}
	if got := list(); len(got) != 1 {
		t.Fatalf("listing after failed write = %d jobs", len(got))
	}
}

func TestDocumentsWithoutStorage(t *testing.T) {
	s := newTestServer(t, nil)
	token, userID := s.register(t, "judy")
	w := s.do(t, http.MethodGet, fmt.Sprintf("/api/profiles/%d/documents/link?key=x", userID), token, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", w.Code)
	}
}

func TestInternalFeedInline(t *testing.T) {
	s := newTestServer(t, nil)
	feed := gin.H{"jobs": []gin.H{
		{"jobIdentifier": "ext-1", "title": "Go Engineer", "company": "Acme", "requirements": "Go; SQL"},
		{"jobIdentifier": "ext-2", "title": "", "company": "Acme"},
	}}

	if w := s.do(t, http.MethodPost, "/internal/jobs", "", feed); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: status %d", w.Code)
	}

	raw, _ := json.Marshal(feed)
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", testInternalSecret)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("feed: status %d body %s", w.Code, w.Body.String())
	}
	var result struct {
		Created int `json:"created"`
		Failed  int `json:"failed"`
	}
	decode(t, w, &result)
	if result.Created != 1 || result.Failed != 1 {
		t.Fatalf("feed result = %+v", result)
	}

	w = s.do(t, http.MethodGet, "/api/jobs?search=go", "", nil)
	var page struct {
		Total int64 `json:"total"`
		Jobs  []struct {
			Requirements string `json:"requirements"`
		} `json:"jobs"`
	}
	decode(t, w, &page)
	if page.Total != 1 || page.Jobs[0].Requirements != "Go; SQL" {
		t.Fatalf("jobs = %+v", page)
	}
}

func TestPasswordChangeGate(t *testing.T) {
	s := newTestServer(t, nil)
	adminToken, adminID := s.register(t, "kate")
	s.promote(t, adminID)

	w := s.do(t, http.MethodPost, "/api/admin/users", adminToken, gin.H{
		"username": "newhire", "email": "newhire@example.com", "password": "initial123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user: status %d body %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "newhire", "password": "initial123"})
	var login struct {
		AccessToken        string `json:"accessToken"`
		MustChangePassword bool   `json:"mustChangePassword"`
	}
	decode(t, w, &login)
	if !login.MustChangePassword {
		t.Fatalf("admin-created account should require a password change")
	}
	if w := s.do(t, http.MethodGet, "/api/user", login.AccessToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("gated /api/user: status %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/user/password", login.AccessToken, gin.H{
		"currentPassword": "initial123", "newPassword": "changed456", "confirmPassword": "changed456",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("change password: status %d body %s", w.Code, w.Body.String())
	}
	var changed struct {
		AccessToken string `json:"accessToken"`
	}
	decode(t, w, &changed)
	if w := s.do(t, http.MethodGet, "/api/user", changed.AccessToken, nil); w.Code != http.StatusOK {
		t.Fatalf("/api/user after change: status %d", w.Code)
	}
}
