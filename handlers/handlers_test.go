package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"citypulse/classifier"
	"citypulse/config"
	"citypulse/database"
	"citypulse/geocode"
	"citypulse/models"
	"citypulse/otp"
	"citypulse/sms"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeCodeStore keeps verification codes in memory.
type fakeCodeStore struct {
	codes map[string]string
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{codes: map[string]string{}}
}

func (s *fakeCodeStore) Save(_ context.Context, phone, code string) error {
	s.codes[phone] = code
	return nil
}

func (s *fakeCodeStore) Consume(_ context.Context, phone, code string) error {
	if stored, ok := s.codes[phone]; !ok || stored != code {
		return otp.ErrCodeMismatch
	}
	delete(s.codes, phone)
	return nil
}

type testEnv struct {
	handlers *Handlers
	mock     sqlmock.Sqlmock
	codes    *fakeCodeStore
	db       *sql.DB
}

func newTestEnv(t *testing.T, modelDir, modelServerURL string) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		PhonePrefix:        "+91",
		AdminPhoneSuffixes: []string{"9090909090"},
	}
	codes := newFakeCodeStore()

	h := NewHandlers(
		database.NewAuthService(db, "test-secret", time.Hour, 24*time.Hour),
		database.NewComplaintService(db),
		codes,
		sms.NewClient("", ""),
		classifier.New(modelDir, modelServerURL),
		geocode.NewClient("http://127.0.0.1:1"),
		cfg,
		nil,
	)

	return &testEnv{handlers: h, mock: mock, codes: codes, db: db}
}

func performJSON(t *testing.T, handler gin.HandlerFunc, method, target string, body interface{}, ctxValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(payload)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	for k, v := range ctxValues {
		c.Set(k, v)
	}
	handler(c)
	return w
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain 10 digits", "9876543210", "+919876543210", false},
		{"already prefixed", "+919876543210", "+919876543210", false},
		{"with spaces", " 98765 43210 ", "+919876543210", false},
		{"too short", "98765", "", true},
		{"too long", "98765432101", "", true},
		{"letters", "98765abcde", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizePhone(tt.input, "+91")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmitComplaintValidationOrder(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), "http://127.0.0.1:1")
	ctxValues := map[string]string{"user_id": "user-1", "phone": "+911111111111"}

	tests := []struct {
		name    string
		body    models.SubmitComplaintRequest
		wantMsg string
	}{
		{
			name:    "no category",
			body:    models.SubmitComplaintRequest{Address: "Elm St", Image: []byte("img")},
			wantMsg: "please select a complaint type",
		},
		{
			name:    "no location",
			body:    models.SubmitComplaintRequest{Title: "Garbage", Image: []byte("img")},
			wantMsg: "please select a location",
		},
		{
			name:    "no photo",
			body:    models.SubmitComplaintRequest{Title: "Garbage", Address: "Elm St"},
			wantMsg: "please take a photo",
		},
		{
			name:    "category checked before location",
			body:    models.SubmitComplaintRequest{},
			wantMsg: "please select a complaint type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performJSON(t, env.handlers.SubmitComplaint, "POST", "/api/v1/complaints", tt.body, ctxValues)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantMsg, resp.Error)
		})
	}

	// No write was attempted for any rejected submission.
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSubmitComplaintMissingModelNoWarning(t *testing.T) {
	// Pothole model asset absent: verification short-circuits to a pass and
	// the record is created without a warning.
	env := newTestEnv(t, t.TempDir(), "http://127.0.0.1:1")

	env.mock.ExpectExec("INSERT INTO complaints").
		WillReturnResult(sqlmock.NewResult(1, 1))

	body := models.SubmitComplaintRequest{Title: "Pothole", Address: "12 Main St", Image: []byte("img")}
	w := performJSON(t, env.handlers.SubmitComplaint, "POST", "/api/v1/complaints",
		body, map[string]string{"user_id": "user-1", "phone": "+911111111111"})

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SubmitComplaintResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Verified)
	assert.Empty(t, resp.Warning)
	assert.Equal(t, models.StatusPending, resp.Complaint.Status)
	assert.Equal(t, "user-1", resp.Complaint.UserID)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSubmitComplaintUnverifiedStillCreated(t *testing.T) {
	// A low-confidence garbage photo gets a warning, but the submission
	// goes through regardless: the gate is advisory.
	modelDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "garbage_model.tflite"), []byte("model"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"label": "Garbage", "score": 0.3})
	}))
	defer server.Close()

	env := newTestEnv(t, modelDir, server.URL)
	env.mock.ExpectExec("INSERT INTO complaints").
		WillReturnResult(sqlmock.NewResult(1, 1))

	body := models.SubmitComplaintRequest{Title: "Garbage", Address: "Elm St", Image: validPhoto(t)}
	w := performJSON(t, env.handlers.SubmitComplaint, "POST", "/api/v1/complaints",
		body, map[string]string{"user_id": "user-1", "phone": "+911111111111"})

	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SubmitComplaintResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Verified)
	assert.Equal(t, classificationWarning, resp.Warning)
	assert.Equal(t, models.StatusPending, resp.Complaint.Status)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSubmitComplaintStoreFailure(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), "http://127.0.0.1:1")

	env.mock.ExpectExec("INSERT INTO complaints").
		WillReturnError(sql.ErrConnDone)

	body := models.SubmitComplaintRequest{Title: "Pothole", Address: "12 Main St", Image: []byte("img")}
	w := performJSON(t, env.handlers.SubmitComplaint, "POST", "/api/v1/complaints",
		body, map[string]string{"user_id": "user-1", "phone": "+911111111111"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestCodeValidation(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), "http://127.0.0.1:1")

	w := performJSON(t, env.handlers.RequestCode, "POST", "/api/v1/auth/request-code",
		models.RequestCodeRequest{Phone: "12345"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.codes.codes)
}

func TestRequestCodeStoresCode(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), "http://127.0.0.1:1")

	w := performJSON(t, env.handlers.RequestCode, "POST", "/api/v1/auth/request-code",
		models.RequestCodeRequest{Phone: "9876543210"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	code, ok := env.codes.codes["+919876543210"]
	require.True(t, ok, "expected a pending code for the normalized phone")
	assert.Len(t, code, 6)
}

func TestVerifyCodeRouting(t *testing.T) {
	tests := []struct {
		name     string
		phone    string
		wantRole string
	}{
		{"admin suffix routes to review flow", "9090909090", "admin"},
		{"ordinary number routes to citizen flow", "9876543210", "citizen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, t.TempDir(), "http://127.0.0.1:1")
			full := "+91" + tt.phone
			env.codes.codes[full] = "123456"

			env.mock.ExpectQuery("SELECT id, phone, created_at FROM users WHERE phone = \\?").
				WithArgs(full).
				WillReturnRows(sqlmock.NewRows([]string{"id", "phone", "created_at"}).
					AddRow("user-1", full, time.Now()))
			env.mock.ExpectExec("INSERT INTO auth_tokens").
				WillReturnResult(sqlmock.NewResult(1, 1))

			w := performJSON(t, env.handlers.VerifyCode, "POST", "/api/v1/auth/verify-code",
				models.VerifyCodeRequest{Phone: tt.phone, Code: "123456"}, nil)
			require.Equal(t, http.StatusOK, w.Code)

			var resp models.TokenResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantRole, resp.Role)
			assert.NotEmpty(t, resp.Token)
			assert.NotEmpty(t, resp.RefreshToken)
		})
	}
}

func TestVerifyCodeMismatch(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), "http://127.0.0.1:1")
	env.codes.codes["+919876543210"] = "123456"

	w := performJSON(t, env.handlers.VerifyCode, "POST", "/api/v1/auth/verify-code",
		models.VerifyCodeRequest{Phone: "9876543210", Code: "654321"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// No user was created for the failed attempt.
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestDeleteComplaintStatusMapping(t *testing.T) {
	columns := []string{"id", "user_id", "user_phone", "title", "description", "address", "status", "timestamp"}

	tests := []struct {
		name     string
		owner    string
		status   string
		missing  bool
		expected int
	}{
		{"own pending complaint", "user-1", models.StatusPending, false, http.StatusOK},
		{"own approved complaint", "user-1", models.StatusApproved, false, http.StatusForbidden},
		{"own declined complaint", "user-1", models.StatusDeclined, false, http.StatusForbidden},
		{"someone else's complaint", "user-2", models.StatusPending, false, http.StatusNotFound},
		{"missing complaint", "", "", true, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, t.TempDir(), "http://127.0.0.1:1")

			if tt.missing {
				env.mock.ExpectQuery("SELECT (.+) FROM complaints\\s+WHERE id = \\?").
					WillReturnError(sql.ErrNoRows)
			} else {
				env.mock.ExpectQuery("SELECT (.+) FROM complaints\\s+WHERE id = \\?").
					WillReturnRows(sqlmock.NewRows(columns).
						AddRow("c-1", tt.owner, "+911111111111", "Garbage", "", "Elm St", tt.status, int64(1000)))
			}
			if tt.expected == http.StatusOK {
				env.mock.ExpectExec("DELETE FROM complaints").
					WillReturnResult(sqlmock.NewResult(0, 1))
			}

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest("DELETE", "/api/v1/complaints/c-1", nil)
			c.Params = gin.Params{{Key: "id", Value: "c-1"}}
			c.Set("user_id", "user-1")
			env.handlers.DeleteComplaint(c)

			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestUpdateComplaintStatusValidation(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), "http://127.0.0.1:1")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	payload, _ := json.Marshal(models.UpdateStatusRequest{Status: "Resolved"})
	c.Request = httptest.NewRequest("POST", "/api/v1/admin/complaints/c-1/status", bytes.NewBuffer(payload))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}
	env.handlers.UpdateComplaintStatus(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func validPhoto(t *testing.T) []byte {
	t.Helper()
	// A 1x1 PNG is enough for the decode step.
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))))
	return buf.Bytes()
}
