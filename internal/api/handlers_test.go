package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/doubthub/doubthub/internal/chat"
	"github.com/doubthub/doubthub/internal/config"
	"github.com/doubthub/doubthub/internal/media"
	"github.com/doubthub/doubthub/internal/stats"
	"github.com/doubthub/doubthub/internal/store"
	"github.com/doubthub/doubthub/internal/testutil"
	"github.com/doubthub/doubthub/internal/types"
)

func newTestApp(t *testing.T, db store.Repository) *App {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return()
	su.On("Decr", mock.Anything).Return()

	logger := testutil.TestLogger(t)
	uploader := media.NewUploader(logger, "test-cloud", "test-preset")
	cs, err := chat.NewChatServer(logger, db, uploader, su)
	require.NoError(t, err)

	secret := base64.StdEncoding.EncodeToString([]byte("test-signing-secret"))
	cfg, err := config.NewConfig("localhost:8080", "mongodb://localhost:27017", "doubthub_test", secret, []string{"http://localhost:3000"})
	require.NoError(t, err)

	return NewApp(http.NewServeMux(), logger, cs, db, su, cfg)
}

func decodeApiError(t *testing.T, body *bytes.Buffer) ApiError {
	t.Helper()
	var apiErr ApiError
	require.NoError(t, json.NewDecoder(body).Decode(&apiErr))
	return apiErr
}

func TestHealthCheck(t *testing.T) {
	db := &store.MockRepository{}
	db.On("Ping", mock.Anything).Return(nil)

	app := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	app.healthCheck(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "OK", resp.Body.String())
}

func TestHealthCheck_StoreUnavailable(t *testing.T) {
	db := &store.MockRepository{}
	db.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	app := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	app.healthCheck(resp, req)

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestCreateAccount(t *testing.T) {
	tcases := []struct {
		name         string
		body         string
		expectedCode int
	}{
		{
			name:         "invalid json",
			body:         "{not json",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "missing fields",
			body:         `{"name":"Alice"}`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "unknown role",
			body:         `{"name":"Alice","role":"Owner","email":"alice@example.com","password":"password123"}`,
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &store.MockRepository{}
			app := newTestApp(t, db)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(tc.body))
			resp := httptest.NewRecorder()
			app.createAccount(resp, req)

			assert.Equal(t, tc.expectedCode, resp.Code)
		})
	}
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	db := &store.MockRepository{}
	db.On("GetUserByEmail", mock.Anything, "alice@example.com").
		Return(store.User{Id: "u1", Email: "alice@example.com"}, nil)

	app := newTestApp(t, db)

	body := `{"name":"Alice","email":"alice@example.com","password":"password123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	resp := httptest.NewRecorder()
	app.createAccount(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	apiErr := decodeApiError(t, resp.Body)
	assert.Equal(t, "an account with this email already exists", apiErr.Message)
	db.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestCreateAccount_Success(t *testing.T) {
	db := &store.MockRepository{}
	db.On("GetUserByEmail", mock.Anything, "alice@example.com").
		Return(store.User{}, store.ErrNotFound)
	db.On("CreateUser", mock.Anything, mock.MatchedBy(func(p store.CreateUserParams) bool {
		return p.Name == "Alice" &&
			p.Role == types.RoleParticipant &&
			p.Email == "alice@example.com" &&
			verifyPassword(p.PasswordHash, "password123")
	})).Return(store.User{Id: "u1", Name: "Alice", Role: types.RoleParticipant, Email: "alice@example.com"}, nil)

	app := newTestApp(t, db)

	body := `{"name":"Alice","email":"alice@example.com","password":"password123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	resp := httptest.NewRecorder()
	app.createAccount(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	var user types.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	assert.Equal(t, "u1", user.Id)
	assert.Equal(t, types.RoleParticipant, user.Role)
	db.AssertExpectations(t)
}

func TestLogin(t *testing.T) {
	hash, err := hashPassword("password123")
	require.NoError(t, err)

	tcases := []struct {
		name         string
		body         string
		dbUser       store.User
		dbErr        error
		expectedCode int
		expectCookie bool
	}{
		{
			name:         "invalid json",
			body:         "{not json",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "missing password",
			body:         `{"email":"alice@example.com"}`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "unknown email",
			body:         `{"email":"alice@example.com","password":"password123"}`,
			dbErr:        store.ErrNotFound,
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "wrong password",
			body:         `{"email":"alice@example.com","password":"wrong"}`,
			dbUser:       store.User{Id: "u1", Email: "alice@example.com", PasswordHash: hash},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "success",
			body:         `{"email":"alice@example.com","password":"password123"}`,
			dbUser:       store.User{Id: "u1", Name: "Alice", Email: "alice@example.com", PasswordHash: hash},
			expectedCode: http.StatusOK,
			expectCookie: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &store.MockRepository{}
			db.On("GetUserByEmail", mock.Anything, "alice@example.com").Return(tc.dbUser, tc.dbErr)

			app := newTestApp(t, db)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tc.body))
			resp := httptest.NewRecorder()
			app.login(resp, req)

			assert.Equal(t, tc.expectedCode, resp.Code)

			var token string
			for _, c := range resp.Result().Cookies() {
				if c.Name == tokenCookieKey {
					token = c.Value
				}
			}
			if tc.expectCookie {
				assert.NotEmpty(t, token, "expected a session cookie")
			} else {
				assert.Empty(t, token)
			}
		})
	}
}

func TestSession(t *testing.T) {
	db := &store.MockRepository{}
	db.On("GetUser", mock.Anything, "u1").
		Return(store.User{Id: "u1", Name: "Alice", Role: types.RoleAdmin, Email: "alice@example.com"}, nil)

	app := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req = req.WithContext(WithUserId(req.Context(), "u1"))
	resp := httptest.NewRecorder()
	app.session(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var user types.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, types.RoleAdmin, user.Role)
}

func TestSession_Unauthenticated(t *testing.T) {
	db := &store.MockRepository{}
	app := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	resp := httptest.NewRecorder()
	app.session(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestLogout(t *testing.T) {
	db := &store.MockRepository{}
	app := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	resp := httptest.NewRecorder()
	app.logout(resp, req)

	assert.Equal(t, http.StatusNoContent, resp.Code)

	cookies := resp.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tokenCookieKey, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
}

func multipartBody(t *testing.T, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUploadAttachment_Unauthenticated(t *testing.T) {
	db := &store.MockRepository{}
	app := newTestApp(t, db)

	req := httptest.NewRequest(http.MethodPost, "/api/attachments", nil)
	resp := httptest.NewRecorder()
	app.uploadAttachment(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestUploadAttachment_NoActiveSession(t *testing.T) {
	db := &store.MockRepository{}
	app := newTestApp(t, db)

	body, contentType := multipartBody(t, "a.png", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/api/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req = req.WithContext(WithUserId(req.Context(), "u1"))
	resp := httptest.NewRecorder()
	app.uploadAttachment(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	apiErr := decodeApiError(t, resp.Body)
	assert.Equal(t, "no active chat session", apiErr.Message)
}

func TestUploadAttachment_FileTooLarge(t *testing.T) {
	db := &store.MockRepository{}
	db.On("GetUser", mock.Anything, "u1").Return(store.User{Id: "u1"}, nil)
	db.On("WatchMembershipsByUser", mock.Anything, "u1").Return(store.NewMembershipSub(), nil)

	app := newTestApp(t, db)
	sess, err := app.cs.StartSession(context.Background(), types.User{Id: "u1"})
	require.NoError(t, err)
	defer app.cs.RemoveSession(sess)

	body, contentType := multipartBody(t, "big.bin", make([]byte, media.MaxFileSize+1))
	req := httptest.NewRequest(http.MethodPost, "/api/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req = req.WithContext(WithUserId(req.Context(), "u1"))
	resp := httptest.NewRecorder()
	app.uploadAttachment(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	apiErr := decodeApiError(t, resp.Body)
	assert.Equal(t, "File size too large. Please choose a file smaller than 10MB.", apiErr.Message)
}

func TestUploadAttachment_NoRoomJoined(t *testing.T) {
	db := &store.MockRepository{}
	db.On("GetUser", mock.Anything, "u1").Return(store.User{Id: "u1"}, nil)
	db.On("WatchMembershipsByUser", mock.Anything, "u1").Return(store.NewMembershipSub(), nil)

	app := newTestApp(t, db)
	sess, err := app.cs.StartSession(context.Background(), types.User{Id: "u1"})
	require.NoError(t, err)
	defer app.cs.RemoveSession(sess)

	body, contentType := multipartBody(t, "a.png", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/api/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req = req.WithContext(WithUserId(req.Context(), "u1"))
	resp := httptest.NewRecorder()
	app.uploadAttachment(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	apiErr := decodeApiError(t, resp.Body)
	assert.Equal(t, "Please join a room to upload files.", apiErr.Message)
}

func TestUploadAttachment_Accepted(t *testing.T) {
	db := &store.MockRepository{}
	db.On("GetUser", mock.Anything, "u1").Return(store.User{Id: "u1", Name: "Alice", Role: types.RoleAdmin}, nil)
	dirSub := store.NewMembershipSub()
	db.On("WatchMembershipsByUser", mock.Anything, "u1").Return(dirSub, nil)
	db.On("GetRoom", mock.Anything, "r1").Return(store.Room{Id: "r1", Name: "General"}, nil)
	db.On("WatchMembershipsByRoom", mock.Anything, "r1").Return(store.NewMembershipSub(), nil)
	db.On("WatchMessages", mock.Anything, "r1", true).Return(store.NewMessageSub(), nil)
	db.On("CreateMessage", mock.Anything, mock.Anything).Return(store.Message{Id: "m1"}, nil)

	app := newTestApp(t, db)
	sess, err := app.cs.StartSession(context.Background(), types.User{Id: "u1"})
	require.NoError(t, err)
	defer app.cs.RemoveSession(sess)

	dirSub.C <- []store.Membership{{Id: "m1", RoomId: "r1", UserId: "u1"}}

	// Wait until the session has selected the room.
	deadline := time.After(2 * time.Second)
	for selected := false; !selected; {
		select {
		case msg := <-sess.Send():
			if msg.RoomList != nil && msg.RoomList.ActiveId == "r1" {
				selected = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for room selection")
		}
	}

	body, contentType := multipartBody(t, "a.png", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/api/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req = req.WithContext(WithUserId(req.Context(), "u1"))
	resp := httptest.NewRecorder()
	app.uploadAttachment(resp, req)

	require.Equal(t, http.StatusAccepted, resp.Code)
	var ur UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ur))
	assert.NotEmpty(t, ur.UploadId)
}
