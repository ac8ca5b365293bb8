package books_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/circulation/books"
	"LIBRIS-backend/internal/platform/auth"
)

var testSecret = []byte("test-secret")

func bearer(t *testing.T, sub string, role auth.Role) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "role": string(role)}).
		SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + tok
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, _ := newService(t)
	r := gin.New()
	api := r.Group("/api/v1", auth.RequireAuth(testSecret))
	books.RegisterRoutes(api, svc)
	return r
}

func call(t *testing.T, r http.Handler, method, path, authz string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func Test_Handler_BookLifecycle(t *testing.T) {
	// setup
	r := newRouter(t)
	admin := bearer(t, "librarian", auth.RoleAdmin)
	user := bearer(t, "u1", auth.RoleUser)

	// act: 登録
	w := call(t, r, http.MethodPost, "/api/v1/books", admin, gin.H{
		"title": "Go", "author": "Pike", "isbn": "9780134190440", "quantity": 2,
	})

	// assert
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created books.BookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "/books/"+created.ID, w.Header().Get("Location"))
	assert.Equal(t, books.StatusAvailable, created.Status)

	// 一般ユーザーも参照はできる
	w = call(t, r, http.MethodGet, "/api/v1/books/"+created.ID, user, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(t, r, http.MethodGet, "/api/v1/books?status=available&limit=10", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list books.ListBooksResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.EqualValues(t, 1, list.Total)

	w = call(t, r, http.MethodPatch, "/api/v1/books/"+created.ID, admin, gin.H{"quantity": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated books.BookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, 5, updated.Available)

	w = call(t, r, http.MethodDelete, "/api/v1/books/"+created.ID, admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = call(t, r, http.MethodGet, "/api/v1/books/"+created.ID, user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func Test_Handler_WritesRequireAdmin(t *testing.T) {
	r := newRouter(t)
	user := bearer(t, "u1", auth.RoleUser)

	w := call(t, r, http.MethodPost, "/api/v1/books", user, gin.H{
		"title": "Go", "author": "Pike", "isbn": "9780134190440", "quantity": 1,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(t, r, http.MethodDelete, "/api/v1/books/x", user, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(t, r, http.MethodGet, "/api/v1/books", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func Test_Handler_ErrorBodies(t *testing.T) {
	// setup
	r := newRouter(t)
	admin := bearer(t, "librarian", auth.RoleAdmin)
	body := gin.H{"title": "Go", "author": "Pike", "isbn": "9780134190440", "quantity": 1}
	require.Equal(t, http.StatusCreated, call(t, r, http.MethodPost, "/api/v1/books", admin, body).Code)

	cases := map[string]struct {
		method, path string
		body         any
		status       int
		code         string
		reason       string
	}{
		"duplicate isbn": {http.MethodPost, "/api/v1/books", body, http.StatusConflict, "CONFLICT", "DUPLICATE_ISBN"},
		"missing fields": {http.MethodPost, "/api/v1/books", gin.H{"title": "x"}, http.StatusBadRequest, "INVALID_ARGUMENT", ""},
		"bad status":     {http.MethodGet, "/api/v1/books?status=lost", nil, http.StatusBadRequest, "INVALID_ARGUMENT", ""},
		"empty patch":    {http.MethodPatch, "/api/v1/books/nope", gin.H{}, http.StatusBadRequest, "INVALID_ARGUMENT", ""},
		"unknown book":   {http.MethodGet, "/api/v1/books/nope", nil, http.StatusNotFound, "NOT_FOUND", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := call(t, r, tc.method, tc.path, admin, tc.body)
			require.Equal(t, tc.status, w.Code, w.Body.String())

			var got struct {
				Error struct {
					Code   string `json:"code"`
					Reason string `json:"reason"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tc.code, got.Error.Code)
			assert.Equal(t, tc.reason, got.Error.Reason)
		})
	}
}
