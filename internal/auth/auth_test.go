package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret-0123456789abcdef-xyz"

func TestRegisterAndLogin(t *testing.T) {
	s := New(testSecret, nil)

	c, err := s.Register("Asha Devi", "9876543210", "rainy-season-7")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "Asha Devi", c.Name)

	tok, err := s.Login("9876543210", "rainy-season-7")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.ExpiresAt.After(time.Now()))

	subject, name, err := s.Verify(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, c.ID, subject)
	assert.Equal(t, "Asha Devi", name)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := New(testSecret, nil)
	_, err := s.Register("Asha Devi", "9876543210", "rainy-season-7")
	require.NoError(t, err)

	_, err = s.Login("9876543210", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Login("0000000000", "rainy-season-7")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicatePhone(t *testing.T) {
	s := New(testSecret, nil)
	_, err := s.Register("Asha", "9876543210", "pw1")
	require.NoError(t, err)
	_, err = s.Register("Ramesh", "9876543210", "pw2")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestFaceLogin(t *testing.T) {
	s := New(testSecret, nil)
	tok, err := s.FaceLogin()
	require.NoError(t, err)

	_, name, err := s.Verify(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Verified Citizen", name)
}

func TestVerifyRejectsForeignToken(t *testing.T) {
	issuerA := New(testSecret, nil)
	issuerB := New("a-different-secret-0123456789abcdef", nil)

	tok, err := issuerA.FaceLogin()
	require.NoError(t, err)
	_, _, err = issuerB.Verify(tok.AccessToken)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	s := New(testSecret, nil)
	c, err := s.Register("Asha", "9876543210", "pw")
	require.NoError(t, err)
	tok, err := s.Login("9876543210", "pw")
	require.NoError(t, err)

	var gotSubject, gotName string
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = Subject(r.Context())
		gotName = DisplayName(r.Context())
	}))

	t.Run("public path passes without token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("protected path requires token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token reaches handler with identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, c.ID, gotSubject)
		assert.Equal(t, "Asha", gotName)
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
