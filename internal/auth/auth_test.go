package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/trapfleet/internal/auth"
	"github.com/kiranshivaraju/trapfleet/internal/config"
	"github.com/kiranshivaraju/trapfleet/internal/store/mock"
	"github.com/kiranshivaraju/trapfleet/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "jwt-secret-that-is-long-enough-0123456789",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}
}

func newUser(t *testing.T, s *mock.Store, email, password string, active bool) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	now := time.Now().UTC()
	u := &models.User{ID: uuid.New(), Email: email, PasswordHash: hash, Active: active, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

// --- Tokens ---

func TestTokenIssuer_RoundTrip(t *testing.T) {
	ti := auth.NewTokenIssuer(testAuthConfig())
	user := &models.User{ID: uuid.New(), Email: "owner@example.com"}

	pair, err := ti.Issue(user)
	require.NoError(t, err)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := ti.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
	assert.Equal(t, "owner@example.com", claims.Email)

	_, err = ti.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
}

func TestTokenIssuer_WrongType(t *testing.T) {
	ti := auth.NewTokenIssuer(testAuthConfig())
	pair, err := ti.Issue(&models.User{ID: uuid.New()})
	require.NoError(t, err)

	_, err = ti.ParseAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrWrongTokenType)
	_, err = ti.ParseRefresh(pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrWrongTokenType)
}

func TestTokenIssuer_RejectsForeignSecretAndGarbage(t *testing.T) {
	ti := auth.NewTokenIssuer(testAuthConfig())
	other := testAuthConfig()
	other.JWTSecret = "another-secret-that-is-long-enough-987654"
	pair, err := auth.NewTokenIssuer(other).Issue(&models.User{ID: uuid.New()})
	require.NoError(t, err)

	_, err = ti.ParseAccess(pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = ti.ParseAccess("not.a.jwt")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenIssuer_RejectsNoneAlgorithm(t *testing.T) {
	ti := auth.NewTokenIssuer(testAuthConfig())
	claims := auth.Claims{
		TokenType: auth.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "trapfleet",
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ti.ParseAccess(unsigned)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenIssuer_Expired(t *testing.T) {
	cfg := testAuthConfig()
	cfg.AccessTokenTTL = -time.Minute
	ti := auth.NewTokenIssuer(cfg)
	pair, err := ti.Issue(&models.User{ID: uuid.New()})
	require.NoError(t, err)

	_, err = ti.ParseAccess(pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

// --- Service ---

func TestLogin(t *testing.T) {
	s := mock.NewStore()
	user := newUser(t, s, "owner@example.com", "correct-horse", true)
	svc := auth.NewService(s, auth.NewTokenIssuer(testAuthConfig()))

	got, pair, err := svc.Login(context.Background(), "owner@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestLogin_Failures(t *testing.T) {
	s := mock.NewStore()
	newUser(t, s, "owner@example.com", "correct-horse", true)
	newUser(t, s, "disabled@example.com", "correct-horse", false)
	svc := auth.NewService(s, auth.NewTokenIssuer(testAuthConfig()))

	cases := map[string][2]string{
		"wrong password": {"owner@example.com", "battery-staple"},
		"unknown email":  {"nobody@example.com", "correct-horse"},
		"inactive user":  {"disabled@example.com", "correct-horse"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := svc.Login(context.Background(), c[0], c[1])
			assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		})
	}
}

func TestRefresh(t *testing.T) {
	s := mock.NewStore()
	user := newUser(t, s, "owner@example.com", "correct-horse", true)
	ti := auth.NewTokenIssuer(testAuthConfig())
	svc := auth.NewService(s, ti)

	pair, err := ti.Issue(user)
	require.NoError(t, err)

	next, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	_, err = ti.ParseAccess(next.AccessToken)
	assert.NoError(t, err)

	_, err = svc.Refresh(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, auth.ErrWrongTokenType)
}

func TestRefresh_DeletedUser(t *testing.T) {
	s := mock.NewStore()
	ti := auth.NewTokenIssuer(testAuthConfig())
	svc := auth.NewService(s, ti)

	pair, err := ti.Issue(&models.User{ID: uuid.New(), Email: "ghost@example.com"})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
