package service

import (
	"context"
	"testing"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testUser() *models.User {
	return &models.User{
		ID:       uuid.New(),
		Username: "alice",
		IsActive: true,
	}
}

func TestMintVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	now := time.Now().UTC()

	signed, jti, err := svc.mintToken(user, tokenTypeAccess, time.Minute, uuid.Nil, now)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, jti)

	c, err := svc.verifyToken(signed, tokenTypeAccess)
	require.NoError(t, err)
	require.Equal(t, user.ID.String(), c.UserID)
	require.Equal(t, user.Username, c.Username)
	require.Equal(t, jti.String(), c.ID)
	require.Equal(t, tokenTypeAccess, c.TokenType)
}

func TestVerify_TypeMismatch(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	// Refresh-токен нельзя предъявить там, где ожидается access, и наоборот.
	signed, _, err := svc.mintToken(testUser(), tokenTypeRefresh, time.Minute, uuid.Nil, time.Now().UTC())
	require.NoError(t, err)

	_, err = svc.verifyToken(signed, tokenTypeAccess)
	require.ErrorIs(t, err, ErrTokenTypeMismatch)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	// Срок в прошлом за пределами leeway.
	past := time.Now().UTC().Add(-time.Hour)
	signed, _, err := svc.mintToken(testUser(), tokenTypeAccess, time.Minute, uuid.Nil, past)
	require.NoError(t, err)

	_, err = svc.verifyToken(signed, tokenTypeAccess)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_TamperedSignature(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	signed, _, err := svc.mintToken(testUser(), tokenTypeAccess, time.Minute, uuid.Nil, time.Now().UTC())
	require.NoError(t, err)

	tampered := signed[:len(signed)-2] + "xx"
	_, err = svc.verifyToken(tampered, tokenTypeAccess)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:    uuid.NewString(),
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			Issuer:    "auth-service",
			Audience:  jwt.ClaimStrings{"api-gateway"},
		},
	})
	signed, err := foreign.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = svc.verifyToken(signed, tokenTypeAccess)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessToken_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	sid := uuid.New()

	signed, _, err := svc.mintToken(user, tokenTypeAccess, time.Minute, sid, time.Now().UTC())
	require.NoError(t, err)

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	gotUser, gotSID, err := svc.ValidateAccessToken(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, user.ID, gotUser.ID)
	require.Equal(t, sid, gotSID)
}

func TestValidateAccessToken_UserGone(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	signed, _, err := svc.mintToken(user, tokenTypeAccess, time.Minute, uuid.Nil, time.Now().UTC())
	require.NoError(t, err)

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(nil, storage.ErrNotFound)

	_, _, err = svc.ValidateAccessToken(context.Background(), signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessToken_InactiveUser(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	signed, _, err := svc.mintToken(user, tokenTypeAccess, time.Minute, uuid.Nil, time.Now().UTC())
	require.NoError(t, err)

	inactive := *user
	inactive.IsActive = false
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(&inactive, nil)

	_, _, err = svc.ValidateAccessToken(context.Background(), signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueTokenPair_RetriesOnCollision(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()

	// Первая вставка — коллизия jti, вторая успешна.
	gomock.InOrder(
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists),
		st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil),
	)

	pair, jti, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, jti)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
}

func TestIssueTokenPair_AccessCarriesSessionID(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	pair, jti, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)

	// sid access-токена указывает на jti refresh-токена той же выдачи.
	ac, err := svc.verifyToken(pair.AccessToken, tokenTypeAccess)
	require.NoError(t, err)
	require.Equal(t, jti.String(), ac.SessionID)

	rc, err := svc.verifyToken(pair.RefreshToken, tokenTypeRefresh)
	require.NoError(t, err)
	require.Equal(t, jti.String(), rc.ID)
	require.Empty(t, rc.SessionID)
}

func TestUnverifiedClaims_ExpiredTokenStillReadable(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	past := time.Now().UTC().Add(-48 * time.Hour)
	signed, jti, err := svc.mintToken(testUser(), tokenTypeRefresh, time.Hour, uuid.Nil, past)
	require.NoError(t, err)

	c, err := unverifiedClaims(signed)
	require.NoError(t, err)
	require.Equal(t, jti.String(), c.ID)
	require.Equal(t, tokenTypeRefresh, c.TokenType)
}
