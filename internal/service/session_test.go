package service

import (
	"context"
	"testing"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRefresh_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()

	var record models.RefreshToken
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, rt *models.RefreshToken) { record = *rt }).
		Return(nil)

	pair, jti, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().RefreshTokenByID(gomock.Any(), jti).Return(&record, nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.Equal(t, models.AuditTokenRefresh, e.Type)
			require.Equal(t, jti, *e.SessionID)
		}).
		Return(nil)

	access, expiresAt, gotUser, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.Equal(t, user.ID, gotUser.ID)
	require.WithinDuration(t, time.Now().Add(svc.cfg.AccessTokenTTL), expiresAt, 2*time.Second)

	// Новый access-токен сохраняет привязку к исходной сессии.
	c, err := svc.verifyToken(access, tokenTypeAccess)
	require.NoError(t, err)
	require.Equal(t, jti.String(), c.SessionID)
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	pair, _, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)

	_, _, _, err = svc.Refresh(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenTypeMismatch)
}

func TestRefresh_RevokedRecord(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()

	var record models.RefreshToken
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, rt *models.RefreshToken) { record = *rt }).
		Return(nil)

	pair, jti, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)

	// Запись отозвана: реестр авторитетнее срока внутри подписанного токена.
	record.Revoked = true
	record.IsActive = false

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().RefreshTokenByID(gomock.Any(), jti).Return(&record, nil)

	_, _, _, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRefresh_ExpiredRecord(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()

	var record models.RefreshToken
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, rt *models.RefreshToken) { record = *rt }).
		Return(nil)

	pair, jti, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)

	// Подпись токена ещё действительна, но запись реестра уже истекла.
	record.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().RefreshTokenByID(gomock.Any(), jti).Return(&record, nil)

	_, _, _, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefresh_UnknownRecord(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	pair, jti, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().RefreshTokenByID(gomock.Any(), jti).Return(nil, storage.ErrNotFound)

	_, _, _, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_InactiveUser(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	pair, _, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)

	inactive := *user
	inactive.IsActive = false
	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(&inactive, nil)

	_, _, _, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_SingleToken(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	pair, jti, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)

	st.EXPECT().RevokeRefreshToken(gomock.Any(), jti, "logout").Return(true, nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.Equal(t, models.AuditLogout, e.Type)
			require.Equal(t, user.ID, *e.UserID) // uid восстановлен из клеймов
			require.Equal(t, "1", e.Metadata["revoked_count"])
		}).
		Return(nil)

	count, err := svc.Logout(context.Background(), LogoutParams{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestLogout_AlreadyRevoked_CountsZero(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	pair, jti, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)

	// Повторный logout: запись уже отозвана, ошибки нет, счётчик нулевой.
	st.EXPECT().RevokeRefreshToken(gomock.Any(), jti, "logout").Return(false, nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).Return(nil)

	count, err := svc.Logout(context.Background(), LogoutParams{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestLogout_ExpiredToken_StillRevocable(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	// Подпись refresh-токена истекла, но jti читается без проверки срока
	// и запись реестра всё равно отзывается.
	past := time.Now().UTC().Add(-48 * time.Hour)
	signed, jti, err := svc.mintToken(testUser(), tokenTypeRefresh, time.Hour, uuid.Nil, past)
	require.NoError(t, err)

	st.EXPECT().RevokeRefreshToken(gomock.Any(), jti, "logout").Return(true, nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).Return(nil)

	count, err := svc.Logout(context.Background(), LogoutParams{RefreshToken: signed})
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestLogout_UnknownToken_NoError(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	signed, jti, err := svc.mintToken(testUser(), tokenTypeRefresh, time.Hour, uuid.Nil, time.Now().UTC())
	require.NoError(t, err)

	st.EXPECT().RevokeRefreshToken(gomock.Any(), jti, "logout").Return(false, storage.ErrNotFound)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).Return(nil)

	count, err := svc.Logout(context.Background(), LogoutParams{RefreshToken: signed})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestLogout_Garbage_NoError(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).Return(nil)

	count, err := svc.Logout(context.Background(), LogoutParams{RefreshToken: "not-a-jwt"})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestLogout_RevokeAll(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := testUser()
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)

	pair, jti, err := svc.issueTokenPair(context.Background(), user, models.Origin{})
	require.NoError(t, err)

	st.EXPECT().RevokeRefreshToken(gomock.Any(), jti, "logout").Return(true, nil)
	st.EXPECT().RevokeAllRefreshTokens(gomock.Any(), user.ID, "logout_all").Return(int64(2), nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.Equal(t, "3", e.Metadata["revoked_count"])
			require.Equal(t, "true", e.Metadata["revoke_all"])
		}).
		Return(nil)

	count, err := svc.Logout(context.Background(), LogoutParams{
		RefreshToken: pair.RefreshToken,
		RevokeAll:    true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestLogout_RevokeAll_ByUserIDOnly(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	userID := uuid.New()

	st.EXPECT().RevokeAllRefreshTokens(gomock.Any(), userID, "logout_all").Return(int64(4), nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).Return(nil)

	count, err := svc.Logout(context.Background(), LogoutParams{UserID: &userID, RevokeAll: true})
	require.NoError(t, err)
	require.Equal(t, int64(4), count)
}

func TestSessions_MarksCurrent(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	userID := uuid.New()
	current := uuid.New()
	other := uuid.New()
	now := time.Now().UTC()

	st.EXPECT().ActiveRefreshTokensByUser(gomock.Any(), userID).Return([]models.RefreshToken{
		{ID: other, UserID: userID, ExpiresAt: now.Add(time.Hour), IsActive: true, CreatedAt: now},
		{ID: current, UserID: userID, ExpiresAt: now.Add(time.Hour), IsActive: true, CreatedAt: now},
	}, nil)

	sessions, err := svc.Sessions(context.Background(), userID, current)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.False(t, sessions[0].Current)
	require.True(t, sessions[1].Current)
}

func TestRevokeSession_ForeignSession_NotFound(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	owner := uuid.New()
	stranger := uuid.New()
	sessionID := uuid.New()

	// Сессия другого пользователя неотличима от несуществующей.
	st.EXPECT().RefreshTokenByID(gomock.Any(), sessionID).
		Return(&models.RefreshToken{ID: sessionID, UserID: owner}, nil)

	err := svc.RevokeSession(context.Background(), stranger, sessionID, "")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevokeSession_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	userID := uuid.New()
	sessionID := uuid.New()

	st.EXPECT().RefreshTokenByID(gomock.Any(), sessionID).
		Return(&models.RefreshToken{ID: sessionID, UserID: userID, IsActive: true}, nil)
	st.EXPECT().RevokeRefreshToken(gomock.Any(), sessionID, "revoked_by_user").Return(true, nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.Equal(t, models.AuditSessionRevoked, e.Type)
			require.Equal(t, "revoked_by_user", e.Reason)
		}).
		Return(nil)

	require.NoError(t, svc.RevokeSession(context.Background(), userID, sessionID, ""))
}

func TestSweepExpiredSessions(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().RevokeExpiredTokens(gomock.Any(), gomock.Any()).Return(int64(7), nil)

	count, err := svc.SweepExpiredSessions(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(7), count)
}
