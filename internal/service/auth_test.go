package service

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/config"
	"github.com/anubhavg-icpl/grantha-sub000/internal/models"
	"github.com/anubhavg-icpl/grantha-sub000/internal/storage"
	"github.com/anubhavg-icpl/grantha-sub000/mocks"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "unit-secret",
		JWTAlgorithm:    "HS256",
		AccessTokenTTL:  30 * time.Second,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "auth-service",
		Audience:        []string{"api-gateway"},
	}
}

func testSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		LockoutThreshold: 5,
		LockoutDuration:  30 * time.Minute,
		VerificationTTL:  24 * time.Hour,
		ResetTTL:         time.Hour,
	}
}

func newSvc(t *testing.T) (*Service, *mocks.MockStorage, *gomock.Controller) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStorage(ctrl)
	svc := New(st, testCfg(), testSecurity())
	return svc, st, ctrl
}

func mustHashPW(t *testing.T, pw string) string {
	t.Helper()
	h, err := hashPassword(pw)
	require.NoError(t, err)
	return h
}

func TestRegisterUser_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(nil, storage.ErrNotFound)
	st.EXPECT().UserByEmail(gomock.Any(), "alice@example.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, u *models.User) {
			require.Equal(t, "alice", u.Username)
			require.Equal(t, "alice@example.com", u.Email)
			require.True(t, u.IsActive)
			require.NotEqual(t, "Sup3rSecret!", u.PasswordHash)
			require.True(t, checkPassword(u.PasswordHash, "Sup3rSecret!"))
		}).
		Return(nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).Return(nil)

	user, err := svc.RegisterUser(context.Background(), RegisterParams{
		Username: "alice",
		Password: "Sup3rSecret!",
		Email:    "Alice@Example.com",
	}, models.Origin{IP: "127.0.0.1"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, user.ID)
	require.Equal(t, "alice@example.com", user.Email)
}

func TestRegisterUser_InvalidUsername(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	for _, username := range []string{"", "ab", "has space", "x"} {
		_, err := svc.RegisterUser(context.Background(), RegisterParams{
			Username: username,
			Password: "Sup3rSecret!",
		}, models.Origin{})
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidUsername, "username %q", username)
	}
}

func TestRegisterUser_WeakOrEmptyPassword(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, err := svc.RegisterUser(context.Background(), RegisterParams{Username: "alice", Password: ""}, models.Origin{})
	require.ErrorIs(t, err, ErrEmptyPassword)

	// Длина >= 8, но без обязательных классов символов.
	_, err = svc.RegisterUser(context.Background(), RegisterParams{Username: "alice", Password: "alllowercase"}, models.Origin{})
	require.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.RegisterUser(context.Background(), RegisterParams{Username: "alice", Password: "Short1!"}, models.Origin{})
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestRegisterUser_UsernameTaken_OnLookup(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByUsername(gomock.Any(), "alice").
		Return(&models.User{ID: uuid.New(), Username: "alice"}, nil)

	_, err := svc.RegisterUser(context.Background(), RegisterParams{
		Username: "alice",
		Password: "Sup3rSecret!",
	}, models.Origin{})
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegisterUser_EmailTaken_OnLookup(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(nil, storage.ErrNotFound)
	st.EXPECT().UserByEmail(gomock.Any(), "alice@example.com").
		Return(&models.User{ID: uuid.New(), Email: "alice@example.com"}, nil)

	_, err := svc.RegisterUser(context.Background(), RegisterParams{
		Username: "alice",
		Password: "Sup3rSecret!",
		Email:    "alice@example.com",
	}, models.Origin{})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterUser_SaveRace_MapsToConflict(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	// Гонка: предварительная проверка прошла, уникальный индекс сработал на вставке.
	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveUser(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)

	_, err := svc.RegisterUser(context.Background(), RegisterParams{
		Username: "alice",
		Password: "Sup3rSecret!",
	}, models.Origin{})
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestLogin_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{
		ID:           uuid.New(),
		Username:     "alice",
		PasswordHash: mustHashPW(t, "Sup3rSecret!"),
		IsActive:     true,
	}

	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(user, nil)
	st.EXPECT().ResetLoginFailures(gomock.Any(), user.ID, gomock.Any()).Return(nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.Equal(t, models.AuditLogin, e.Type)
			require.True(t, e.Success)
			require.NotNil(t, e.SessionID)
		}).
		Return(nil)

	pair, gotUser, err := svc.Login(context.Background(), "alice", "Sup3rSecret!", models.Origin{IP: "127.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, user.ID, gotUser.ID)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.WithinDuration(t, time.Now().Add(svc.cfg.AccessTokenTTL), pair.AccessExpiresAt, 2*time.Second)
}

func TestLogin_ByEmail_OK(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{
		ID:           uuid.New(),
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: mustHashPW(t, "Sup3rSecret!"),
		IsActive:     true,
	}

	// Сначала поиск по имени, затем (логин содержит @) по email.
	st.EXPECT().UserByUsername(gomock.Any(), "Alice@Example.com").Return(nil, storage.ErrNotFound)
	st.EXPECT().UserByEmail(gomock.Any(), "alice@example.com").Return(user, nil)
	st.EXPECT().ResetLoginFailures(gomock.Any(), user.ID, gomock.Any()).Return(nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).Return(nil)

	_, _, err := svc.Login(context.Background(), "Alice@Example.com", "Sup3rSecret!", models.Origin{})
	require.NoError(t, err)
}

func TestLogin_UnknownUser_UniformError(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByUsername(gomock.Any(), "ghost").Return(nil, storage.ErrNotFound)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.False(t, e.Success)
			require.Equal(t, "unknown_user", e.Reason)
			require.Nil(t, e.UserID)
		}).
		Return(nil)

	_, _, err := svc.Login(context.Background(), "ghost", "whatever", models.Origin{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_WrongPassword_RecordsFailure(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{
		ID:           uuid.New(),
		Username:     "alice",
		PasswordHash: mustHashPW(t, "Sup3rSecret!"),
		IsActive:     true,
	}

	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(user, nil)
	// До порога блокировки далеко — lockedUntil не выставляется.
	st.EXPECT().RecordLoginFailure(gomock.Any(), user.ID, nil).Return(1, nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.Equal(t, "invalid_password", e.Reason)
			require.Equal(t, "1", e.Metadata["failed_attempts"])
			require.Equal(t, "false", e.Metadata["locked"])
		}).
		Return(nil)

	_, _, err := svc.Login(context.Background(), "alice", "wrong", models.Origin{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_WrongPassword_ThresholdSetsLock(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	// Пятая подряд неудача (порог 5) должна выставить блокировку
	// тем же запросом, что и инкремент счётчика.
	user := &models.User{
		ID:                  uuid.New(),
		Username:            "alice",
		PasswordHash:        mustHashPW(t, "Sup3rSecret!"),
		IsActive:            true,
		FailedLoginAttempts: 4,
	}

	var gotLock *time.Time
	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(user, nil)
	st.EXPECT().RecordLoginFailure(gomock.Any(), user.ID, gomock.Any()).
		Do(func(_ context.Context, _ uuid.UUID, lockedUntil *time.Time) {
			gotLock = lockedUntil
		}).
		Return(5, nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.Equal(t, "5", e.Metadata["failed_attempts"])
			require.Equal(t, "true", e.Metadata["locked"])
		}).
		Return(nil)

	_, _, err := svc.Login(context.Background(), "alice", "wrong", models.Origin{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.NotNil(t, gotLock)
	require.WithinDuration(t, time.Now().Add(svc.security.LockoutDuration), *gotLock, 2*time.Second)
}

func TestLogin_LockedAccount_PasswordNotChecked(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	lockedUntil := time.Now().Add(10 * time.Minute)
	user := &models.User{
		ID:                  uuid.New(),
		Username:            "alice",
		PasswordHash:        mustHashPW(t, "Sup3rSecret!"),
		IsActive:            true,
		FailedLoginAttempts: 5,
		LockedUntil:         &lockedUntil,
	}

	// RecordLoginFailure не ожидается: попытки при действующей блокировке
	// счётчик не увеличивают.
	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(user, nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.Equal(t, "locked", e.Reason)
		}).
		Return(nil)

	// Даже верный пароль при блокировке отклоняется.
	_, _, err := svc.Login(context.Background(), "alice", "Sup3rSecret!", models.Origin{})
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestLogin_ExpiredLock_AllowsLogin(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	expired := time.Now().Add(-time.Minute)
	user := &models.User{
		ID:                  uuid.New(),
		Username:            "alice",
		PasswordHash:        mustHashPW(t, "Sup3rSecret!"),
		IsActive:            true,
		FailedLoginAttempts: 5,
		LockedUntil:         &expired,
	}

	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(user, nil)
	st.EXPECT().ResetLoginFailures(gomock.Any(), user.ID, gomock.Any()).Return(nil)
	st.EXPECT().SaveRefreshToken(gomock.Any(), gomock.Any()).Return(nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).Return(nil)

	pair, gotUser, err := svc.Login(context.Background(), "alice", "Sup3rSecret!", models.Origin{})
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)
	require.Zero(t, gotUser.FailedLoginAttempts)
	require.Nil(t, gotUser.LockedUntil)
}

func TestLogin_InactiveAccount(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{
		ID:           uuid.New(),
		Username:     "alice",
		PasswordHash: mustHashPW(t, "Sup3rSecret!"),
		IsActive:     false,
	}

	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(user, nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).Return(nil)

	_, _, err := svc.Login(context.Background(), "alice", "Sup3rSecret!", models.Origin{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_EmptyInput(t *testing.T) {
	t.Parallel()

	svc, _, ctrl := newSvc(t)
	defer ctrl.Finish()

	_, _, err := svc.Login(context.Background(), "", "pw", models.Origin{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(context.Background(), "alice", "", models.Origin{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword_WrongOld(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{
		ID:           uuid.New(),
		Username:     "alice",
		PasswordHash: mustHashPW(t, "Sup3rSecret!"),
		IsActive:     true,
	}

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.False(t, e.Success)
			require.Equal(t, "invalid_old_password", e.Reason)
		}).
		Return(nil)

	_, err := svc.ChangePassword(context.Background(), user.ID, "wrong", "N3wSecret!!")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword_OK_RevokesAllSessions(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{
		ID:           uuid.New(),
		Username:     "alice",
		PasswordHash: mustHashPW(t, "Sup3rSecret!"),
		IsActive:     true,
	}

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().UpdatePasswordHash(gomock.Any(), user.ID, gomock.Any()).
		Do(func(_ context.Context, _ uuid.UUID, hash string) {
			require.True(t, checkPassword(hash, "N3wSecret!!"))
		}).
		Return(nil)
	st.EXPECT().RevokeAllRefreshTokens(gomock.Any(), user.ID, "password_change").Return(int64(3), nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, e *models.AuditEvent) {
			require.True(t, e.Success)
			require.Equal(t, strconv.FormatInt(3, 10), e.Metadata["revoked_sessions"])
		}).
		Return(nil)

	revoked, err := svc.ChangePassword(context.Background(), user.ID, "Sup3rSecret!", "N3wSecret!!")
	require.NoError(t, err)
	require.Equal(t, int64(3), revoked)
}

func TestChangePassword_WeakNew(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{
		ID:           uuid.New(),
		PasswordHash: mustHashPW(t, "Sup3rSecret!"),
		IsActive:     true,
	}

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	_, err := svc.ChangePassword(context.Background(), user.ID, "Sup3rSecret!", "weak")
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestUpdateProfile_EmailChange_ResetsVerification(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{
		ID:                uuid.New(),
		Username:          "alice",
		Email:             "old@example.com",
		IsActive:          true,
		IsVerified:        true,
		VerificationToken: "tok",
	}

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().UpdateUser(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, u *models.User) {
			require.Equal(t, "new@example.com", u.Email)
			require.False(t, u.IsVerified)
			require.Empty(t, u.VerificationToken)
		}).
		Return(nil)
	st.EXPECT().SaveAuditEvent(gomock.Any(), gomock.Any()).Return(nil)

	newEmail := "New@Example.com"
	got, err := svc.UpdateProfile(context.Background(), user.ID, UpdateProfileParams{Email: &newEmail})
	require.NoError(t, err)
	require.Equal(t, "new@example.com", got.Email)
}

func TestDeactivateUser_RevokesSessions(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	user := &models.User{ID: uuid.New(), Username: "alice", IsActive: true}

	st.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)
	st.EXPECT().UpdateUser(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, u *models.User) {
			require.False(t, u.IsActive)
		}).
		Return(nil)
	st.EXPECT().RevokeAllRefreshTokens(gomock.Any(), user.ID, "account_deactivated").Return(int64(2), nil)

	require.NoError(t, svc.DeactivateUser(context.Background(), user.ID))
}

func TestLogin_StorageError_Propagated(t *testing.T) {
	t.Parallel()

	svc, st, ctrl := newSvc(t)
	defer ctrl.Finish()

	st.EXPECT().UserByUsername(gomock.Any(), "alice").Return(nil, errors.New("db down"))

	_, _, err := svc.Login(context.Background(), "alice", "pw", models.Origin{})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
}
