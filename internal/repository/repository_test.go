package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usergate/internal/database"
	"usergate/internal/models"
	"usergate/internal/ratelimit"
	"usergate/internal/security"
)

func newMockDB(t *testing.T, dialect database.Dialect) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &database.DB{DB: db, Dialect: dialect}, mock
}

func TestInviteMarkUsed(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "won the race", affected: 1, want: true},
		{name: "already used or disabled", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t, database.NewSQLiteDialect())
			mock.ExpectExec(regexp.QuoteMeta(`UPDATE invites SET used = ? WHERE id = ? AND disabled = ? AND (single_use = ? OR used = ?)`)).
				WithArgs(true, int64(7), false, false, false).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := NewInviteRepository(db).MarkUsed(context.Background(), 7)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSignupMarkCompletedIsConditional(t *testing.T) {
	db, mock := newMockDB(t, database.NewSQLiteDialect())
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE signups SET completed = ?, user_id = ? WHERE id = ? AND completed = ?`)).
		WithArgs(true, int64(3), int64(9), false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := NewSignupRepository(db).MarkCompleted(context.Background(), 9, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserNextUID(t *testing.T) {
	tests := []struct {
		name string
		max  any
		want int64
	}{
		{name: "empty table", max: nil, want: 10000},
		{name: "below floor", max: int64(500), want: 10000},
		{name: "above floor", max: int64(10041), want: 10042},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t, database.NewSQLiteDialect())
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT MAX(unix_uid) FROM users`)).
				WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(tt.max))

			got, err := NewUserRepository(db).NextUID(context.Background(), 10000)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserGetByLoginnameNotFound(t *testing.T) {
	db, mock := newMockDB(t, database.NewSQLiteDialect())
	mock.ExpectQuery(`SELECT .* FROM users WHERE loginname = \?`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	u, err := NewUserRepository(db).GetByLoginname(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserCreatePostgresUsesReturning(t *testing.T) {
	db, mock := newMockDB(t, database.NewPostgresDialect())
	mock.ExpectQuery(`INSERT INTO users .*VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)\s+RETURNING id`).
		WithArgs(int64(10000), "alice", "Alice", "alice@example.com", "hash", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))

	u, err := NewUserRepository(db).Create(context.Background(), &models.User{
		UnixUID:      10000,
		Loginname:    "alice",
		Displayname:  "Alice",
		Mail:         "alice@example.com",
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), u.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePasswordTokenClearsOldTokens(t *testing.T) {
	db, mock := newMockDB(t, database.NewSQLiteDialect())
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM password_tokens WHERE created_at < ? OR loginname = ?`)).
		WithArgs(now.Add(-models.TokenTTL), "alice").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO password_tokens (token_hash, loginname, created_at) VALUES (?, ?, ?)`)).
		WithArgs(security.HashToken("tok"), "alice", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewTokenRepository(db).CreatePasswordToken(context.Background(), &models.PasswordToken{
		Token: "tok", Loginname: "alice", CreatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPasswordTokenLooksUpDigest(t *testing.T) {
	db, mock := newMockDB(t, database.NewSQLiteDialect())
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT loginname, created_at FROM password_tokens WHERE token_hash = ?`)).
		WithArgs(security.HashToken("tok")).
		WillReturnRows(sqlmock.NewRows([]string{"loginname", "created_at"}).AddRow("alice", now))

	got, err := NewTokenRepository(db).GetPasswordToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, &models.PasswordToken{Token: "tok", Loginname: "alice", CreatedAt: now}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInviteGetByTokenLooksUpDigest(t *testing.T) {
	db, mock := newMockDB(t, database.NewSQLiteDialect())
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	columns := []string{"id", "token", "created_at", "creator_id", "valid_until", "single_use", "allow_signup", "used", "disabled"}

	mock.ExpectQuery(`SELECT .* FROM invites WHERE token_hash = \?`).
		WithArgs(security.HashToken("secret")).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(4), "secret", now, nil, now, true, true, false, false))
	mock.ExpectQuery(`FROM roles`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	inv, err := NewInviteRepository(db).GetByToken(context.Background(), "secret")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, int64(4), inv.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRatelimitUnexpired(t *testing.T) {
	db, mock := newMockDB(t, database.NewSQLiteDialect())
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT name, event_key, occurred_at, expires\s+FROM ratelimit_events`).
		WithArgs("login", "alice", now).
		WillReturnRows(sqlmock.NewRows([]string{"name", "event_key", "occurred_at", "expires"}).
			AddRow("login", "alice", now.Add(-time.Second), now.Add(59*time.Second)).
			AddRow("login", "alice", now, now.Add(time.Minute)))

	events, err := NewRatelimitRepository(db).Unexpired(context.Background(), "login", "alice", now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ratelimit.Event{Name: "login", Key: "alice", Timestamp: now.Add(-time.Second), Expires: now.Add(59 * time.Second)}, events[0])
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}
