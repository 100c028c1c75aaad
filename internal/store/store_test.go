package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var emojiColumns = []string{"id", "image_url", "prompt", "creator_user_id", "likes_count", "created_at"}

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return New(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func TestEnsureProfile(t *testing.T) {
	store, mock := setupStore(t)
	created := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO profiles (user_id, credits, tier)")).
		WithArgs("user_1", 3, "free").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, credits, tier, created_at FROM profiles")).
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "credits", "tier", "created_at"}).
			AddRow("user_1", 3, "free", created))

	profile, err := store.EnsureProfile(context.Background(), "user_1", 3, "free")
	require.NoError(t, err)
	assert.Equal(t, "user_1", profile.UserID)
	assert.Equal(t, 3, profile.Credits)
	assert.Equal(t, "free", profile.Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureProfileExisting(t *testing.T) {
	store, mock := setupStore(t)

	// The conflicting insert affects no rows and the stored balance wins.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO profiles")).
		WithArgs("user_1", 3, "free").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, credits, tier, created_at FROM profiles")).
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "credits", "tier", "created_at"}).
			AddRow("user_1", 1, "free", time.Now()))

	profile, err := store.EnsureProfile(context.Background(), "user_1", 3, "free")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.Credits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfileNotFound(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, credits, tier, created_at FROM profiles")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "credits", "tier", "created_at"}))

	_, err := store.GetProfile(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateGeneratedEmoji(t *testing.T) {
	store, mock := setupStore(t)
	created := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles SET credits = credits - 1")).
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO emojis (image_url, prompt, creator_user_id)")).
		WithArgs("https://cdn.test/emoji.png", "a smiling cat", "user_1").
		WillReturnRows(sqlmock.NewRows(emojiColumns).
			AddRow(7, "https://cdn.test/emoji.png", "a smiling cat", "user_1", 0, created))
	mock.ExpectCommit()

	emoji, remaining, err := store.CreateGeneratedEmoji(context.Background(), "user_1", "a smiling cat", "https://cdn.test/emoji.png")
	require.NoError(t, err)
	assert.Equal(t, int64(7), emoji.ID)
	assert.Equal(t, "user_1", emoji.CreatorUserID)
	assert.Equal(t, 2, remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGeneratedEmojiWithoutCredits(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles SET credits = credits - 1")).
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}))
	mock.ExpectRollback()

	_, _, err := store.CreateGeneratedEmoji(context.Background(), "user_1", "a smiling cat", "https://cdn.test/emoji.png")
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateGeneratedEmojiInsertFailure(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles SET credits = credits - 1")).
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO emojis")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, _, err := store.CreateGeneratedEmoji(context.Background(), "user_1", "a smiling cat", "https://cdn.test/emoji.png")
	assert.ErrorContains(t, err, "failed to insert emoji")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEmojis(t *testing.T) {
	store, mock := setupStore(t)
	newer := time.Now()
	older := newer.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT e.id, e.image_url")).
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows(append(emojiColumns, "liked")).
			AddRow(2, "https://cdn.test/2.png", "dog", "user_2", 1, newer, true).
			AddRow(1, "https://cdn.test/1.png", "cat", "user_1", 0, older, false))

	emojis, err := store.ListEmojis(context.Background(), "user_1")
	require.NoError(t, err)
	require.Len(t, emojis, 2)
	assert.Equal(t, int64(2), emojis[0].ID)
	assert.True(t, emojis[0].Liked)
	assert.False(t, emojis[1].Liked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEmojisEmpty(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT e.id")).
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows(append(emojiColumns, "liked")))

	emojis, err := store.ListEmojis(context.Background(), "user_1")
	require.NoError(t, err)
	assert.NotNil(t, emojis, "empty gallery encodes as [] rather than null")
	assert.Empty(t, emojis)
}

func TestLikeEmoji(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(mock sqlmock.Sqlmock)
		wantLikes int
		wantErr   error
	}{
		{
			name: "first like increments",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM emojis WHERE id = $1 FOR UPDATE")).
					WithArgs(int64(5)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO emoji_likes (emoji_id, user_id)")).
					WithArgs(int64(5), "user_1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(regexp.QuoteMeta("UPDATE emojis SET likes_count = likes_count + 1")).
					WithArgs(int64(5)).
					WillReturnRows(sqlmock.NewRows([]string{"likes_count"}).AddRow(4))
				mock.ExpectCommit()
			},
			wantLikes: 4,
		},
		{
			name: "second like is rejected",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM emojis")).
					WithArgs(int64(5)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO emoji_likes")).
					WithArgs(int64(5), "user_1").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantErr: ErrAlreadyLiked,
		},
		{
			name: "unknown emoji",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM emojis")).
					WithArgs(int64(5)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
				mock.ExpectRollback()
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupStore(t)
			tt.setup(mock)

			likes, err := store.LikeEmoji(context.Background(), 5, "user_1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantLikes, likes)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUnlikeEmoji(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(mock sqlmock.Sqlmock)
		wantLikes int
		wantErr   error
	}{
		{
			name: "liked emoji decrements",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM emojis")).
					WithArgs(int64(5)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
				mock.ExpectExec(regexp.QuoteMeta("DELETE FROM emoji_likes WHERE emoji_id = $1 AND user_id = $2")).
					WithArgs(int64(5), "user_1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(regexp.QuoteMeta("UPDATE emojis SET likes_count = GREATEST(likes_count - 1, 0)")).
					WithArgs(int64(5)).
					WillReturnRows(sqlmock.NewRows([]string{"likes_count"}).AddRow(0))
				mock.ExpectCommit()
			},
			wantLikes: 0,
		},
		{
			name: "never liked is rejected",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM emojis")).
					WithArgs(int64(5)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
				mock.ExpectExec(regexp.QuoteMeta("DELETE FROM emoji_likes")).
					WithArgs(int64(5), "user_1").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantErr: ErrNotLiked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupStore(t)
			tt.setup(mock)

			likes, err := store.UnlikeEmoji(context.Background(), 5, "user_1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantLikes, likes)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReconcileLikes(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE emojis SET likes_count = (SELECT COUNT(*) FROM emoji_likes")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"likes_count"}).AddRow(3))

	likes, err := store.ReconcileLikes(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 3, likes)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE emojis SET likes_count")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"likes_count"}))

	_, err = store.ReconcileLikes(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteEmoji(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM emojis WHERE id = $1 AND creator_user_id = $2")).
		WithArgs(int64(3), "user_1").
		WillReturnRows(sqlmock.NewRows([]string{"image_url"}).AddRow("https://cdn.test/emojis/emoji_1.png"))

	imageURL, err := store.DeleteEmoji(context.Background(), 3, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/emojis/emoji_1.png", imageURL)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM emojis")).
		WithArgs(int64(3), "intruder").
		WillReturnRows(sqlmock.NewRows([]string{"image_url"}))

	_, err = store.DeleteEmoji(context.Background(), 3, "intruder")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
