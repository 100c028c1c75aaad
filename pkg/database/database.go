package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/illegalcall/emoji-maker/internal/config"
)

type Clients struct {
	DB    *sqlx.DB
	Redis *redis.Client
}

func NewClients(dbCfg config.DatabaseConfig, redisCfg config.RedisConfig) (*Clients, error) {
	// Connect to PostgreSQL
	db, err := sqlx.Connect("postgres", dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Clients{
		DB:    db,
		Redis: redisClient,
	}, nil
}

// Close releases both connections.
func (c *Clients) Close() error {
	dbErr := c.DB.Close()
	if err := c.Redis.Close(); err != nil {
		return fmt.Errorf("failed to close Redis: %w", err)
	}
	return dbErr
}

// Ping checks both stores, reporting them separately for the health endpoint.
func (c *Clients) Ping(ctx context.Context) (dbErr, redisErr error) {
	return c.DB.PingContext(ctx), c.Redis.Ping(ctx).Err()
}

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id TEXT PRIMARY KEY,
	credits INTEGER NOT NULL DEFAULT 3 CHECK (credits >= 0),
	tier TEXT NOT NULL DEFAULT 'free',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS emojis (
	id BIGSERIAL PRIMARY KEY,
	image_url TEXT NOT NULL,
	prompt TEXT NOT NULL,
	creator_user_id TEXT NOT NULL REFERENCES profiles (user_id),
	likes_count INTEGER NOT NULL DEFAULT 0 CHECK (likes_count >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS emojis_created_at_idx ON emojis (created_at DESC);

CREATE TABLE IF NOT EXISTS emoji_likes (
	emoji_id BIGINT NOT NULL REFERENCES emojis (id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (emoji_id, user_id)
);`

// CreateSchema creates the profiles, emojis and emoji_likes tables if they
// are missing.
func (c *Clients) CreateSchema() error {
	if _, err := c.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	slog.Info("✅ Emoji tables are ready!")
	return nil
}
