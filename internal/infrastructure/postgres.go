package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"talk2chat/internal/logging"
)

// EmbeddingDimensions matches text-embedding-3-small.
const EmbeddingDimensions = 1536

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}
	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

var migrations = []struct {
	name string
	sql  string
}{
	{"tenants table", `
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			plan TEXT NOT NULL DEFAULT 'free',
			status TEXT NOT NULL DEFAULT 'active',
			ai_credits INT NOT NULL DEFAULT -1,
			ai_usage_limit INT NOT NULL DEFAULT 0,
			company_email TEXT,
			deleted_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	{"profiles table", `
		CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			tenant_id TEXT REFERENCES tenants(id),
			role TEXT NOT NULL DEFAULT 'agent',
			display_name TEXT NOT NULL DEFAULT ''
		);`},
	{"global_widget_config table", `
		CREATE TABLE IF NOT EXISTS global_widget_config (
			id TEXT PRIMARY KEY,
			tenant_id TEXT UNIQUE REFERENCES tenants(id),
			integrations JSONB NOT NULL DEFAULT '{}',
			ai JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	// NULLs are distinct in the UNIQUE above; this keeps a single global record.
	{"global config index", `
		CREATE UNIQUE INDEX IF NOT EXISTS global_widget_config_single_global
			ON global_widget_config ((tenant_id IS NULL)) WHERE tenant_id IS NULL;`},
	{"global_chat_sessions table", `
		CREATE TABLE IF NOT EXISTS global_chat_sessions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT REFERENCES tenants(id),
			external_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			visitor_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			assigned_to TEXT,
			tags TEXT[] NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}',
			ai_summary TEXT,
			ai_sentiment TEXT,
			ai_resolution_category TEXT,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	{"open session index", `
		CREATE UNIQUE INDEX IF NOT EXISTS global_chat_sessions_one_open
			ON global_chat_sessions (COALESCE(tenant_id, ''), external_id, channel)
			WHERE status NOT IN ('resolved', 'closed') AND NOT deleted;`},
	{"global_chat_messages table", `
		CREATE TABLE IF NOT EXISTS global_chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES global_chat_sessions(id),
			content TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			delivery_status TEXT NOT NULL DEFAULT '',
			delivery_attempts INT NOT NULL DEFAULT 0,
			delivery_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	// Sessions are soft-deleted; removing a session row must not take its
	// history with it. Older schemas created the key with a cascade.
	{"message session key", `
		DO $$
		BEGIN
			IF EXISTS (
				SELECT 1 FROM pg_constraint
				WHERE conname = 'global_chat_messages_session_id_fkey' AND confdeltype = 'c'
			) THEN
				ALTER TABLE global_chat_messages
					DROP CONSTRAINT global_chat_messages_session_id_fkey,
					ADD CONSTRAINT global_chat_messages_session_id_fkey
						FOREIGN KEY (session_id) REFERENCES global_chat_sessions(id);
			END IF;
		END $$;`},
	{"message history index", `
		CREATE INDEX IF NOT EXISTS global_chat_messages_session_created
			ON global_chat_messages (session_id, created_at);`},
	{"ai_usage table", `
		CREATE TABLE IF NOT EXISTS ai_usage (
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			date DATE NOT NULL,
			ai_replies INT NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, date)
		);`},
}

// knowledgeMigrations need the pgvector extension. A database without it
// still serves routing; only the postgres knowledge base is unavailable.
var knowledgeMigrations = []string{
	`CREATE EXTENSION IF NOT EXISTS vector;`,
	fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS knowledge_base_chunks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT REFERENCES tenants(id),
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`, EmbeddingDimensions),
	`CREATE INDEX IF NOT EXISTS knowledge_base_chunks_tenant ON knowledge_base_chunks (tenant_id);`,
}

func (p *PostgresClient) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := p.Pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("create %s: %w", m.name, err)
		}
	}
	for _, stmt := range knowledgeMigrations {
		if _, err := p.Pool.Exec(ctx, stmt); err != nil {
			logging.Warn().Err(err).Msg("pgvector unavailable, postgres knowledge base disabled")
			break
		}
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
