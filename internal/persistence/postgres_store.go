package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/petrijr/lendflow/pkg/api"
)

// PostgresStore is a ConversationStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib"). The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements ConversationStore.
var _ ConversationStore = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database
// and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) initSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			decision TEXT NOT NULL DEFAULT '',
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			sanction_requested BOOLEAN NOT NULL DEFAULT FALSE,
			open_documents INTEGER NOT NULL DEFAULT 0,
			superseded BOOLEAN NOT NULL DEFAULT FALSE,
			payload BYTEA NOT NULL,
			version BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, rec *api.ConversationRecord) error {
	now := time.Now()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO conversations (id, stage, decision, verified, sanction_requested, open_documents, superseded, payload, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID,
		string(rec.Stage),
		string(rec.Underwriting.Decision),
		rec.Verification.Confirmed,
		rec.SanctionRequested,
		rec.OpenDocuments(),
		rec.Superseded,
		payload,
		rec.Version,
		now.UnixNano(),
		now.UnixNano(),
	)
	return err
}

func (p *PostgresStore) Load(ctx context.Context, id string) (*api.ConversationRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT payload FROM conversations WHERE id = $1`, id)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrConversationNotFound
		}
		return nil, err
	}
	return decodeRecord(payload)
}

func (p *PostgresStore) Update(ctx context.Context, rec *api.ConversationRecord) error {
	cp := rec.Clone()
	cp.Version = rec.Version + 1
	cp.UpdatedAt = time.Now()

	payload, err := encodeRecord(cp)
	if err != nil {
		return err
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE conversations
		SET stage              = $1,
		    decision           = $2,
		    verified           = $3,
		    sanction_requested = $4,
		    open_documents     = $5,
		    superseded         = $6,
		    payload            = $7,
		    version            = $8,
		    updated_at         = $9
		WHERE id = $10 AND version = $11 AND stage != $12`,
		string(cp.Stage),
		string(cp.Underwriting.Decision),
		cp.Verification.Confirmed,
		cp.SanctionRequested,
		cp.OpenDocuments(),
		cp.Superseded,
		payload,
		cp.Version,
		cp.UpdatedAt.UnixNano(),
		cp.ID,
		rec.Version,
		string(api.StageClosure),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	row := p.db.QueryRowContext(ctx, `SELECT stage FROM conversations WHERE id = $1`, cp.ID)
	var stage string
	if err := row.Scan(&stage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.ErrConversationNotFound
		}
		return err
	}
	if api.Stage(stage) == api.StageClosure {
		return api.ErrConversationClosed
	}
	return api.ErrConcurrencyConflict
}

func (p *PostgresStore) ListForVerification(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM conversations
		WHERE open_documents > 0 AND superseded = FALSE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (p *PostgresStore) ListForSanction(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id FROM conversations
		WHERE verified = TRUE AND decision = $1 AND sanction_requested = FALSE AND superseded = FALSE`,
		string(api.DecisionApproved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}
