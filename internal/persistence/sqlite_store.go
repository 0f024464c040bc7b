package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/petrijr/lendflow/pkg/api"
)

// SQLiteStore is a ConversationStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// The full record is kept as a gob payload; a few columns (stage, decision,
// verification, sanction flag, open-document count) are maintained beside
// it so the background workers can scan without decoding every row.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements ConversationStore.
var _ ConversationStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			decision TEXT NOT NULL DEFAULT '',
			verified INTEGER NOT NULL DEFAULT 0,
			sanction_requested INTEGER NOT NULL DEFAULT 0,
			open_documents INTEGER NOT NULL DEFAULT 0,
			superseded INTEGER NOT NULL DEFAULT 0,
			payload BLOB NOT NULL,
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, rec *api.ConversationRecord) error {
	now := time.Now()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, stage, decision, verified, sanction_requested, open_documents, superseded, payload, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.Stage),
		string(rec.Underwriting.Decision),
		boolInt(rec.Verification.Confirmed),
		boolInt(rec.SanctionRequested),
		rec.OpenDocuments(),
		boolInt(rec.Superseded),
		payload,
		rec.Version,
		now.UnixNano(),
		now.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*api.ConversationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM conversations WHERE id = ?`, id)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrConversationNotFound
		}
		return nil, err
	}
	return decodeRecord(payload)
}

func (s *SQLiteStore) Update(ctx context.Context, rec *api.ConversationRecord) error {
	cp := rec.Clone()
	cp.Version = rec.Version + 1
	cp.UpdatedAt = time.Now()

	payload, err := encodeRecord(cp)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET stage = ?, decision = ?, verified = ?, sanction_requested = ?, open_documents = ?, superseded = ?, payload = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ? AND stage != ?`,
		string(cp.Stage),
		string(cp.Underwriting.Decision),
		boolInt(cp.Verification.Confirmed),
		boolInt(cp.SanctionRequested),
		cp.OpenDocuments(),
		boolInt(cp.Superseded),
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

	// Nothing matched: tell the caller whether the record is missing,
	// closed, or just stale.
	row := s.db.QueryRowContext(ctx, `SELECT stage FROM conversations WHERE id = ?`, cp.ID)
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

func (s *SQLiteStore) ListForVerification(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM conversations
		WHERE open_documents > 0 AND superseded = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *SQLiteStore) ListForSanction(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM conversations
		WHERE verified = 1 AND decision = ? AND sanction_requested = 0 AND superseded = 0`,
		string(api.DecisionApproved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
