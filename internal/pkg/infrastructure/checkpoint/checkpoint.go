package checkpoint

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/diwise/kg-publisher/pkg/grc20/ops"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusPending   Status = "pending"
)

// Entry is the recorded outcome of a single batch
type Entry struct {
	Index  int
	Status Status
	CID    string
	TxHash string
	Block  uint64
}

const schema string = `
CREATE TABLE IF NOT EXISTS batches (
	fingerprint TEXT NOT NULL,
	batch_index INTEGER NOT NULL,
	status TEXT NOT NULL,
	cid TEXT NOT NULL DEFAULT '',
	tx_hash TEXT NOT NULL DEFAULT '',
	block INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (fingerprint, batch_index)
);`

// Store records batch outcomes for one run, identified by its fingerprint.
// Entries of other fingerprints in the same file are left untouched.
type Store struct {
	db          *sql.DB
	fingerprint string
}

func Open(path, fingerprint string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate checkpoint db: %w", err)
	}

	return &Store{db: db, fingerprint: fingerprint}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Fingerprint() string {
	return s.fingerprint
}

func (s *Store) Lookup(ctx context.Context, index int) (Entry, bool, error) {
	e := Entry{Index: index}

	row := s.db.QueryRowContext(ctx,
		`SELECT status, cid, tx_hash, block FROM batches WHERE fingerprint = ? AND batch_index = ?`,
		s.fingerprint, index,
	)

	var block int64
	err := row.Scan(&e.Status, &e.CID, &e.TxHash, &block)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup batch %d: %w", index, err)
	}

	e.Block = uint64(block)
	return e, true, nil
}

func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (fingerprint, batch_index, status, cid, tx_hash, block) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint, batch_index) DO UPDATE SET
		   status = excluded.status, cid = excluded.cid, tx_hash = excluded.tx_hash,
		   block = excluded.block, updated_at = datetime('now')`,
		s.fingerprint, e.Index, string(e.Status), e.CID, e.TxHash, int64(e.Block),
	)
	if err != nil {
		return fmt.Errorf("record batch %d: %w", e.Index, err)
	}
	return nil
}

// Entries returns every recorded batch of the current fingerprint, ordered by index
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_index, status, cid, tx_hash, block FROM batches WHERE fingerprint = ? ORDER BY batch_index`,
		s.fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var block int64
		if err := rows.Scan(&e.Index, &e.Status, &e.CID, &e.TxHash, &block); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		e.Block = uint64(block)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Fingerprint identifies a run by the target space and the exact contents
// of every batch, in order.
func Fingerprint(spaceID string, batches [][]ops.Op) (string, error) {
	h := sha256.New()
	h.Write([]byte(spaceID))

	for _, b := range batches {
		data, err := json.Marshal(b)
		if err != nil {
			return "", fmt.Errorf("failed to marshal batch: %w", err)
		}
		h.Write([]byte{'\n'})
		h.Write(data)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
