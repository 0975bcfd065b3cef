package proposal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/clockid"
)

// schema is deliberately portable across Postgres (lib/pq) and SQLite
// (modernc.org/sqlite): no serial/autoincrement types, id is assigned by
// the caller's clockid.Sequence rather than the database.
const schema = `
CREATE TABLE IF NOT EXISTS proposals (
	id                  BIGINT PRIMARY KEY,
	action_json         TEXT NOT NULL,
	requester           TEXT NOT NULL,
	created_at          BIGINT NOT NULL,
	expires_at          BIGINT NOT NULL,
	required_signatures INTEGER NOT NULL,
	signatures_json     TEXT NOT NULL,
	status              TEXT NOT NULL
);
`

// SQLStore persists proposals to a relational database via database/sql.
// It implements ProposalStore alongside Store; a dispatcher configured for
// durability uses this instead of the in-memory Store, at the cost of a
// round trip per mutation.
type SQLStore struct {
	db  *sql.DB
	seq *clockid.Sequence
}

// NewSQLStore wires db for persistence and seq for id assignment. seq should
// not be shared with any in-memory Store also live in the process, or the
// two id spaces will collide.
func NewSQLStore(db *sql.DB, seq *clockid.Sequence) *SQLStore {
	return &SQLStore{db: db, seq: seq}
}

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLStore) Create(ctx context.Context, a action.Action, requester string, required int, now uint64) (*Proposal, error) {
	actionJSON, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("proposal: encoding action: %w", err)
	}
	sigJSON, err := json.Marshal([]Signature{})
	if err != nil {
		return nil, fmt.Errorf("proposal: encoding signatures: %w", err)
	}

	id := s.seq.Next()
	query := `
		INSERT INTO proposals (id, action_json, requester, created_at, expires_at, required_signatures, signatures_json, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.db.ExecContext(ctx, query,
		id, string(actionJSON), requester, now, now+DefaultExpiryNS, required, string(sigJSON), string(StatusPending),
	); err != nil {
		return nil, err
	}
	return &Proposal{
		ID:                 id,
		Action:             a,
		Requester:          requester,
		CreatedAt:          now,
		ExpiresAt:          now + DefaultExpiryNS,
		RequiredSignatures: required,
		Status:             StatusPending,
	}, nil
}

func (s *SQLStore) Get(ctx context.Context, id uint64) (*Proposal, error) {
	query := `SELECT id, action_json, requester, created_at, expires_at, required_signatures, signatures_json, status FROM proposals WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, id)
	return scanProposal(row)
}

// Sign appends signer's approval within a single transaction, re-checking
// status and expiry against the freshest row before committing — the SQL
// analogue of the in-memory Store's mutex section.
func (s *SQLStore) Sign(ctx context.Context, id uint64, signer string, now uint64) (*Proposal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, action_json, requester, created_at, expires_at, required_signatures, signatures_json, status FROM proposals WHERE id = $1`, id)
	p, err := scanProposal(row)
	if err != nil {
		return nil, err
	}

	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: proposal %d is %s", ErrIllegalTransition, id, p.Status)
	}
	if now > p.ExpiresAt {
		if _, err := tx.ExecContext(ctx, `UPDATE proposals SET status = $1 WHERE id = $2`, string(StatusExpired), id); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}
	for _, sig := range p.Signatures {
		if sig.Signer == signer {
			return nil, ErrAlreadySigned
		}
	}

	p.Signatures = append(p.Signatures, Signature{Signer: signer, SignedAt: now})
	if len(p.Signatures) >= p.RequiredSignatures {
		p.Status = StatusApproved
	}

	sigJSON, err := json.Marshal(p.Signatures)
	if err != nil {
		return nil, fmt.Errorf("proposal: encoding signatures: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE proposals SET signatures_json = $1, status = $2 WHERE id = $3`,
		string(sigJSON), string(p.Status), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reject transitions a Pending proposal to Rejected. reason is accepted for
// interface parity with Store; like Store, this package does not persist it
// structurally, since it is recorded in the audit log instead.
func (s *SQLStore) Reject(ctx context.Context, id uint64, reason string) error {
	_ = reason
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = $1 WHERE id = $2 AND status = $3`,
		string(StatusRejected), id, string(StatusPending))
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}

func (s *SQLStore) MarkExecuted(ctx context.Context, id uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = $1 WHERE id = $2 AND status = $3`,
		string(StatusExecuted), id, string(StatusApproved))
	if err != nil {
		return err
	}
	return requireRowsAffected(res)
}

func (s *SQLStore) ListPending(ctx context.Context) ([]*Proposal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action_json, requester, created_at, expires_at, required_signatures, signatures_json, status FROM proposals WHERE status = $1 ORDER BY id`,
		string(StatusPending))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIllegalTransition
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*Proposal, error) {
	var (
		p          Proposal
		actionJSON string
		sigJSON    string
		status     string
	)
	err := row.Scan(&p.ID, &actionJSON, &p.Requester, &p.CreatedAt, &p.ExpiresAt, &p.RequiredSignatures, &sigJSON, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(actionJSON), &p.Action); err != nil {
		return nil, fmt.Errorf("proposal: decoding action: %w", err)
	}
	if err := json.Unmarshal([]byte(sigJSON), &p.Signatures); err != nil {
		return nil, fmt.Errorf("proposal: decoding signatures: %w", err)
	}
	p.Status = Status(status)
	return &p, nil
}
