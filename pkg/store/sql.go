package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
)

// Dialect selects placeholder syntax and transaction options.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	// writeMu serializes Updates issued by this process; Postgres
	// serializable isolation covers writers in other processes.
	writeMu sync.Mutex
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

const schema = `
CREATE TABLE IF NOT EXISTS proposals (
	id BIGINT PRIMARY KEY,
	proposer TEXT NOT NULL,
	recipient TEXT NOT NULL,
	message TEXT NOT NULL,
	sender_label TEXT NOT NULL,
	receiver_label TEXT NOT NULL,
	content_locator TEXT NOT NULL,
	status SMALLINT NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS proposal_recipients (
	recipient TEXT NOT NULL,
	proposal_id BIGINT NOT NULL,
	PRIMARY KEY (recipient, proposal_id)
);
CREATE TABLE IF NOT EXISTS connections (
	id BIGINT PRIMARY KEY,
	party_a TEXT NOT NULL,
	party_b TEXT NOT NULL,
	pair_image_locator TEXT NOT NULL,
	metadata_locator TEXT NOT NULL,
	created_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS connection_custodians (
	custodian TEXT NOT NULL,
	token_id BIGINT NOT NULL,
	PRIMARY KEY (custodian, token_id)
);
`

// Init creates the tables if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) View(ctx context.Context, fn func(tx Tx) error) error {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqlTx{tx: tx, dialect: s.dialect, readOnly: true})
}

func (s *SQLStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}

	if err := fn(&sqlTx{tx: tx, dialect: s.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

type sqlTx struct {
	tx       *sql.Tx
	dialect  Dialect
	readOnly bool
}

func (t *sqlTx) Proposals() ProposalTable     { return sqlProposals{t} }
func (t *sqlTx) Connections() ConnectionTable { return sqlConnections{t} }

// rebind rewrites ? placeholders to $n for Postgres.
func (t *sqlTx) rebind(query string) string {
	if t.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if t.readOnly {
		return nil, ErrReadOnly
	}
	return t.tx.ExecContext(ctx, t.rebind(query), args...)
}

func (t *sqlTx) count(ctx context.Context, query string) (uint64, error) {
	var n int64
	if err := t.tx.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (t *sqlTx) ids(ctx context.Context, query string, arg any) ([]uint64, error) {
	rows, err := t.tx.QueryContext(ctx, t.rebind(query), arg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]uint64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, uint64(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type sqlProposals struct{ t *sqlTx }

func (p sqlProposals) Count(ctx context.Context) (uint64, error) {
	n, err := p.t.count(ctx, `SELECT COUNT(*) FROM proposals`)
	if err != nil {
		return 0, fmt.Errorf("count proposals: %w", err)
	}
	return n, nil
}

func (p sqlProposals) Get(ctx context.Context, id uint64) (contracts.Proposal, error) {
	query := `SELECT id, proposer, recipient, message, sender_label, receiver_label, content_locator, status, created_at
		FROM proposals WHERE id = ?`
	var (
		out       contracts.Proposal
		rowID     int64
		status    int16
		createdAt int64
	)
	err := p.t.tx.QueryRowContext(ctx, p.t.rebind(query), int64(id)).Scan(
		&rowID, &out.Proposer, &out.Recipient, &out.Message, &out.SenderLabel,
		&out.ReceiverLabel, &out.ContentLocator, &status, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Proposal{}, contracts.ErrNotFound
		}
		return contracts.Proposal{}, fmt.Errorf("get proposal %d: %w", id, err)
	}
	out.ID = uint64(rowID)
	out.Status = contracts.ProposalStatus(status)
	out.CreatedAt = fromNanos(createdAt)
	return out, nil
}

func (p sqlProposals) Append(ctx context.Context, prop contracts.Proposal) (uint64, error) {
	if p.t.readOnly {
		return 0, ErrReadOnly
	}
	id, err := p.Count(ctx)
	if err != nil {
		return 0, err
	}
	_, err = p.t.exec(ctx, `INSERT INTO proposals
		(id, proposer, recipient, message, sender_label, receiver_label, content_locator, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(id), string(prop.Proposer), string(prop.Recipient), prop.Message, prop.SenderLabel,
		prop.ReceiverLabel, prop.ContentLocator, int16(prop.Status), prop.CreatedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert proposal: %w", err)
	}
	_, err = p.t.exec(ctx, `INSERT INTO proposal_recipients (recipient, proposal_id) VALUES (?, ?)`,
		string(prop.Recipient), int64(id))
	if err != nil {
		return 0, fmt.Errorf("index proposal recipient: %w", err)
	}
	return id, nil
}

func (p sqlProposals) SetStatus(ctx context.Context, id uint64, status contracts.ProposalStatus) error {
	res, err := p.t.exec(ctx, `UPDATE proposals SET status = ? WHERE id = ?`, int16(status), int64(id))
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set status of proposal %d: %w", id, contracts.ErrNotFound)
	}
	return nil
}

func (p sqlProposals) ByRecipient(ctx context.Context, recipient contracts.Identity) ([]uint64, error) {
	ids, err := p.t.ids(ctx,
		`SELECT proposal_id FROM proposal_recipients WHERE recipient = ? ORDER BY proposal_id`, string(recipient))
	if err != nil {
		return nil, fmt.Errorf("list recipient proposals: %w", err)
	}
	return ids, nil
}

type sqlConnections struct{ t *sqlTx }

func (c sqlConnections) Pairs(ctx context.Context) (uint64, error) {
	n, err := c.t.count(ctx, `SELECT COUNT(*) FROM connections`)
	if err != nil {
		return 0, fmt.Errorf("count connections: %w", err)
	}
	return n, nil
}

func (c sqlConnections) AppendPair(ctx context.Context, conn contracts.Connection) (uint64, error) {
	if c.t.readOnly {
		return 0, ErrReadOnly
	}
	n, err := c.Pairs(ctx)
	if err != nil {
		return 0, err
	}
	first := n * 2
	_, err = c.t.exec(ctx, `INSERT INTO connections
		(id, party_a, party_b, pair_image_locator, metadata_locator, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int64(first), string(conn.PartyA), string(conn.PartyB), conn.PairImageLocator,
		conn.MetadataLocator, conn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert connection: %w", err)
	}
	custody := []struct {
		who contracts.Identity
		id  uint64
	}{{conn.PartyA, first}, {conn.PartyB, first + 1}}
	for _, h := range custody {
		_, err = c.t.exec(ctx, `INSERT INTO connection_custodians (custodian, token_id) VALUES (?, ?)`,
			string(h.who), int64(h.id))
		if err != nil {
			return 0, fmt.Errorf("index custodian of token %d: %w", h.id, err)
		}
	}
	return first, nil
}

func (c sqlConnections) Get(ctx context.Context, tokenID uint64) (contracts.Connection, error) {
	query := `SELECT id, party_a, party_b, pair_image_locator, metadata_locator, created_at
		FROM connections WHERE id = ?`
	var (
		out       contracts.Connection
		rowID     int64
		createdAt int64
	)
	err := c.t.tx.QueryRowContext(ctx, c.t.rebind(query), int64(contracts.PairStart(tokenID))).Scan(
		&rowID, &out.PartyA, &out.PartyB, &out.PairImageLocator, &out.MetadataLocator, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Connection{}, contracts.ErrNotFound
		}
		return contracts.Connection{}, fmt.Errorf("get connection %d: %w", tokenID, err)
	}
	out.ID = uint64(rowID)
	out.CreatedAt = fromNanos(createdAt)
	return out, nil
}

func (c sqlConnections) ByCustodian(ctx context.Context, who contracts.Identity) ([]uint64, error) {
	ids, err := c.t.ids(ctx,
		`SELECT token_id FROM connection_custodians WHERE custodian = ? ORDER BY token_id`, string(who))
	if err != nil {
		return nil, fmt.Errorf("list custodian tokens: %w", err)
	}
	return ids, nil
}
