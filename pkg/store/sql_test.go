package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStore_PostgresAppendProposal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, DialectPostgres)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM proposals`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO proposals .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9\)`).
		WithArgs(int64(4), "0xa", "0xb", "hi", "A", "B", "loc", int16(0), now.UnixNano()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO proposal_recipients`).
		WithArgs("0xb", int64(4)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var id uint64
	err = s.Update(ctx, func(tx Tx) error {
		var err error
		id, err = tx.Proposals().Append(ctx, contracts.Proposal{
			Proposer: "0xa", Recipient: "0xb", Message: "hi", SenderLabel: "A", ReceiverLabel: "B",
			ContentLocator: "loc", CreatedAt: now,
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_RollbackWhenCustodianIndexFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, DialectSQLite)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE proposals SET status = \? WHERE id = \?`).
		WithArgs(int16(contracts.StatusAccepted), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM connections`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO connections`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO connection_custodians`).
		WithArgs("0xa", int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO connection_custodians`).
		WithArgs("0xb", int64(1)).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.Update(ctx, func(tx Tx) error {
		if err := tx.Proposals().SetStatus(ctx, 0, contracts.StatusAccepted); err != nil {
			return err
		}
		_, err := tx.Connections().AppendPair(ctx, contracts.Connection{PartyA: "0xa", PartyB: "0xb"})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custodian of token 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetConnectionResolvesPairStart(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, DialectPostgres)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, party_a, party_b, pair_image_locator, metadata_locator, created_at\s+FROM connections WHERE id = \$1`).
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "party_a", "party_b", "pair_image_locator", "metadata_locator", "created_at"}).
			AddRow(int64(6), "0xa", "0xb", "img", "meta", int64(0)))
	mock.ExpectRollback()

	err = s.View(ctx, func(tx Tx) error {
		c, err := tx.Connections().Get(ctx, 7)
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(6), c.ID)
		who, ok := c.CustodianOf(7)
		assert.True(t, ok)
		assert.Equal(t, contracts.Identity("0xb"), who)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	pg := &sqlTx{dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &sqlTx{dialect: DialectSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}
