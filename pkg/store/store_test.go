package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Mindburn-Labs/soulbound/pkg/contracts"
	"github.com/Mindburn-Labs/soulbound/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func backends(t *testing.T) map[string]store.Store {
	t.Helper()
	sqlite, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func proposal(from, to string) contracts.Proposal {
	return contracts.Proposal{
		Proposer:       contracts.Identity(from),
		Recipient:      contracts.Identity(to),
		Message:        "Will you be my SoulBound?",
		SenderLabel:    "Alice",
		ReceiverLabel:  "Bob",
		ContentLocator: "sha256:abc",
		Status:         contracts.StatusPending,
		CreatedAt:      time.Unix(1700000000, 42).UTC(),
	}
}

func TestStore_ProposalsAppendAndIndex(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.Update(ctx, func(tx store.Tx) error {
				for _, p := range []contracts.Proposal{proposal("0xa", "0xb"), proposal("0xc", "0xd"), proposal("0xc", "0xb")} {
					if _, err := tx.Proposals().Append(ctx, p); err != nil {
						return err
					}
				}
				return nil
			})
			require.NoError(t, err)

			err = s.View(ctx, func(tx store.Tx) error {
				n, err := tx.Proposals().Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, uint64(3), n)

				ids, err := tx.Proposals().ByRecipient(ctx, "0xb")
				require.NoError(t, err)
				assert.Equal(t, []uint64{0, 2}, ids)

				ids, err = tx.Proposals().ByRecipient(ctx, "0xnobody")
				require.NoError(t, err)
				assert.Empty(t, ids)

				p, err := tx.Proposals().Get(ctx, 1)
				require.NoError(t, err)
				assert.Equal(t, uint64(1), p.ID)
				assert.Equal(t, contracts.Identity("0xc"), p.Proposer)
				assert.Equal(t, "Will you be my SoulBound?", p.Message)
				assert.True(t, p.CreatedAt.Equal(time.Unix(1700000000, 42)))

				_, err = tx.Proposals().Get(ctx, 3)
				assert.ErrorIs(t, err, contracts.ErrNotFound)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
				_, err := tx.Proposals().Append(ctx, proposal("0xa", "0xb"))
				return err
			}))

			err := s.Update(ctx, func(tx store.Tx) error {
				if err := tx.Proposals().SetStatus(ctx, 0, contracts.StatusAccepted); err != nil {
					return err
				}
				if _, err := tx.Connections().AppendPair(ctx, contracts.Connection{PartyA: "0xa", PartyB: "0xb"}); err != nil {
					return err
				}
				if _, err := tx.Proposals().Append(ctx, proposal("0xa", "0xc")); err != nil {
					return err
				}
				return errBoom
			})
			require.ErrorIs(t, err, errBoom)

			require.NoError(t, s.View(ctx, func(tx store.Tx) error {
				p, err := tx.Proposals().Get(ctx, 0)
				require.NoError(t, err)
				assert.Equal(t, contracts.StatusPending, p.Status)

				n, err := tx.Proposals().Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, uint64(1), n)

				pairs, err := tx.Connections().Pairs(ctx)
				require.NoError(t, err)
				assert.Zero(t, pairs)

				ids, err := tx.Connections().ByCustodian(ctx, "0xa")
				require.NoError(t, err)
				assert.Empty(t, ids)
				return nil
			}))
		})
	}
}

func TestStore_ConnectionPairs(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var first, second uint64
			require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
				var err error
				first, err = tx.Connections().AppendPair(ctx, contracts.Connection{
					PartyA: "0xa", PartyB: "0xb", PairImageLocator: "img", MetadataLocator: "meta",
					CreatedAt: time.Unix(1700000000, 0),
				})
				if err != nil {
					return err
				}
				// Reads inside the same Update see staged writes.
				c, err := tx.Connections().Get(ctx, first+1)
				if err != nil {
					return err
				}
				assert.Equal(t, first, c.ID)
				second, err = tx.Connections().AppendPair(ctx, contracts.Connection{PartyA: "0xb", PartyB: "0xc"})
				return err
			}))
			assert.Equal(t, uint64(0), first)
			assert.Equal(t, uint64(2), second)

			require.NoError(t, s.View(ctx, func(tx store.Tx) error {
				n, err := tx.Connections().Pairs(ctx)
				require.NoError(t, err)
				assert.Equal(t, uint64(2), n)

				for _, id := range []uint64{0, 1} {
					c, err := tx.Connections().Get(ctx, id)
					require.NoError(t, err)
					assert.Equal(t, uint64(0), c.ID)
					assert.Equal(t, "img", c.PairImageLocator)
					assert.Equal(t, "meta", c.MetadataLocator)
				}

				ids, err := tx.Connections().ByCustodian(ctx, "0xb")
				require.NoError(t, err)
				assert.Equal(t, []uint64{1, 2}, ids)

				_, err = tx.Connections().Get(ctx, 4)
				assert.ErrorIs(t, err, contracts.ErrNotFound)
				return nil
			}))
		})
	}
}

func TestStore_ViewRejectsWrites(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.View(ctx, func(tx store.Tx) error {
				_, err := tx.Proposals().Append(ctx, proposal("0xa", "0xb"))
				return err
			})
			assert.ErrorIs(t, err, store.ErrReadOnly)

			err = s.View(ctx, func(tx store.Tx) error {
				_, err := tx.Connections().AppendPair(ctx, contracts.Connection{PartyA: "0xa", PartyB: "0xb"})
				return err
			})
			assert.ErrorIs(t, err, store.ErrReadOnly)
		})
	}
}

func TestStore_SetStatusUnknownID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.Update(ctx, func(tx store.Tx) error {
				return tx.Proposals().SetStatus(ctx, 7, contracts.StatusRejected)
			})
			assert.ErrorIs(t, err, contracts.ErrNotFound)
		})
	}
}

func TestMemoryStore_ConcurrentUpdatesAreSerialized(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, func(tx store.Tx) error {
				_, err := tx.Connections().AppendPair(ctx, contracts.Connection{PartyA: "0xa", PartyB: "0xb"})
				return err
			})
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.View(ctx, func(tx store.Tx) error {
				ids, _ := tx.Connections().ByCustodian(ctx, "0xa")
				n, _ := tx.Connections().Pairs(ctx)
				assert.Len(t, ids, int(n))
				return nil
			})
		}()
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		ids, err := tx.Connections().ByCustodian(ctx, "0xb")
		require.NoError(t, err)
		require.Len(t, ids, writers)
		for i, id := range ids {
			assert.Equal(t, uint64(2*i+1), id)
		}
		return nil
	}))
}
