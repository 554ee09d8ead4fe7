package dimension_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/riskbatch/pkg/batch/component/dimension"
	model "github.com/tigerroll/riskbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/riskbatch/pkg/batch/core/tx"
	"github.com/tigerroll/riskbatch/pkg/batch/test"
)

func newCache(t *testing.T) (*dimension.Cache, *test.RiskStore) {
	store := test.NewRiskStore(t)
	return dimension.NewCache(store.Repo, &store.Config.RiskBatch.Batch, nil), store
}

func TestCache_EqualKeysShareOneID(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()

	first, err := cache.ValueName(ctx, "PresentValue")
	require.NoError(t, err)
	again, err := cache.ValueName(ctx, "PresentValue")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	delta, err := cache.ValueName(ctx, "Delta")
	require.NoError(t, err)
	assert.NotEqual(t, first, delta)
}

func TestCache_TwoCachesOverOneStoreAgree(t *testing.T) {
	store := test.NewRiskStore(t)
	cfg := &store.Config.RiskBatch.Batch
	a := dimension.NewCache(store.Repo, cfg, nil)
	b := dimension.NewCache(store.Repo, cfg, nil)
	ctx := context.Background()

	target := test.Trade("T1")
	idA, err := a.ComputationTarget(ctx, target)
	require.NoError(t, err)
	idB, err := b.ComputationTarget(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, idA, idB)

	specA, err := a.ValueSpecification(ctx, test.Spec("PV", target))
	require.NoError(t, err)
	specB, err := b.ValueSpecification(ctx, model.ValueSpecification{
		ValueName:  "Other",
		Properties: model.ValueProperties{"Currency": {"USD"}},
	})
	require.NoError(t, err)
	assert.Equal(t, specA, specB, "specifications are interned by their property set")
}

func TestCache_ComputeNodeInternsHost(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()

	none, err := cache.ComputeNode(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, none)

	n1, err := cache.ComputeNode(ctx, "host-a/0/1")
	require.NoError(t, err)
	n2, err := cache.ComputeNode(ctx, "host-a/0/2")
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)
	assert.Equal(t, 1, cache.Sizes()["compute_host"])
	assert.Equal(t, 2, cache.Sizes()["compute_node"])
}

func TestCache_RolledBackIDsAreNotRemembered(t *testing.T) {
	store := test.NewRiskStore(t)
	cache := dimension.NewCache(store.Repo, &store.Config.RiskBatch.Batch, nil)
	ctx := context.Background()
	boom := errors.New("boom")

	var staged int64
	err := tx.RunInTx(ctx, store.TxManager, func(ctx context.Context) error {
		id, err := cache.ValueName(ctx, "Gamma")
		require.NoError(t, err)
		staged = id
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.NotZero(t, staged)
	assert.Zero(t, cache.Sizes()["value_name"])

	_, found, err := store.Repo.ValueNames().Select(ctx, "Gamma")
	require.NoError(t, err)
	assert.False(t, found, "the insert was rolled back")

	id, err := cache.ValueName(ctx, "Gamma")
	require.NoError(t, err)
	_, found, err = store.Repo.ValueNames().Select(ctx, "Gamma")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotZero(t, id)
	assert.Equal(t, 1, cache.Sizes()["value_name"])
}

func TestCache_CommittedIDsArePublished(t *testing.T) {
	store := test.NewRiskStore(t)
	cache := dimension.NewCache(store.Repo, &store.Config.RiskBatch.Batch, nil)
	ctx := context.Background()

	var id int64
	require.NoError(t, tx.RunInTx(ctx, store.TxManager, func(ctx context.Context) error {
		var err error
		id, err = cache.FunctionUniqueID(ctx, test.DefaultFunction)
		return err
	}))
	assert.Equal(t, 1, cache.Sizes()["function_unique_id"])

	again, err := cache.FunctionUniqueID(ctx, test.DefaultFunction)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestCache_RefreshTargetStoresNameAndProperties(t *testing.T) {
	cache, store := newCache(t)
	ctx := context.Background()

	target := model.ComputationTarget{
		Spec:       test.Trade("T9"),
		Name:       "Swap 5Y",
		Properties: map[string]string{"Desk": "Rates"},
	}
	id, err := cache.ComputationTarget(ctx, target.Spec)
	require.NoError(t, err)
	require.NoError(t, cache.RefreshTarget(ctx, id, target))

	target.Properties = map[string]string{"Desk": "Credit"}
	require.NoError(t, cache.RefreshTarget(ctx, id, target))

	_, found, err := store.Repo.ComputationTargets().Select(ctx, target.Spec)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCache_ConcurrentResolveSharesOneID(t *testing.T) {
	store := test.NewRiskStore(t)
	cfg := &store.Config.RiskBatch.Batch
	caches := []*dimension.Cache{
		dimension.NewCache(store.Repo, cfg, nil),
		dimension.NewCache(store.Repo, cfg, nil),
	}
	ctx := context.Background()

	const resolves = 32
	ids := make([]int64, resolves)
	var g errgroup.Group
	for i := 0; i < resolves; i++ {
		g.Go(func() error {
			id, err := caches[i%len(caches)].ValueName(ctx, "PresentValue")
			ids[i] = id
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.NotZero(t, ids[0])

	var rows int64
	require.NoError(t, store.Conn.QueryRaw(ctx, &rows, "SELECT COUNT(*) FROM rsk_value_name WHERE name = ?", "PresentValue"))
	assert.Equal(t, int64(1), rows)
}
