package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amara-dev/wallet-backend/internal/repository"
	"github.com/amara-dev/wallet-backend/internal/testutil"
)

func TestIdempotencyRepository_ClaimIsExclusive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewIdempotencyRepository(db)
	ctx := context.Background()

	user, _ := testutil.SeedUser(t, db, "claim@test.com", "Claim", decimal.Zero)

	claimed, err := repo.Claim(ctx, "key-1", user.ID, "hash-a", time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)

	again, err := repo.Claim(ctx, "key-1", user.ID, "hash-a", time.Hour)
	require.NoError(t, err)
	assert.False(t, again, "second claim on the same key must lose")

	entry, err := repo.Get(ctx, "key-1", user.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Pending())
	assert.Equal(t, "hash-a", entry.RequestHash)
}

func TestIdempotencyRepository_ConcurrentClaimsSingleWinner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewIdempotencyRepository(db)
	ctx := context.Background()

	user, _ := testutil.SeedUser(t, db, "race@test.com", "Race", decimal.Zero)

	const claimants = 5
	wins := make(chan bool, claimants)
	var wg sync.WaitGroup
	for range claimants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Claim(ctx, "key-race", user.ID, "hash-a", time.Hour)
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent claim may win")
}

func TestIdempotencyRepository_CompleteThenGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewIdempotencyRepository(db)
	ctx := context.Background()

	user, _ := testutil.SeedUser(t, db, "complete@test.com", "Complete", decimal.Zero)

	claimed, err := repo.Claim(ctx, "key-1", user.ID, "hash-a", time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	body := []byte(`{"success":true}`)
	require.NoError(t, repo.Complete(ctx, "key-1", user.ID, 201, body))

	entry, err := repo.Get(ctx, "key-1", user.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.False(t, entry.Pending())
	assert.Equal(t, 201, entry.StatusCode)
	assert.Equal(t, body, entry.ResponseBody)
}

func TestIdempotencyRepository_ReleaseAllowsReclaim(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewIdempotencyRepository(db)
	ctx := context.Background()

	user, _ := testutil.SeedUser(t, db, "release@test.com", "Release", decimal.Zero)

	claimed, err := repo.Claim(ctx, "key-1", user.ID, "hash-a", time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.Release(ctx, "key-1", user.ID))

	reclaimed, err := repo.Claim(ctx, "key-1", user.ID, "hash-a", time.Hour)
	require.NoError(t, err)
	assert.True(t, reclaimed)
}

func TestIdempotencyRepository_ExpiredEntriesAreInvisible(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewIdempotencyRepository(db)
	ctx := context.Background()

	user, _ := testutil.SeedUser(t, db, "expired@test.com", "Expired", decimal.Zero)

	claimed, err := repo.Claim(ctx, "key-1", user.ID, "hash-a", -time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	entry, err := repo.Get(ctx, "key-1", user.ID)
	require.NoError(t, err)
	assert.Nil(t, entry)

	removed, err := repo.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
