package reminders_test

import (
	"os"
	"testing"

	"github.com/fitquest/backend/internal/reminders"
	testingpkg "github.com/fitquest/backend/pkg/testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exercises the repo against a real redis, run with REDIS_HOST set
func TestRepo_RealRedisRoundTrip(t *testing.T) {
	if os.Getenv("REDIS_HOST") == "" {
		t.Skip("REDIS_HOST not set, skipping real redis test")
	}

	require.NoError(t, os.Setenv("REDIS_PASS", "<remove>"))
	ctx, rdb := testingpkg.GetRedisClientAndCtx(t)
	defer func() {
		assert.NoError(t, rdb.Close())
	}()

	repo := reminders.NewRepo(rdb)

	added, err := repo.Add(ctx, reminders.Reminder{
		UserID:          990042,
		Type:            reminders.TypeWater,
		IntervalMinutes: 15,
		IsActive:        true,
	})
	require.NoError(t, err)
	require.NotZero(t, added.ID)
	defer func() {
		assert.NoError(t, repo.Delete(ctx, added.ID))
	}()

	got, err := repo.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, added.UserID, got.UserID)
	assert.Equal(t, 15, got.IntervalMinutes)
	assert.True(t, got.IsActive)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	var found bool
	for _, rem := range active {
		if rem.ID == added.ID {
			found = true
			break
		}
	}
	assert.True(t, found)

	got.IsActive = false
	require.NoError(t, repo.Update(ctx, got))

	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	for _, rem := range active {
		assert.NotEqual(t, added.ID, rem.ID)
	}
}
