package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blobworks/mediavault/internal/blob"
	"github.com/blobworks/mediavault/internal/database/testutil"
	"github.com/blobworks/mediavault/internal/identity"
	"github.com/blobworks/mediavault/internal/models"
	"github.com/blobworks/mediavault/internal/storage"
)

func newSweepFixture(t *testing.T) (*blob.Service, func(id string, age time.Duration)) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	disk, err := storage.NewDiskStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	svc, err := blob.NewService(db, disk, blob.Config{})
	require.NoError(t, err)

	backdate := func(id string, age time.Duration) {
		require.NoError(t, db.Model(&models.MediaBlob{}).
			Where("id = ?", id).
			Update("created_at", time.Now().Add(-age)).Error)
	}
	return svc, backdate
}

func TestSweeperPrunesBeyondMaxAge(t *testing.T) {
	svc, backdate := newSweepFixture(t)
	ctx := context.Background()
	caller := identity.Identity{SubjectID: "u", Role: identity.RoleUser}

	old, _, err := svc.Ingest(ctx, blob.IngestInput{Data: []byte("old"), Caller: caller})
	require.NoError(t, err)
	backdate(old.ID, 48*time.Hour)

	fresh, _, err := svc.Ingest(ctx, blob.IngestInput{Data: []byte("fresh"), Caller: caller})
	require.NoError(t, err)

	sweeper, err := NewSweeper(svc, WithMaxAge(24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, sweeper.RunOnce(ctx))

	_, err = svc.Get(ctx, old.ID)
	require.Error(t, err)
	_, err = svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
}

func TestSweeperStartRegistersJob(t *testing.T) {
	svc, _ := newSweepFixture(t)

	sweeper, err := NewSweeper(svc, WithSchedule("@every 1h"))
	require.NoError(t, err)
	require.NoError(t, sweeper.Start())

	done := sweeper.Stop()
	select {
	case <-done.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	svc, _ := newSweepFixture(t)

	sweeper, err := NewSweeper(svc, WithSchedule("not-a-spec"))
	require.NoError(t, err)
	require.Error(t, sweeper.Start())
}
