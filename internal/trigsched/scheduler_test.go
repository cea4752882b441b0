package trigsched

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/waterwheel/waterwheel/internal/logger"
	"github.com/waterwheel/waterwheel/internal/metrics"
	"github.com/waterwheel/waterwheel/internal/postoffice"
	"github.com/waterwheel/waterwheel/internal/store"
	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

func contextBG() context.Context { return context.Background() }

// requireStore opens a migrated Store against
// WATERWHEEL_TEST_DATABASE_URL, skipping when unset — the scheduler's
// catchup math is pure, but activateTrigger always goes through a
// real transaction, so these tests need a real Postgres instance the
// same way internal/store's do.
func requireStore(t *testing.T) *store.Store {
	t.Helper()
	url := os.Getenv("WATERWHEEL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WATERWHEEL_TEST_DATABASE_URL not set, skipping trigsched integration test")
	}
	ctx := context.Background()
	st, err := store.Open(ctx, url)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(st.Close)
	return st
}

type aux struct {
	po      *postoffice.PostOffice
	metrics *metrics.Registry
	logger  logger.Logger
}

func requireAux(t *testing.T) aux {
	t.Helper()
	return aux{
		po:      postoffice.New(),
		metrics: metrics.NewRegistry(prometheus.NewRegistry()),
		logger:  logger.Default(),
	}
}

// seedTestTrigger fills in a fresh project/job pair and an ID for
// partial, inserts it, and returns the inserted trigger.
func seedTestTrigger(t *testing.T, st *store.Store, partial *waterwheel.Trigger) *waterwheel.Trigger {
	t.Helper()
	ctx := context.Background()

	projectID := uuid.New()
	require.NoError(t, st.CreateProject(ctx, &waterwheel.Project{ID: projectID, Name: "proj-" + uuid.NewString()}))

	jobID := uuid.New()
	require.NoError(t, st.CreateJob(ctx, &waterwheel.Job{ID: jobID, ProjectID: projectID, Name: "job"}))

	partial.ID = uuid.New()
	partial.JobID = jobID
	if partial.Name == "" {
		partial.Name = "trigger"
	}
	require.NoError(t, st.CreateTrigger(ctx, partial))
	return partial
}
