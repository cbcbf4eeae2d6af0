package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caesium-cloud/pipeline/internal/models"
	"github.com/caesium-cloud/pipeline/internal/testutil"
	"github.com/caesium-cloud/pipeline/internal/worker"
)

func TestClaimerClaimsOnlyOneWinnerAcrossTwoClaimers(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	entry := &models.JobQueueEntry{
		ID:          uuid.New(),
		JobType:     models.JobTypeSystemTask,
		RunID:       uuid.New(),
		PRTaskID:    uuid.New(),
		TaskClass:   "ingest.load",
		ScheduledAt: time.Now().UTC().Add(-time.Second),
	}
	require.NoError(t, gdb.Create(entry).Error)

	a := worker.NewClaimer("node-a", gdb, time.Minute)
	b := worker.NewClaimer("node-b", gdb, time.Minute)

	claimedA, err := a.ClaimNext(context.Background())
	require.NoError(t, err)
	claimedB, err := b.ClaimNext(context.Background())
	require.NoError(t, err)

	// Exactly one of the two claimers should have won the row. The two
	// ClaimNext calls run one after the other, so this is deterministic;
	// it does not exercise a concurrent race between claimers.
	wins := 0
	if claimedA != nil {
		wins++
		assert.Equal(t, "node-a", claimedA.LeaseHolder)
	}
	if claimedB != nil {
		wins++
		assert.Equal(t, "node-b", claimedB.LeaseHolder)
	}
	assert.Equal(t, 1, wins)
}

func TestClaimerSkipsRowsWithAnUnexpiredLease(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	future := time.Now().UTC().Add(time.Hour)
	entry := &models.JobQueueEntry{
		ID:             uuid.New(),
		JobType:        models.JobTypeSystemTask,
		RunID:          uuid.New(),
		PRTaskID:       uuid.New(),
		TaskClass:      "ingest.load",
		ScheduledAt:    time.Now().UTC().Add(-time.Second),
		LeaseHolder:    "other-node",
		LeaseExpiresAt: &future,
	}
	require.NoError(t, gdb.Create(entry).Error)

	c := worker.NewClaimer("node-a", gdb, time.Minute)
	claimed, err := c.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestReclaimExpiredClearsStaleLease(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	past := time.Now().UTC().Add(-time.Hour)
	entry := &models.JobQueueEntry{
		ID:             uuid.New(),
		JobType:        models.JobTypeSystemTask,
		RunID:          uuid.New(),
		PRTaskID:       uuid.New(),
		TaskClass:      "ingest.load",
		ScheduledAt:    time.Now().UTC().Add(-time.Hour),
		LeaseHolder:    "dead-node",
		LeaseExpiresAt: &past,
	}
	require.NoError(t, gdb.Create(entry).Error)

	c := worker.NewClaimer("node-a", gdb, time.Minute)
	require.NoError(t, c.ReclaimExpired(context.Background()))

	claimed, err := c.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "node-a", claimed.LeaseHolder)
}

func TestReapAbandonedFailsTaskWithExpiredLease(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	prTask := &models.PipelineRunTask{
		ID:          uuid.New(),
		RunID:       uuid.New(),
		TaskID:      "ingest.load",
		OrderIndex:  0,
		TaskStatus:  models.TaskStatusRunning,
		TaskRunning: true,
	}
	require.NoError(t, gdb.Create(prTask).Error)

	past := time.Now().UTC().Add(-time.Hour)
	entry := &models.JobQueueEntry{
		ID:             uuid.New(),
		JobType:        models.JobTypeSystemTask,
		RunID:          prTask.RunID,
		PRTaskID:       prTask.ID,
		TaskClass:      "ingest.load",
		ScheduledAt:    time.Now().UTC().Add(-time.Hour),
		LeaseHolder:    "dead-node",
		LeaseExpiresAt: &past,
	}
	require.NoError(t, gdb.Create(entry).Error)

	c := worker.NewClaimer("node-a", gdb, time.Minute)
	require.NoError(t, c.ReapAbandoned(context.Background()))

	var reloaded models.PipelineRunTask
	require.NoError(t, gdb.First(&reloaded, "id = ?", prTask.ID).Error)
	assert.Equal(t, models.TaskStatusFailed, reloaded.TaskStatus)
	assert.False(t, reloaded.TaskRunning)
	assert.Contains(t, reloaded.TaskMessage, "abandoned")

	var jobs []models.JobQueueEntry
	require.NoError(t, gdb.Where("pr_task_id = ?", prTask.ID).Find(&jobs).Error)
	assert.Empty(t, jobs)
}

func TestReapAbandonedLeavesTaskWithLiveLeaseAlone(t *testing.T) {
	gdb := testutil.OpenTestDB(t)
	defer testutil.CloseDB(gdb)

	prTask := &models.PipelineRunTask{
		ID:          uuid.New(),
		RunID:       uuid.New(),
		TaskID:      "ingest.load",
		OrderIndex:  0,
		TaskStatus:  models.TaskStatusRunning,
		TaskRunning: true,
	}
	require.NoError(t, gdb.Create(prTask).Error)

	future := time.Now().UTC().Add(time.Hour)
	entry := &models.JobQueueEntry{
		ID:             uuid.New(),
		JobType:        models.JobTypeSystemTask,
		RunID:          prTask.RunID,
		PRTaskID:       prTask.ID,
		TaskClass:      "ingest.load",
		ScheduledAt:    time.Now().UTC().Add(-time.Minute),
		LeaseHolder:    "live-node",
		LeaseExpiresAt: &future,
	}
	require.NoError(t, gdb.Create(entry).Error)

	c := worker.NewClaimer("node-a", gdb, time.Minute)
	require.NoError(t, c.ReapAbandoned(context.Background()))

	var reloaded models.PipelineRunTask
	require.NoError(t, gdb.First(&reloaded, "id = ?", prTask.ID).Error)
	assert.Equal(t, models.TaskStatusRunning, reloaded.TaskStatus)
	assert.True(t, reloaded.TaskRunning)

	var jobs []models.JobQueueEntry
	require.NoError(t, gdb.Where("pr_task_id = ?", prTask.ID).Find(&jobs).Error)
	assert.Len(t, jobs, 1)
}

type staticClaimer struct {
	entries chan *models.JobQueueEntry
}

func (s *staticClaimer) ClaimNext(ctx context.Context) (*models.JobQueueEntry, error) {
	select {
	case e := <-s.entries:
		return e, nil
	default:
		return nil, nil
	}
}

type reapingClaimer struct {
	staticClaimer
	reaps int32
}

func (r *reapingClaimer) ReapAbandoned(ctx context.Context) error {
	atomic.AddInt32(&r.reaps, 1)
	return nil
}

func TestWorkerRunInvokesAbandonedReaper(t *testing.T) {
	claimer := &reapingClaimer{staticClaimer: staticClaimer{entries: make(chan *models.JobQueueEntry)}}
	w := worker.NewWorker(claimer, worker.NewPool(1), 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, w.Run(ctx))
	assert.True(t, atomic.LoadInt32(&claimer.reaps) >= 1, "Run must invoke ReapAbandoned on a claimer that implements AbandonedReaper")
}

func TestWorkerRunDispatchesClaimedEntriesAndDrainsOnCancel(t *testing.T) {
	entries := make(chan *models.JobQueueEntry, 2)
	entries <- &models.JobQueueEntry{ID: uuid.New()}
	entries <- &models.JobQueueEntry{ID: uuid.New()}

	var executed int32
	executor := func(ctx context.Context, entry *models.JobQueueEntry) {
		atomic.AddInt32(&executed, 1)
	}

	w := worker.NewWorker(&staticClaimer{entries: entries}, worker.NewPool(2), 5*time.Millisecond, executor)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, w.Run(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&executed))
}

func TestPoolSubmitBoundsConcurrency(t *testing.T) {
	p := worker.NewPool(1)
	var running int32
	var maxSeen int32

	for i := 0; i < 3; i++ {
		err := p.Submit(context.Background(), func() {
			n := atomic.AddInt32(&running, 1)
			if n > maxSeen {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
		require.NoError(t, err)
	}

	p.Wait()
	assert.Equal(t, int32(1), maxSeen)
}
