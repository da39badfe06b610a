package continuation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
	memorypublisher "github.com/JakeFAU/kb-crawler/internal/publisher/memory"
	queuememory "github.com/JakeFAU/kb-crawler/internal/queue/memory"
)

func TestNoopWarns(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	err := NewNoop(zap.New(core)).ScheduleContinuation(context.Background(), crawler.ContinuationRequest{JobID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "job-1", logs.All()[0].ContextMap()["job_id"])
}

func TestQueueEnqueues(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	sched := NewQueue(q)
	sched.now = func() time.Time { return time.Unix(1700000000, 0) }

	req := crawler.ContinuationRequest{JobID: "job-1", KBID: "kb-1", Owner: "alice"}
	require.NoError(t, sched.ScheduleContinuation(context.Background(), req))

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.QueueItem{JobID: "job-1", KBID: "kb-1", Owner: "alice", Submitted: 1700000000}, item)

	require.Error(t, sched.ScheduleContinuation(context.Background(), crawler.ContinuationRequest{}))
}

func TestPublisherSendsRequest(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	sched := NewPublisher(pub, "", nil)
	require.NoError(t, sched.ScheduleContinuation(context.Background(), crawler.ContinuationRequest{JobID: "job-2", KBID: "kb-9"}))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, DefaultKind, msgs[0].Topic)
	require.JSONEq(t, `{"job_id":"job-2","kb_id":"kb-9","owner":""}`, string(msgs[0].Data))

	pub.FailWith(errors.New("unavailable"))
	err := sched.ScheduleContinuation(context.Background(), crawler.ContinuationRequest{JobID: "job-3"})
	require.ErrorContains(t, err, "publish continuation")
}

func TestNewSelectsMode(t *testing.T) {
	t.Parallel()

	s, err := New("", Deps{})
	require.NoError(t, err)
	require.IsType(t, &Noop{}, s)

	_, err = New(ModeLocal, Deps{})
	require.Error(t, err)
	s, err = New(ModeLocal, Deps{Queue: queuememory.NewQueue(1)})
	require.NoError(t, err)
	require.IsType(t, &Queue{}, s)

	_, err = New(ModePubSub, Deps{})
	require.Error(t, err)
	s, err = New(ModePubSub, Deps{Publisher: memorypublisher.New()})
	require.NoError(t, err)
	require.IsType(t, &Publisher{}, s)

	_, err = New("carrier-pigeon", Deps{})
	require.Error(t, err)
}
