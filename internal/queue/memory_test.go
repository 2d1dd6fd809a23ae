package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/videoapp/api/internal/model"
)

const testKey = "video_overlay_worker"

// waitFor reads events until one for jobID reaches want.
func waitFor(t *testing.T, events <-chan model.JobStatusEvent, jobID string, want model.JobStatus) model.JobStatusEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("status stream closed before %s reached %s", jobID, want)
			}
			if ev.JobID == jobID && ev.Status == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s to reach %s", jobID, want)
		}
	}
}

type recorder struct {
	mu       sync.Mutex
	payloads []string
}

func (r *recorder) handle(ctx context.Context, payload []byte) model.JobResult {
	r.mu.Lock()
	r.payloads = append(r.payloads, string(payload))
	r.mu.Unlock()
	return model.Succeeded(nil)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func TestMemoryQueue_ReplaceQueuedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryQueue()
	events, err := q.ObserveStatus(ctx, testKey)
	if err != nil {
		t.Fatalf("observe failed: %v", err)
	}

	first, err := q.SubmitUnique(ctx, testKey, PolicyReplace, []byte(`{"ffmpeg_commands":[["cmd_a"]]}`))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	second, err := q.SubmitUnique(ctx, testKey, PolicyReplace, []byte(`{"ffmpeg_commands":[["cmd_a"],["cmd_b"]]}`))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	canceled := waitFor(t, events, first.ID, model.JobStatusCanceled)
	if canceled.Reason != model.FailureReasonSuperseded {
		t.Errorf("expected superseded reason, got %q", canceled.Reason)
	}

	rec := &recorder{}
	go q.Run(ctx, rec.handle)

	waitFor(t, events, second.ID, model.JobStatusSucceeded)

	got := rec.seen()
	if len(got) != 1 {
		t.Fatalf("expected exactly one execution, got %d: %v", len(got), got)
	}
	if got[0] != `{"ffmpeg_commands":[["cmd_a"],["cmd_b"]]}` {
		t.Errorf("expected second batch to run, got %s", got[0])
	}

	latest, err := q.Latest(ctx, testKey)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest.ID != second.ID || latest.Status != model.JobStatusSucceeded {
		t.Errorf("unexpected latest job: %+v", latest)
	}

	old, err := q.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if old.Status != model.JobStatusCanceled || old.CompletedAt == nil {
		t.Errorf("expected first job canceled with completion time, got %+v", old)
	}
}

func TestMemoryQueue_ReplaceRunningJobNeverOverlaps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryQueue()
	events, _ := q.ObserveStatus(ctx, testKey)

	var inFlight, maxInFlight int32
	started := make(chan string, 4)
	handler := func(jobCtx context.Context, payload []byte) model.JobResult {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
				break
			}
		}
		started <- string(payload)
		if string(payload) == `"slow"` {
			<-jobCtx.Done()
			return model.Failed(model.FailureReasonToolExecutionFailed, "killed")
		}
		return model.Succeeded([]string{"/videos/FilteredFile.mp4"})
	}
	go q.Run(ctx, handler)

	first, _ := q.SubmitUnique(ctx, testKey, PolicyReplace, []byte(`"slow"`))
	waitFor(t, events, first.ID, model.JobStatusRunning)
	<-started

	second, _ := q.SubmitUnique(ctx, testKey, PolicyReplace, []byte(`"fast"`))

	ev := waitFor(t, events, first.ID, model.JobStatusCanceled)
	if ev.Reason != model.FailureReasonSuperseded {
		t.Errorf("expected superseded reason, got %q", ev.Reason)
	}
	waitFor(t, events, second.ID, model.JobStatusSucceeded)

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("expected executions never to overlap, max in flight %d", got)
	}

	job, _ := q.Get(ctx, second.ID)
	if job.Result == nil || len(job.Result.Outputs) != 1 {
		t.Errorf("expected result outputs recorded, got %+v", job.Result)
	}
}

func TestMemoryQueue_FailureCarriesReason(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryQueue()
	events, _ := q.ObserveStatus(ctx, testKey)
	go q.Run(ctx, func(context.Context, []byte) model.JobResult {
		return model.Failed(model.FailureReasonCommandsNotFound, model.CommandsNotFoundMessage)
	})

	job, _ := q.SubmitUnique(ctx, testKey, PolicyReplace, []byte(`{}`))
	ev := waitFor(t, events, job.ID, model.JobStatusFailed)

	if ev.Reason != model.FailureReasonCommandsNotFound {
		t.Errorf("expected commands_not_found, got %q", ev.Reason)
	}
	if ev.Message != model.CommandsNotFoundMessage {
		t.Errorf("unexpected message %q", ev.Message)
	}

	stored, _ := q.Latest(ctx, testKey)
	if stored.Error == nil || *stored.Error != model.CommandsNotFoundMessage {
		t.Errorf("expected stored error message, got %v", stored.Error)
	}
}

func TestMemoryQueue_KeepPolicy(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	first, _ := q.SubmitUnique(ctx, testKey, PolicyReplace, []byte(`1`))
	kept, err := q.SubmitUnique(ctx, testKey, PolicyKeep, []byte(`2`))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if kept.ID != first.ID {
		t.Errorf("expected keep policy to return outstanding job %s, got %s", first.ID, kept.ID)
	}
}

func TestMemoryQueue_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	a, _ := q.SubmitUnique(ctx, "a", PolicyReplace, []byte(`1`))
	b, _ := q.SubmitUnique(ctx, "b", PolicyReplace, []byte(`2`))

	gotA, _ := q.Get(ctx, a.ID)
	gotB, _ := q.Get(ctx, b.ID)
	if gotA.Status != model.JobStatusQueued || gotB.Status != model.JobStatusQueued {
		t.Errorf("expected both jobs queued, got %s and %s", gotA.Status, gotB.Status)
	}
}

func TestMemoryQueue_LatestNotFound(t *testing.T) {
	q := NewMemoryQueue()
	if _, err := q.Latest(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryQueue_ObserveClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewMemoryQueue()

	events, _ := q.ObserveStatus(ctx, testKey)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Error("status stream not closed after cancel")
	}
}

func TestMemoryQueue_HandlerSeesJobID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryQueue()
	events, _ := q.ObserveStatus(ctx, testKey)

	seen := make(chan string, 1)
	go q.Run(ctx, func(ctx context.Context, payload []byte) model.JobResult {
		id, _ := JobIDFromContext(ctx)
		seen <- id
		return model.Succeeded(nil)
	})

	job, _ := q.SubmitUnique(ctx, testKey, PolicyReplace, []byte(`{}`))
	waitFor(t, events, job.ID, model.JobStatusSucceeded)

	if id := <-seen; id != job.ID {
		t.Errorf("expected job ID %s in context, got %q", job.ID, id)
	}
}

func TestMemoryQueue_PrunesFinishedJobs(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	q := NewMemoryQueue()
	q.now = func() time.Time { return clock }
	q.retention = time.Minute

	first, err := q.SubmitUnique(ctx, testKey, PolicyReplace, []byte(`{}`))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	second, err := q.SubmitUnique(ctx, testKey, PolicyReplace, []byte(`{}`))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	third, err := q.SubmitUnique(ctx, testKey, PolicyReplace, []byte(`{}`))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if _, err := q.Get(ctx, first.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected expired job pruned, got %v", err)
	}
	// Canceled just now by the third submission.
	if _, err := q.Get(ctx, second.ID); err != nil {
		t.Errorf("expected recent job kept, got %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	q.mu.Lock()
	q.prune(clock)
	q.mu.Unlock()

	latest, err := q.Latest(ctx, testKey)
	if err != nil || latest.ID != third.ID {
		t.Errorf("expected latest %s kept, got %+v (%v)", third.ID, latest, err)
	}
	if _, err := q.Get(ctx, second.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected second job pruned, got %v", err)
	}
}
