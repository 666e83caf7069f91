package enrichment

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_RecordMajorOrder(t *testing.T) {
	f := newFakeFetcher()
	p := newTestPipeline(f, stage("a"), stage("b"), stage("c"))

	_, err := p.Run(context.Background(), records("1", "2"), nil)
	require.NoError(t, err)

	assert.Equal(t, []fakeCall{
		{Path: "/api/a", Text: "text-1"},
		{Path: "/api/b", Text: "text-1"},
		{Path: "/api/c", Text: "text-1"},
		{Path: "/api/a", Text: "text-2"},
		{Path: "/api/b", Text: "text-2"},
		{Path: "/api/c", Text: "text-2"},
	}, f.Calls())
	assert.False(t, f.overlap, "calls must never overlap")
}

func TestPipeline_EndToEndScenario(t *testing.T) {
	f := newFakeFetcher().
		on("/api/summary", "text-A", ok(`{"summary":"ok"}`)).
		on("/api/summary", "text-B", status(429, `{"detail":"API_QUOTA_EXCEEDED"}`))
	p := newTestPipeline(f, stage("summary"))
	rec := &Recorder{}

	final, err := p.Run(context.Background(), records("A", "B"), rec)
	require.NoError(t, err)

	assert.Len(t, f.Calls(), 2)
	require.True(t, final.Final())

	a, _ := final.Records[0].Outcome("summary")
	assert.Equal(t, Succeeded(map[string]any{"summary": "ok"}, 1), a)

	b, _ := final.Records[1].Outcome("summary")
	assert.Equal(t, StatusFailed, b.Status)
	assert.Equal(t, KindQuotaExceeded, b.Kind)
	assert.Equal(t, QuotaMessage, b.Message)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, final, last)
}

func TestPipeline_SnapshotSequence(t *testing.T) {
	f := newFakeFetcher()
	p := newTestPipeline(f, stage("a"), stage("b"))
	rec := &Recorder{}

	_, err := p.Run(context.Background(), records("1", "2"), rec)
	require.NoError(t, err)

	snaps := rec.Snapshots()
	// initial + 2 per pair + 1 per record
	require.Len(t, snaps, 1+2*4+2)

	for i, s := range snaps {
		assert.Equal(t, i+1, s.Seq)
	}

	first := snaps[0]
	assert.Equal(t, 4, first.Counts()[StatusPending])
	for _, r := range first.Records {
		assert.Len(t, r.Stages, 2)
		assert.Equal(t, "a", r.Stages[0].Name)
		assert.Equal(t, "b", r.Stages[1].Name)
	}

	assert.Equal(t, StatusInProgress, snaps[1].Records[0].Stages[0].Outcome.Status)
	assert.Equal(t, StatusSucceeded, snaps[2].Records[0].Stages[0].Outcome.Status)
	assert.True(t, snaps[len(snaps)-1].Final())
}

func TestPipeline_PairStatusIsMonotonic(t *testing.T) {
	f := newFakeFetcher().
		on("/api/a", "text-1", status(429, "x"), ok(`{}`)).
		on("/api/b", "text-2", status(500, "boom"))
	p := newTestPipeline(f, stage("a"), stage("b"))
	rec := &Recorder{}

	_, err := p.Run(context.Background(), records("1", "2", "3"), rec)
	require.NoError(t, err)

	rank := map[Status]int{StatusPending: 0, StatusInProgress: 1, StatusSucceeded: 2, StatusFailed: 2}
	snaps := rec.Snapshots()
	for i := 1; i < len(snaps); i++ {
		for r := range snaps[i].Records {
			for s := range snaps[i].Records[r].Stages {
				prev := snaps[i-1].Records[r].Stages[s].Outcome
				cur := snaps[i].Records[r].Stages[s].Outcome
				assert.GreaterOrEqual(t, rank[cur.Status], rank[prev.Status], "snapshot %d record %d stage %d", i, r, s)
				if prev.Status.Terminal() {
					assert.Equal(t, prev, cur, "terminal outcome changed")
				}
			}
		}
	}
}

func TestPipeline_FailureDoesNotStopRun(t *testing.T) {
	f := newFakeFetcher().on("/api/a", "text-1", status(500, "boom"))
	p := newTestPipeline(f, stage("a"), stage("b"))

	final, err := p.Run(context.Background(), records("1", "2"), nil)
	require.NoError(t, err)

	assert.Len(t, f.Calls(), 4)
	counts := final.Counts()
	assert.Equal(t, 1, counts[StatusFailed])
	assert.Equal(t, 3, counts[StatusSucceeded])
}

func TestPipeline_EmptyInputs(t *testing.T) {
	t.Run("no_records", func(t *testing.T) {
		f := newFakeFetcher()
		rec := &Recorder{}
		final, err := newTestPipeline(f, stage("a")).Run(context.Background(), nil, rec)
		require.NoError(t, err)
		assert.Empty(t, final.Records)
		assert.Len(t, rec.Snapshots(), 1)
		assert.Empty(t, f.Calls())
	})

	t.Run("no_stages", func(t *testing.T) {
		f := newFakeFetcher()
		rec := &Recorder{}
		final, err := newTestPipeline(f).Run(context.Background(), records("1", "2"), rec)
		require.NoError(t, err)
		assert.True(t, final.Final())
		assert.Len(t, final.Records, 2)
		assert.Empty(t, f.Calls())
	})
}

func TestPipeline_ObserverCannotMutateState(t *testing.T) {
	f := newFakeFetcher()
	p := newTestPipeline(f, stage("a"), stage("b"))

	final, err := p.Run(context.Background(), records("1"), ObserverFunc(func(s Snapshot) {
		for i := range s.Records {
			s.Records[i].Record.ID = "tampered"
			for j := range s.Records[i].Stages {
				s.Records[i].Stages[j].Outcome = Failed(KindOtherFailure, "tampered", 9)
			}
		}
	}))
	require.NoError(t, err)

	assert.Equal(t, "1", final.Records[0].Record.ID)
	assert.Equal(t, 2, final.Counts()[StatusSucceeded])
}

func TestPipeline_EnrichFetchFailure(t *testing.T) {
	f := newFakeFetcher()
	p := newTestPipeline(f, stage("a"))
	rec := &Recorder{}

	src := sourceFunc(func(context.Context) ([]Record, error) {
		return nil, &FetchError{StatusCode: 503, Err: errors.New("unavailable")}
	})
	_, err := p.Enrich(context.Background(), src, rec)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 503, fe.StatusCode)
	assert.Equal(t, "fetch records: HTTP error! status: 503", err.Error())
	assert.Empty(t, f.Calls())
	assert.Empty(t, rec.Snapshots())
}

func TestPipeline_EnrichWrapsPlainErrors(t *testing.T) {
	p := newTestPipeline(newFakeFetcher(), stage("a"))
	src := sourceFunc(func(context.Context) ([]Record, error) {
		return nil, errors.New("dial tcp: refused")
	})

	_, err := p.Enrich(context.Background(), src, nil)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.StatusCode)
	assert.Contains(t, err.Error(), "dial tcp: refused")
}

func TestPipeline_EnrichStaticSource(t *testing.T) {
	f := newFakeFetcher()
	p := newTestPipeline(f, stage("a"))

	final, err := p.Enrich(context.Background(), StaticSource(records("1", "2")), nil)
	require.NoError(t, err)
	assert.True(t, final.Final())
	assert.Len(t, f.Calls(), 2)
}

func TestPipeline_CancelLeavesRemainingPending(t *testing.T) {
	f := newFakeFetcher()
	p := newTestPipeline(f, stage("a"), stage("b"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onCall = func(c fakeCall) {
		if c.Path == "/api/a" && c.Text == "text-2" {
			cancel()
		}
	}

	final, err := p.Run(ctx, records("1", "2", "3"), nil)
	require.ErrorIs(t, err, context.Canceled)

	assert.True(t, final.Records[0].Settled())
	a2, _ := final.Records[1].Outcome("a")
	assert.True(t, a2.Status.Terminal())
	b2, _ := final.Records[1].Outcome("b")
	assert.Equal(t, StatusPending, b2.Status)
	for _, st := range final.Records[2].Stages {
		assert.Equal(t, StatusPending, st.Outcome.Status)
	}
	assert.Len(t, f.Calls(), 3)
}

func TestPipeline_CancelDuringDelay(t *testing.T) {
	f := newFakeFetcher()
	policy := NewRetryPolicy(NewInvoker(f, "http://analysis.test"), NewClassifier(""), 0)
	p := New([]StageSpec{stage("a")}, policy, Options{InterRecordDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	obs := ObserverFunc(func(s Snapshot) {
		if s.Records[0].Settled() {
			once.Do(func() { time.AfterFunc(20*time.Millisecond, cancel) })
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, records("1", "2"), obs)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop during the inter-record delay")
	}
	assert.Len(t, f.Calls(), 1)
}

func TestPipeline_Delays(t *testing.T) {
	f := newFakeFetcher()
	policy := NewRetryPolicy(NewInvoker(f, "http://analysis.test"), NewClassifier(""), 0)
	p := New([]StageSpec{stage("a"), stage("b")}, policy, Options{
		InterStageDelay:  10 * time.Millisecond,
		InterRecordDelay: 20 * time.Millisecond,
	})

	start := time.Now()
	_, err := p.Run(context.Background(), records("1", "2"), nil)
	require.NoError(t, err)

	// two inter-stage pauses and one inter-record pause
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPipeline_Snapshots(t *testing.T) {
	f := newFakeFetcher()
	p := newTestPipeline(f, stage("a"))

	var seqs []int
	for s := range p.Snapshots(context.Background(), records("1", "2")) {
		seqs = append(seqs, s.Seq)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, seqs)
	assert.Len(t, f.Calls(), 2)
}

func TestPipeline_SnapshotsBreakStopsRun(t *testing.T) {
	f := newFakeFetcher()
	p := newTestPipeline(f, stage("a"), stage("b"))

	count := 0
	for s := range p.Snapshots(context.Background(), records("1", "2", "3")) {
		count++
		if s.Records[0].Stages[0].Outcome.Status == StatusSucceeded {
			break
		}
	}

	assert.Equal(t, 3, count)
	assert.Len(t, f.Calls(), 1)
}

func TestPipeline_SnapshotsBreakBeforeCall(t *testing.T) {
	f := newFakeFetcher()
	p := newTestPipeline(f, stage("a"))

	for s := range p.Snapshots(context.Background(), records("1", "2")) {
		if s.Records[0].Stages[0].Outcome.Status == StatusInProgress {
			break
		}
	}

	assert.Empty(t, f.Calls())
}

func TestPipeline_CancelDuringLastCall(t *testing.T) {
	tests := []struct {
		name   string
		reply  fakeReply
		status Status
	}{
		{"rate limited", status(http.StatusTooManyRequests, `{"detail":"slow down"}`), StatusInProgress},
		{"server error", status(http.StatusInternalServerError, `boom`), StatusInProgress},
		{"success", ok(`{"ok":true}`), StatusSucceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher().on("/api/a", "text-1", tt.reply)
			p := newTestPipeline(f, stage("a"))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			f.onCall = func(fakeCall) { cancel() }

			rec := &Recorder{}
			final, err := p.Run(ctx, records("1"), rec)
			require.ErrorIs(t, err, context.Canceled)

			out, _ := final.Records[0].Outcome("a")
			assert.Equal(t, tt.status, out.Status)
			last, emitted := rec.Last()
			require.True(t, emitted)
			assert.Equal(t, final, last)
			for _, s := range rec.Snapshots() {
				got, _ := s.Records[0].Outcome("a")
				assert.NotEqual(t, StatusFailed, got.Status)
			}
			assert.Len(t, f.Calls(), 1)
		})
	}
}

func TestObservers_FanOutSkipsNil(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	obs := Observers(a, nil, b)

	f := newFakeFetcher()
	_, err := newTestPipeline(f, stage("x")).Run(context.Background(), records("1"), obs)
	require.NoError(t, err)

	assert.Equal(t, a.Snapshots(), b.Snapshots())
	assert.Len(t, a.Snapshots(), 4)
}

type sourceFunc func(context.Context) ([]Record, error)

func (f sourceFunc) Fetch(ctx context.Context) ([]Record, error) { return f(ctx) }
