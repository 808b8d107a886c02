package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/pulsefit/livestream/internal/analytics"
	"github.com/pulsefit/livestream/internal/chat"
	"github.com/pulsefit/livestream/internal/models"
	"github.com/pulsefit/livestream/internal/notify"
	"github.com/pulsefit/livestream/internal/presence"
	"github.com/pulsefit/livestream/internal/streamerr"
	"github.com/pulsefit/livestream/internal/streams"
	"github.com/pulsefit/livestream/pkg/queue"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) byType(t notify.EventType) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	payloads []queue.RollupPayload
}

func (e *recordingEnqueuer) EnqueueRollup(ctx context.Context, payload queue.RollupPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, payload)
	return nil
}

type fixture struct {
	coord    *Coordinator
	store    *streams.MemoryStore
	presence *presence.MemoryStore
	notifier *recordingNotifier
	rollups  *recordingEnqueuer
}

func newFixture(milestones []int) *fixture {
	streamStore := streams.NewMemoryStore()
	presenceStore := presence.NewMemoryStore()
	tracker := presence.NewTracker(presenceStore, streamStore, nil)
	feed := chat.NewFeed(chat.NewMemoryStore(), streamStore, nil)
	aggregator := analytics.NewAggregator(analytics.NewMemoryStore(), presenceStore, nil)
	notifier := &recordingNotifier{}
	rollups := &recordingEnqueuer{}
	coord := New(streamStore, tracker, feed, aggregator, notifier, rollups, milestones, nil)
	return &fixture{
		coord:    coord,
		store:    streamStore,
		presence: presenceStore,
		notifier: notifier,
		rollups:  rollups,
	}
}

func (f *fixture) create(t *testing.T, maxViewers int) (*models.StreamingSession, string) {
	t.Helper()
	session, key, err := f.coord.CreateSession(context.Background(), CreateParams{
		GroupSessionID: uuid.New(),
		HostID:         uuid.New(),
		Title:          "Morning HIIT",
		MaxViewers:     maxViewers,
		Quality:        models.QualityHD,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session, key
}

func (f *fixture) createLive(t *testing.T, maxViewers int) *models.StreamingSession {
	t.Helper()
	session, _ := f.create(t, maxViewers)
	live, err := f.coord.Start(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return live
}

func TestCreateSessionIssuesCredentials(t *testing.T) {
	f := newFixture(nil)
	session, key := f.create(t, 50)

	if session.Status != models.StatusCreated {
		t.Fatalf("status = %s, want created", session.Status)
	}
	if key == "" || session.RoomID == "" {
		t.Fatal("expected stream key and room id")
	}
	if session.StreamKeyHash == key {
		t.Fatal("stream key stored in plaintext")
	}
	if !CheckStreamKey(key, session.StreamKeyHash) {
		t.Fatal("issued key does not verify against stored hash")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	cases := []struct {
		name   string
		params CreateParams
	}{
		{"missing title", CreateParams{GroupSessionID: uuid.New(), HostID: uuid.New(), MaxViewers: 10, Quality: models.QualityHD}},
		{"unknown quality", CreateParams{GroupSessionID: uuid.New(), HostID: uuid.New(), Title: "x", MaxViewers: 10, Quality: "8K"}},
		{"zero capacity", CreateParams{GroupSessionID: uuid.New(), HostID: uuid.New(), Title: "x", Quality: models.QualityHD}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := f.coord.CreateSession(ctx, tc.params); !errors.Is(err, streamerr.ErrInvalidState) {
				t.Fatalf("err = %v, want ErrInvalidState", err)
			}
		})
	}
}

func TestCreateSessionSlotConflict(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	groupID := uuid.New()

	first, _, err := f.coord.CreateSession(ctx, CreateParams{
		GroupSessionID: groupID, HostID: uuid.New(), Title: "a", MaxViewers: 10, Quality: models.QualityHD,
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, _, err = f.coord.CreateSession(ctx, CreateParams{
		GroupSessionID: groupID, HostID: uuid.New(), Title: "b", MaxViewers: 10, Quality: models.QualityHD,
	})
	if !errors.Is(err, streamerr.ErrConflict) {
		t.Fatalf("second create err = %v, want ErrConflict", err)
	}

	// Ending the first frees the slot.
	if _, err := f.coord.End(ctx, first.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, _, err := f.coord.CreateSession(ctx, CreateParams{
		GroupSessionID: groupID, HostID: uuid.New(), Title: "c", MaxViewers: 10, Quality: models.QualityHD,
	}); err != nil {
		t.Fatalf("create after end: %v", err)
	}
}

func TestListByGroupSessionIncludesEnded(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	groupID := uuid.New()

	for i := 0; i < 2; i++ {
		s, _, err := f.coord.CreateSession(ctx, CreateParams{
			GroupSessionID: groupID, HostID: uuid.New(), Title: "replay", MaxViewers: 10, Quality: models.QualityHD,
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if _, err := f.coord.End(ctx, s.ID); err != nil {
			t.Fatalf("end %d: %v", i, err)
		}
	}
	history, err := f.coord.ListByGroupSession(ctx, groupID)
	if err != nil {
		t.Fatalf("ListByGroupSession: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d sessions, want 2", len(history))
	}
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("created to live sets started_at", func(t *testing.T) {
		f := newFixture(nil)
		session, _ := f.create(t, 10)
		live, err := f.coord.Start(ctx, session.ID)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if live.Status != models.StatusLive || live.StartedAt == nil {
			t.Fatalf("got status=%s started_at=%v", live.Status, live.StartedAt)
		}
	})

	t.Run("pause and resume", func(t *testing.T) {
		f := newFixture(nil)
		session := f.createLive(t, 10)
		paused, err := f.coord.Pause(ctx, session.ID)
		if err != nil || paused.Status != models.StatusPaused {
			t.Fatalf("Pause: %v status=%v", err, paused)
		}
		resumed, err := f.coord.Resume(ctx, session.ID)
		if err != nil || resumed.Status != models.StatusLive {
			t.Fatalf("Resume: %v status=%v", err, resumed)
		}
	})

	t.Run("invalid edges rejected", func(t *testing.T) {
		f := newFixture(nil)
		session, _ := f.create(t, 10)
		if _, err := f.coord.Pause(ctx, session.ID); !errors.Is(err, streamerr.ErrInvalidTransition) {
			t.Fatalf("pause from created: %v", err)
		}
		if _, err := f.coord.Resume(ctx, session.ID); !errors.Is(err, streamerr.ErrInvalidTransition) {
			t.Fatalf("resume from created: %v", err)
		}
		if _, err := f.coord.Start(ctx, f.createLive(t, 10).ID); !errors.Is(err, streamerr.ErrInvalidTransition) {
			t.Fatalf("start from live: %v", err)
		}
	})

	t.Run("ended is terminal", func(t *testing.T) {
		f := newFixture(nil)
		session := f.createLive(t, 10)
		if _, err := f.coord.End(ctx, session.ID); err != nil {
			t.Fatalf("End: %v", err)
		}
		for name, op := range map[string]func(context.Context, uuid.UUID) (*models.StreamingSession, error){
			"start":  f.coord.Start,
			"pause":  f.coord.Pause,
			"resume": f.coord.Resume,
			"end":    f.coord.End,
		} {
			if _, err := op(ctx, session.ID); !errors.Is(err, streamerr.ErrInvalidTransition) {
				t.Fatalf("%s after end: %v, want ErrInvalidTransition", name, err)
			}
		}
	})
}

func TestEndClosesAttendancesAtEndedAt(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	session := f.createLive(t, 10)
	viewerA, viewerB := uuid.New(), uuid.New()

	if _, err := f.coord.Join(ctx, session.ID, viewerA); err != nil {
		t.Fatalf("join A: %v", err)
	}
	if _, err := f.coord.Join(ctx, session.ID, viewerB); err != nil {
		t.Fatalf("join B: %v", err)
	}

	ended, err := f.coord.End(ctx, session.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.EndedAt == nil {
		t.Fatal("ended_at not set")
	}

	atts, _, err := f.presence.History(ctx, session.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(atts) != 2 {
		t.Fatalf("attendance rows = %d, want 2", len(atts))
	}
	for _, att := range atts {
		if att.LeftAt == nil {
			t.Fatalf("viewer %s still open after end", att.UserID)
		}
		if !att.LeftAt.Equal(*ended.EndedAt) {
			t.Fatalf("left_at = %v, want ended_at %v", att.LeftAt, ended.EndedAt)
		}
	}

	after, err := f.coord.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.ViewerCount != 0 {
		t.Fatalf("viewer_count = %d after end, want 0", after.ViewerCount)
	}

	if got := f.notifier.byType(notify.TypeStreamEnded); len(got) != 1 {
		t.Fatalf("stream_ended notifications = %d, want 1", len(got))
	}
	if len(f.rollups.payloads) != 1 || !f.rollups.payloads[0].Final {
		t.Fatalf("rollup payloads = %+v, want one final", f.rollups.payloads)
	}
}

func TestEndFromCreatedSkipsRollup(t *testing.T) {
	f := newFixture(nil)
	session, _ := f.create(t, 10)
	if _, err := f.coord.End(context.Background(), session.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if len(f.rollups.payloads) != 0 {
		t.Fatalf("cancelled session enqueued %d rollups", len(f.rollups.payloads))
	}
}

func TestJoinEnforcesCapacity(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	session := f.createLive(t, 2)
	viewerA, viewerB, viewerC := uuid.New(), uuid.New(), uuid.New()

	if _, err := f.coord.Join(ctx, session.ID, viewerA); err != nil {
		t.Fatalf("join A: %v", err)
	}
	if _, err := f.coord.Join(ctx, session.ID, viewerB); err != nil {
		t.Fatalf("join B: %v", err)
	}
	if _, err := f.coord.Join(ctx, session.ID, viewerC); !errors.Is(err, streamerr.ErrCapacityExceeded) {
		t.Fatalf("join C at capacity: %v, want ErrCapacityExceeded", err)
	}

	// A rejected join leaves no trace in history.
	atts, _, _ := f.presence.History(ctx, session.ID)
	if len(atts) != 2 {
		t.Fatalf("attendance rows = %d after rejected join, want 2", len(atts))
	}

	// An already-admitted viewer is readmitted even at capacity.
	if _, err := f.coord.Join(ctx, session.ID, viewerA); err != nil {
		t.Fatalf("rejoin A at capacity: %v", err)
	}

	// A seat freed by a leave is claimable.
	if err := f.coord.Leave(ctx, session.ID, viewerA); err != nil {
		t.Fatalf("leave A: %v", err)
	}
	if _, err := f.coord.Join(ctx, session.ID, viewerC); err != nil {
		t.Fatalf("join C after seat freed: %v", err)
	}
	count, err := f.coord.CurrentCount(ctx, session.ID)
	if err != nil || count != 2 {
		t.Fatalf("count = %d (%v), want 2", count, err)
	}
}

func TestJoinRequiresLive(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	session, _ := f.create(t, 10)
	if _, err := f.coord.Join(ctx, session.ID, uuid.New()); !errors.Is(err, streamerr.ErrInvalidState) {
		t.Fatalf("join created: %v, want ErrInvalidState", err)
	}

	if _, err := f.coord.Start(ctx, session.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.coord.Pause(ctx, session.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := f.coord.Join(ctx, session.ID, uuid.New()); !errors.Is(err, streamerr.ErrInvalidState) {
		t.Fatalf("join paused: %v, want ErrInvalidState", err)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	session := f.createLive(t, 10)
	viewer := uuid.New()

	first, err := f.coord.Join(ctx, session.ID, viewer)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	second, err := f.coord.Join(ctx, session.ID, viewer)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("rejoin created a second attendance record")
	}
	count, _ := f.coord.CurrentCount(ctx, session.ID)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestLeaveWithoutJoinIsNoop(t *testing.T) {
	f := newFixture(nil)
	session := f.createLive(t, 10)
	if err := f.coord.Leave(context.Background(), session.ID, uuid.New()); err != nil {
		t.Fatalf("leave without join: %v", err)
	}
}

func TestViewerMilestoneFiresOnce(t *testing.T) {
	f := newFixture([]int{2})
	ctx := context.Background()
	session := f.createLive(t, 10)
	viewerA, viewerB := uuid.New(), uuid.New()

	f.coord.Join(ctx, session.ID, viewerA)
	f.coord.Join(ctx, session.ID, viewerB)
	if got := f.notifier.byType(notify.TypeViewerMilestone); len(got) != 1 {
		t.Fatalf("milestone events = %d, want 1", len(got))
	}

	// Dropping below and crossing again does not re-fire.
	f.coord.Leave(ctx, session.ID, viewerB)
	f.coord.Join(ctx, session.ID, viewerB)
	if got := f.notifier.byType(notify.TypeViewerMilestone); len(got) != 1 {
		t.Fatalf("milestone events after re-cross = %d, want 1", len(got))
	}
}

func TestMilestoneStateHeldOnlyWhileLive(t *testing.T) {
	f := newFixture([]int{1})
	ctx := context.Background()

	// A session that never goes live allocates no milestone state.
	abandoned, _ := f.create(t, 10)
	f.coord.milestonesMu.Lock()
	_, tracked := f.coord.milestonesHit[abandoned.ID]
	f.coord.milestonesMu.Unlock()
	if tracked {
		t.Fatal("milestone state allocated for a session that never went live")
	}

	session := f.createLive(t, 10)
	f.coord.Join(ctx, session.ID, uuid.New())
	f.coord.milestonesMu.Lock()
	_, tracked = f.coord.milestonesHit[session.ID]
	f.coord.milestonesMu.Unlock()
	if !tracked {
		t.Fatal("milestone state missing for a live session with viewers")
	}

	if _, err := f.coord.End(ctx, session.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	f.coord.milestonesMu.Lock()
	_, tracked = f.coord.milestonesHit[session.ID]
	f.coord.milestonesMu.Unlock()
	if tracked {
		t.Fatal("milestone state retained after end")
	}
}

func TestStartNotifiesStreamLive(t *testing.T) {
	f := newFixture(nil)
	session := f.createLive(t, 10)
	events := f.notifier.byType(notify.TypeStreamLive)
	if len(events) != 1 {
		t.Fatalf("stream_live events = %d, want 1", len(events))
	}
	data, ok := events[0].Data.(notify.StreamLiveData)
	if !ok || data.SessionID != session.ID || data.RoomID != session.RoomID {
		t.Fatalf("unexpected payload %+v", events[0].Data)
	}
}

func TestVerifyStreamKey(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	session, key := f.create(t, 10)

	got, err := f.coord.VerifyStreamKey(ctx, session.RoomID, key)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != session.ID {
		t.Fatalf("verified session %s, want %s", got.ID, session.ID)
	}

	if _, err := f.coord.VerifyStreamKey(ctx, session.RoomID, "sk_wrong"); !errors.Is(err, streamerr.ErrNotFound) {
		t.Fatalf("wrong key: %v, want ErrNotFound", err)
	}
	if _, err := f.coord.VerifyStreamKey(ctx, "room_unknown", key); !errors.Is(err, streamerr.ErrNotFound) {
		t.Fatalf("unknown room: %v, want ErrNotFound", err)
	}
}

func TestEndRecordsFinalMetrics(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	session := f.createLive(t, 10)

	f.coord.Join(ctx, session.ID, uuid.New())
	f.coord.Join(ctx, session.ID, uuid.New())
	viewer := uuid.New()
	f.coord.Join(ctx, session.ID, viewer)
	f.coord.Leave(ctx, session.ID, viewer)

	if _, err := f.coord.End(ctx, session.ID); err != nil {
		t.Fatalf("End: %v", err)
	}

	latest, err := f.coord.LatestMetrics(ctx, session.ID)
	if err != nil {
		t.Fatalf("LatestMetrics: %v", err)
	}
	if latest[models.MetricPeakViewers].Value != 3 {
		t.Fatalf("peak = %v, want 3", latest[models.MetricPeakViewers].Value)
	}
	if latest[models.MetricTotalViews].Value != 3 {
		t.Fatalf("total views = %v, want 3", latest[models.MetricTotalViews].Value)
	}
	if _, ok := latest[models.MetricAvgWatchTime]; !ok {
		t.Fatal("avg_watch_time sample missing")
	}
}

func TestMetricSeriesTracksRollups(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	session := f.createLive(t, 10)

	f.coord.Join(ctx, session.ID, uuid.New())
	if _, err := f.coord.Rollup(ctx, session.ID); err != nil {
		t.Fatalf("first rollup: %v", err)
	}
	f.coord.Join(ctx, session.ID, uuid.New())
	if _, err := f.coord.Rollup(ctx, session.ID); err != nil {
		t.Fatalf("second rollup: %v", err)
	}

	series, err := f.coord.MetricSeries(ctx, session.ID, models.MetricPeakViewers)
	if err != nil {
		t.Fatalf("MetricSeries: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("series length = %d, want 2", len(series))
	}
	if series[0].Value != 1 || series[1].Value != 2 {
		t.Fatalf("series values = %v, %v, want 1 then 2", series[0].Value, series[1].Value)
	}

	if _, err := f.coord.MetricSeries(ctx, session.ID, "made_up"); !errors.Is(err, streamerr.ErrInvalidState) {
		t.Fatalf("unknown metric: %v, want ErrInvalidState", err)
	}
	if _, err := f.coord.MetricSeries(ctx, uuid.New(), models.MetricPeakViewers); !errors.Is(err, streamerr.ErrNotFound) {
		t.Fatalf("unknown session: %v, want ErrNotFound", err)
	}
}

func TestChatThroughCoordinator(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	session := f.createLive(t, 10)
	viewer := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := f.coord.PostChat(ctx, session.ID, viewer, "push through!", models.KindText); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	msgs, err := f.coord.ChatSince(ctx, session.ID, 1, 0)
	if err != nil {
		t.Fatalf("ChatSince: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 2 || msgs[1].Seq != 3 {
		t.Fatalf("resume from seq 1 returned %+v", msgs)
	}

	if _, err := f.coord.End(ctx, session.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := f.coord.PostChat(ctx, session.ID, viewer, "too late", models.KindText); !errors.Is(err, streamerr.ErrInvalidState) {
		t.Fatalf("post after end: %v, want ErrInvalidState", err)
	}
}
