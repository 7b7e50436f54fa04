package bard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu    sync.Mutex
	fail  map[string]error // item ID -> resolution error
	calls []string
}

func (f *fakeResolver) StreamFor(_ context.Context, item MediaItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, item.ID)
	if err := f.fail[item.ID]; err != nil {
		return "", err
	}
	return "stream://" + item.ID, nil
}

type fakeSink struct {
	mu      sync.Mutex
	events  chan SinkEvent
	played  []string
	playErr error
	paused  bool
	stops   int
	closed  bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{events: make(chan SinkEvent, 4)}
}

func (f *fakeSink) Play(_ context.Context, sourceURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.played = append(f.played, sourceURL)
	f.paused = false
	return nil
}

func (f *fakeSink) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *fakeSink) Unpause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
}

func (f *fakeSink) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeSink) Events() <-chan SinkEvent { return f.events }

func (f *fakeSink) playedSources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.played))
	copy(out, f.played)
	return out
}

type fakeTransport struct {
	mu    sync.Mutex
	sinks []*fakeSink
	err   error
	joins int
}

func (f *fakeTransport) Join(_ context.Context, _, _ string) (AudioSink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	if f.err != nil {
		return nil, f.err
	}
	sink := newFakeSink()
	f.sinks = append(f.sinks, sink)
	return sink, nil
}

func (f *fakeTransport) lastSink() *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sinks) == 0 {
		return nil
	}
	return f.sinks[len(f.sinks)-1]
}

type fakePublisher struct {
	mu    sync.Mutex
	views []View
}

func (f *fakePublisher) Publish(_ string, v View) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, v)
}

type fixedLimits struct{ t Thresholds }

func (f fixedLimits) Thresholds(context.Context, string) (Thresholds, error) {
	return f.t, nil
}

func newTestRegistry(res *fakeResolver, tr *fakeTransport) *Registry {
	return NewRegistry(res, tr, NewVoteGate(DefaultVoteTTL), &fakePublisher{}, fixedLimits{t: DefaultThresholds()})
}

func item(id string) MediaItem {
	return MediaItem{ID: id, Title: "title " + id, URL: "https://media.example/" + id}
}

func TestSession_EnqueuePreservesOrder(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(&fakeResolver{}, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)

	n, err := sess.Enqueue(item("a"), item("b"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = sess.Enqueue(item("c"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	q := sess.Queue()
	require.Len(t, q, 3)
	assert.Equal(t, "a", q[0].ID)
	assert.Equal(t, "b", q[1].ID)
	assert.Equal(t, "c", q[2].ID)
}

func TestSession_EnqueueDropsUnplayable(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(&fakeResolver{}, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)

	live := item("live")
	live.IsLive = true
	upcoming := item("soon")
	upcoming.IsUpcoming = true

	n, err := sess.Enqueue(live, item("ok"), upcoming)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sess.Queue(), 1)
	assert.Equal(t, "ok", sess.Queue()[0].ID)
}

func TestSession_PlayStartsHead(t *testing.T) {
	res := &fakeResolver{}
	tr := &fakeTransport{}
	r := newTestRegistry(res, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"), item("b"))
	require.NoError(t, err)

	require.NoError(t, sess.Play(context.Background()))

	assert.Equal(t, StatusPlaying, sess.Status())
	assert.Equal(t, []string{"stream://a"}, tr.lastSink().playedSources())
	// head stays in place while playing
	require.Len(t, sess.Queue(), 2)
	assert.Equal(t, "a", sess.Queue()[0].ID)
}

func TestSession_SkipAdvancesThenDisconnects(t *testing.T) {
	res := &fakeResolver{}
	tr := &fakeTransport{}
	r := newTestRegistry(res, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"), item("b"), item("c"))
	require.NoError(t, err)
	require.NoError(t, sess.Play(context.Background()))

	require.NoError(t, sess.Skip(context.Background()))
	assert.Equal(t, "b", sess.Current().ID)
	require.NoError(t, sess.Skip(context.Background()))
	assert.Equal(t, "c", sess.Current().ID)

	// skipping the last item tears the session down
	require.NoError(t, sess.Skip(context.Background()))
	assert.Equal(t, StatusDisconnected, sess.Status())
	assert.Nil(t, r.Get("g1"))
	assert.True(t, tr.lastSink().closed)

	assert.Equal(t, []string{"stream://a", "stream://b", "stream://c"},
		tr.lastSink().playedSources())
}

func TestSession_PauseAndResume(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(&fakeResolver{}, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"))
	require.NoError(t, err)
	require.NoError(t, sess.Play(context.Background()))

	sess.Pause()
	assert.True(t, sess.IsPaused())
	assert.True(t, tr.lastSink().paused)

	// resuming must not resolve the head again
	require.NoError(t, sess.Play(context.Background()))
	assert.Equal(t, StatusPlaying, sess.Status())
	assert.False(t, tr.lastSink().paused)
	assert.Equal(t, []string{"stream://a"}, tr.lastSink().playedSources())
}

func TestSession_PauseOnlyWhilePlaying(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(&fakeResolver{}, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)

	sess.Pause()
	assert.Equal(t, StatusIdle, sess.Status())
}

func TestSession_ShuffleKeepsHead(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(&fakeResolver{}, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)

	items := []MediaItem{item("a"), item("b"), item("c"), item("d"), item("e")}
	_, err = sess.Enqueue(items...)
	require.NoError(t, err)

	sess.Shuffle()

	q := sess.Queue()
	require.Len(t, q, 5)
	assert.Equal(t, "a", q[0].ID)

	seen := map[string]bool{}
	for _, it := range q[1:] {
		seen[it.ID] = true
	}
	assert.Equal(t, map[string]bool{"b": true, "c": true, "d": true, "e": true}, seen)
}

func TestSession_ShuffleShortQueueNoop(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(&fakeResolver{}, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"))
	require.NoError(t, err)

	sess.Shuffle()
	require.Len(t, sess.Queue(), 1)
	assert.Equal(t, "a", sess.Queue()[0].ID)
}

func TestSession_StopClearsEverything(t *testing.T) {
	res := &fakeResolver{}
	tr := &fakeTransport{}
	r := newTestRegistry(res, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"), item("b"))
	require.NoError(t, err)
	require.NoError(t, sess.Play(context.Background()))

	sess.Stop()

	assert.Equal(t, StatusDisconnected, sess.Status())
	assert.Empty(t, sess.Queue())
	assert.Nil(t, r.Get("g1"))
	assert.True(t, tr.lastSink().closed)

	_, err = sess.Enqueue(item("c"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSession_DisconnectIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(&fakeResolver{}, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)

	sess.Disconnect()
	sess.Disconnect()
	assert.Equal(t, StatusDisconnected, sess.Status())
}

func TestSession_DisconnectClearsPendingVotes(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(&fakeResolver{}, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)

	r.votes.Vote("g1", ActionSkip, "alice", 3, false)
	require.Equal(t, 1, r.votes.Pending("g1", ActionSkip))

	sess.Disconnect()
	assert.Equal(t, 0, r.votes.Pending("g1", ActionSkip))
}

func TestSession_ResolverFailureSkipsToNext(t *testing.T) {
	res := &fakeResolver{fail: map[string]error{"a": errors.New("gone")}}
	tr := &fakeTransport{}
	r := newTestRegistry(res, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"), item("b"))
	require.NoError(t, err)

	require.NoError(t, sess.Play(context.Background()))

	assert.Equal(t, StatusPlaying, sess.Status())
	assert.Equal(t, "b", sess.Current().ID)
	assert.Equal(t, []string{"stream://b"}, tr.lastSink().playedSources())
}

func TestSession_ResolverFailureOnLastItemDisconnects(t *testing.T) {
	res := &fakeResolver{fail: map[string]error{"a": errors.New("gone")}}
	tr := &fakeTransport{}
	r := newTestRegistry(res, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"))
	require.NoError(t, err)

	require.NoError(t, sess.Play(context.Background()))
	assert.Equal(t, StatusDisconnected, sess.Status())
	assert.Nil(t, r.Get("g1"))
}

func TestSession_SinkIdleAdvancesQueue(t *testing.T) {
	res := &fakeResolver{}
	tr := &fakeTransport{}
	r := newTestRegistry(res, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"), item("b"))
	require.NoError(t, err)
	require.NoError(t, sess.Play(context.Background()))

	sink := tr.lastSink()
	sink.events <- SinkEvent{Kind: SinkIdle}

	require.Eventually(t, func() bool {
		cur := sess.Current()
		return cur != nil && cur.ID == "b"
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		got := sink.playedSources()
		return len(got) == 2 && got[1] == "stream://b"
	}, time.Second, 5*time.Millisecond)
}

func TestSession_SinkErrorTearsDown(t *testing.T) {
	res := &fakeResolver{}
	tr := &fakeTransport{}
	r := newTestRegistry(res, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"), item("b"))
	require.NoError(t, err)
	require.NoError(t, sess.Play(context.Background()))

	tr.lastSink().events <- SinkEvent{Kind: SinkError, Err: errors.New("voice gone")}

	require.Eventually(t, func() bool {
		return sess.Status() == StatusDisconnected && r.Get("g1") == nil
	}, time.Second, 5*time.Millisecond)
}

// gatedResolver parks StreamFor for selected items until release closes,
// so a skip or disconnect can interleave with an in-flight resolve.
type gatedResolver struct {
	mu      sync.Mutex
	release chan struct{}
	block   map[string]bool
	calls   []string
}

func newGatedResolver(blockIDs ...string) *gatedResolver {
	block := make(map[string]bool, len(blockIDs))
	for _, id := range blockIDs {
		block[id] = true
	}
	return &gatedResolver{release: make(chan struct{}), block: block}
}

func (r *gatedResolver) StreamFor(_ context.Context, item MediaItem) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, item.ID)
	blocked := r.block[item.ID]
	r.mu.Unlock()
	if blocked {
		<-r.release
	}
	return "stream://" + item.ID, nil
}

func (r *gatedResolver) resolving(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c == id {
			return true
		}
	}
	return false
}

// gatedSink parks Play for selected sources after the session committed
// to them, reproducing a stream that starts while a skip races it.
type gatedSink struct {
	mu      sync.Mutex
	events  chan SinkEvent
	release chan struct{}
	block   map[string]bool
	entered []string
	order   []string
	current string
	closed  bool
}

func newGatedSink(blockSources ...string) *gatedSink {
	block := make(map[string]bool, len(blockSources))
	for _, src := range blockSources {
		block[src] = true
	}
	return &gatedSink{
		events:  make(chan SinkEvent, 4),
		release: make(chan struct{}),
		block:   block,
	}
}

func (g *gatedSink) Play(_ context.Context, sourceURL string) error {
	g.mu.Lock()
	g.entered = append(g.entered, sourceURL)
	blocked := g.block[sourceURL]
	g.mu.Unlock()
	if blocked {
		<-g.release
	}
	g.mu.Lock()
	g.order = append(g.order, sourceURL)
	g.current = sourceURL
	g.mu.Unlock()
	return nil
}

func (g *gatedSink) Pause()   {}
func (g *gatedSink) Unpause() {}

func (g *gatedSink) Stop() {
	g.mu.Lock()
	g.current = ""
	g.mu.Unlock()
}

func (g *gatedSink) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.events)
	}
	return nil
}

func (g *gatedSink) Events() <-chan SinkEvent { return g.events }

func (g *gatedSink) playing() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *gatedSink) held(sourceURL string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	started := false
	for _, s := range g.entered {
		if s == sourceURL {
			started = true
		}
	}
	for _, s := range g.order {
		if s == sourceURL {
			return false
		}
	}
	return started
}

type sinkTransport struct {
	sink AudioSink
}

func (t sinkTransport) Join(context.Context, string, string) (AudioSink, error) {
	return t.sink, nil
}

func TestSession_SkipDuringResolveDiscardsStaleStream(t *testing.T) {
	res := newGatedResolver("a")
	tr := &fakeTransport{}
	r := NewRegistry(res, tr, NewVoteGate(DefaultVoteTTL), &fakePublisher{}, fixedLimits{t: DefaultThresholds()})

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"), item("b"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sess.Play(context.Background()) }()

	require.Eventually(t, func() bool { return res.resolving("a") },
		time.Second, 5*time.Millisecond)

	// the skip commits while the resolve for a is still in flight
	require.NoError(t, sess.Skip(context.Background()))
	require.Equal(t, "b", sess.Current().ID)
	require.Equal(t, []string{"stream://b"}, tr.lastSink().playedSources())

	close(res.release)
	require.NoError(t, <-done)

	// the parked resolve must be discarded, not played over the new head
	assert.Equal(t, []string{"stream://b"}, tr.lastSink().playedSources())
	assert.Equal(t, "b", sess.Current().ID)
	assert.Equal(t, StatusPlaying, sess.Status())
}

func TestSession_DisconnectDuringResolveDiscardsStaleStream(t *testing.T) {
	res := newGatedResolver("a")
	tr := &fakeTransport{}
	r := NewRegistry(res, tr, NewVoteGate(DefaultVoteTTL), &fakePublisher{}, fixedLimits{t: DefaultThresholds()})

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sess.Play(context.Background()) }()

	require.Eventually(t, func() bool { return res.resolving("a") },
		time.Second, 5*time.Millisecond)

	sess.Disconnect()
	close(res.release)
	require.NoError(t, <-done)

	assert.Empty(t, tr.lastSink().playedSources())
	assert.Equal(t, StatusDisconnected, sess.Status())
	assert.Nil(t, r.Get("g1"))
}

func TestSession_SkipDuringSinkCommitRecoversNewHead(t *testing.T) {
	sink := newGatedSink("stream://a")
	r := NewRegistry(&fakeResolver{}, sinkTransport{sink: sink},
		NewVoteGate(DefaultVoteTTL), &fakePublisher{}, fixedLimits{t: DefaultThresholds()})

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)
	_, err = sess.Enqueue(item("a"), item("b"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sess.Play(context.Background()) }()

	// the sink holds the stream for a after the head check already passed
	require.Eventually(t, func() bool { return sink.held("stream://a") },
		time.Second, 5*time.Millisecond)

	require.NoError(t, sess.Skip(context.Background()))
	require.Equal(t, "b", sess.Current().ID)
	require.Equal(t, "stream://b", sink.playing())

	close(sink.release)
	require.NoError(t, <-done)

	// the stale stream for a must not stay live over the new head
	require.Eventually(t, func() bool { return sink.playing() == "stream://b" },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "b", sess.Current().ID)
}

func TestSession_PlayEmptyQueueDisconnects(t *testing.T) {
	tr := &fakeTransport{}
	r := newTestRegistry(&fakeResolver{}, tr)

	sess, err := r.Connect(context.Background(), "g1", "vc1")
	require.NoError(t, err)

	require.NoError(t, sess.Play(context.Background()))
	assert.Equal(t, StatusDisconnected, sess.Status())
	assert.Nil(t, r.Get("g1"))
}
