package session_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"kiln/internal/cache"
	"kiln/internal/db"
	"kiln/internal/engine"
	"kiln/internal/kv"
	"kiln/internal/models"
	"kiln/internal/progress"
	"kiln/internal/session"
)

type fakeHandle struct {
	mu       sync.Mutex
	deltas   []string
	err      error
	closed   int
	closeErr error
	seen     []models.Message
	// inStream runs inside Stream, before the deltas are sent.
	inStream func()
}

func (h *fakeHandle) Stream(_ context.Context, messages []models.Message, onDelta func(string)) error {
	h.mu.Lock()
	h.seen = messages
	h.mu.Unlock()
	if h.inStream != nil {
		h.inStream()
	}
	for _, d := range h.deltas {
		onDelta(d)
	}
	return h.err
}

func (h *fakeHandle) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return h.closeErr
}

type fakeRuntime struct {
	events  []progress.Event
	handle  *fakeHandle
	err     error
	calls   int
	release chan struct{} // when set, Create waits for it
	late    []progress.Event // sent after release
}

func (r *fakeRuntime) Create(_ context.Context, _ string, onProgress func(progress.Event)) (engine.Handle, error) {
	r.calls++
	for _, ev := range r.events {
		onProgress(ev)
	}
	if r.release != nil {
		<-r.release
	}
	for _, ev := range r.late {
		onProgress(ev)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.handle, nil
}

var _ = Describe("Controller", func() {
	var (
		ctx    context.Context
		handle *fakeHandle
		rt     *fakeRuntime
		c      *session.Controller
	)

	BeforeEach(func() {
		ctx = context.Background()
		handle = &fakeHandle{}
		rt = &fakeRuntime{handle: handle}
		c = session.New(rt)
	})

	Describe("Load", func() {
		It("moves from idle to ready through loading", func() {
			var states []models.EngineState
			var snaps []progress.Snapshot
			c = session.New(rt, session.WithProgressObserver(func(s progress.Snapshot) {
				snaps = append(snaps, s)
				states = append(states, c.State())
			}))
			rt.events = []progress.Event{
				{Progress: 0.0, Text: "Fetching tokenizer.json"},
				{Progress: 0.5, Text: "Fetching model-00001-of-00002.bin"},
				{Progress: 1.0, Text: "Fetching model-00001-of-00002.bin"},
			}

			Expect(c.Load(ctx, "tinyllama")).To(Succeed())

			Expect(c.State()).To(Equal(models.StateReady))
			Expect(c.Model()).To(Equal("tinyllama"))
			Expect(states).To(HaveEach(models.StateLoading))
			Expect(snaps[0].Phase).To(Equal("Initializing"))
			Expect(snaps[0].Percent).To(BeZero())

			p := c.Progress()
			Expect(p.Percent).To(Equal(100))
			Expect(p.Artifacts).To(Equal([]progress.Artifact{
				{Label: "tokenizer.json", Status: progress.StatusDone},
				{Label: "model-00001-of-00002.bin", Status: progress.StatusDone},
			}))
		})

		It("is a no-op unless idle", func() {
			Expect(c.Load(ctx, "tinyllama")).To(Succeed())
			Expect(c.Load(ctx, "phi3:mini")).To(Succeed())

			Expect(rt.calls).To(Equal(1))
			Expect(c.Model()).To(Equal("tinyllama"))
		})

		It("returns to idle when the runtime fails", func() {
			boom := errors.New("no adapter")
			rt.err = boom

			err := c.Load(ctx, "tinyllama")

			Expect(err).To(MatchError(boom))
			Expect(c.State()).To(Equal(models.StateIdle))
			Expect(c.Model()).To(BeEmpty())

			_, err = c.Generate(ctx, []models.Message{{Role: models.RoleUser, Content: "Hi"}}, nil)
			Expect(err).To(MatchError(session.ErrNotReady))
		})

		It("discards a handle that arrives after Unload", func() {
			rt.release = make(chan struct{})
			done := make(chan error, 1)
			go func() { done <- c.Load(ctx, "tinyllama") }()

			Eventually(c.State).Should(Equal(models.StateLoading))
			c.Unload(ctx)
			close(rt.release)

			Eventually(done).Should(Receive(MatchError(session.ErrSuperseded)))
			Expect(c.State()).To(Equal(models.StateIdle))
			handle.mu.Lock()
			defer handle.mu.Unlock()
			Expect(handle.closed).To(Equal(1))
		})

		It("keeps progress from a superseded load out of the reset tracker", func() {
			var mu sync.Mutex
			var snaps []progress.Snapshot
			c = session.New(rt, session.WithProgressObserver(func(s progress.Snapshot) {
				mu.Lock()
				defer mu.Unlock()
				snaps = append(snaps, s)
			}))
			rt.release = make(chan struct{})
			rt.late = []progress.Event{{Progress: 1, Text: "Fetching model.bin"}}
			done := make(chan error, 1)
			go func() { done <- c.Load(ctx, "tinyllama") }()

			Eventually(c.State).Should(Equal(models.StateLoading))
			c.Unload(ctx)
			close(rt.release)
			Eventually(done).Should(Receive(MatchError(session.ErrSuperseded)))

			p := c.Progress()
			Expect(p.Percent).To(BeZero())
			Expect(p.Artifacts).To(BeEmpty())
			mu.Lock()
			defer mu.Unlock()
			Expect(snaps).To(HaveLen(1))
		})
	})

	Describe("Unload", func() {
		It("drops the handle and resets progress", func() {
			rt.events = []progress.Event{{Progress: 1, Text: "Ready"}}
			Expect(c.Load(ctx, "tinyllama")).To(Succeed())

			c.Unload(ctx)

			Expect(c.State()).To(Equal(models.StateIdle))
			Expect(c.Progress().Percent).To(BeZero())
			Expect(handle.closed).To(Equal(1))
			_, err := c.Generate(ctx, []models.Message{{Role: models.RoleUser, Content: "Hi"}}, nil)
			Expect(err).To(MatchError(session.ErrNotReady))
		})

		It("ignores release failures", func() {
			handle.closeErr = errors.New("gone")
			Expect(c.Load(ctx, "tinyllama")).To(Succeed())

			c.Unload(ctx)
			Expect(c.State()).To(Equal(models.StateIdle))
		})

		It("allows loading again", func() {
			Expect(c.Load(ctx, "tinyllama")).To(Succeed())
			c.Unload(ctx)
			Expect(c.Load(ctx, "phi3:mini")).To(Succeed())
			Expect(c.Model()).To(Equal("phi3:mini"))
			Expect(rt.calls).To(Equal(2))
		})
	})

	Describe("Generate", func() {
		history := []models.Message{{Role: models.RoleUser, Content: "Hi"}}

		BeforeEach(func() {
			Expect(c.Load(ctx, "tinyllama")).To(Succeed())
		})

		It("forwards deltas in order and estimates stats", func() {
			handle.deltas = []string{"Hel", "lo", " world"}
			var got []string

			stats, err := c.Generate(ctx, history, func(t string) { got = append(got, t) })

			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal([]string{"Hel", "lo", " world"}))
			Expect(stats.Tokens).To(Equal(3))
			Expect(stats.TokensPerSecond).To(BeNumerically(">", 0))
			Expect(c.Stats()).To(Equal(stats))
			Expect(c.Streaming()).To(BeFalse())
			Expect(handle.seen).To(Equal(history))
		})

		It("sets the streaming flag only while streaming", func() {
			var during bool
			handle.inStream = func() { during = c.Streaming() }

			_, err := c.Generate(ctx, history, nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(during).To(BeTrue())
			Expect(c.Streaming()).To(BeFalse())
		})

		It("counts at least one token for an empty reply", func() {
			stats, err := c.Generate(ctx, history, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Tokens).To(Equal(1))
		})

		It("rejects an empty history before streaming", func() {
			called := false
			handle.inStream = func() { called = true }

			_, err := c.Generate(ctx, nil, nil)

			Expect(err).To(MatchError(session.ErrEmptyHistory))
			Expect(called).To(BeFalse())
			Expect(c.Streaming()).To(BeFalse())
		})

		It("returns stream errors and keeps the previous stats", func() {
			handle.deltas = []string{"abcd", "efgh"}
			first, err := c.Generate(ctx, history, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Tokens).To(Equal(2))

			boom := errors.New("connection reset")
			handle.err = boom
			handle.deltas = []string{"partial"}
			var got []string

			_, err = c.Generate(ctx, history, func(t string) { got = append(got, t) })

			Expect(err).To(MatchError(boom))
			Expect(got).To(Equal([]string{"partial"}))
			Expect(c.Stats()).To(Equal(first))
			Expect(c.Streaming()).To(BeFalse())
		})
	})

	Describe("ClearCaches", func() {
		It("removes matching caches and drops the database in any state", func() {
			dir := cache.New(GinkgoT().TempDir())
			for _, n := range []string{"catalog", "ollama", "unrelated"} {
				Expect(dir.Put(n, "k", 1, 0)).To(Succeed())
			}
			conn, err := db.Open(":memory:")
			Expect(err).NotTo(HaveOccurred())
			store := kv.NewSQLite(conn, "chats")
			DeferCleanup(store.Close)
			Expect(store.Put(ctx, "chat:tinyllama", []byte("{}"))).To(Succeed())

			c = session.New(rt, session.WithCaches(dir), session.WithStore(store))
			deleted := c.ClearCaches(ctx)

			Expect(deleted).To(ConsistOf("catalog", "ollama"))
			names, err := dir.Names()
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{"unrelated"}))
			_, err = store.Get(ctx, "chat:tinyllama")
			Expect(err).To(MatchError(kv.ErrNotFound))
		})

		It("swallows every failure", func() {
			c = session.New(rt, session.WithStore(failingStore{}))
			Expect(func() { c.ClearCaches(ctx) }).NotTo(Panic())
		})
	})
})

var _ = DescribeTable("EstimateStats",
	func(runes int, elapsed time.Duration, tokens int, tps float64) {
		s := session.EstimateStats(runes, elapsed)
		Expect(s.Tokens).To(Equal(tokens))
		Expect(s.TokensPerSecond).To(BeNumerically("~", tps, 0.001))
	},
	Entry("rounds to nearest", 11, time.Second, 3, 3.0),
	Entry("at least one token", 0, time.Second, 1, 1.0),
	Entry("half rounds up", 6, 2*time.Second, 2, 1.0),
	Entry("floors elapsed at a millisecond", 40, time.Duration(0), 10, 10000.0),
)

type failingStore struct{ kv.Store }

func (failingStore) Drop(context.Context) error { return errors.New("read-only") }
