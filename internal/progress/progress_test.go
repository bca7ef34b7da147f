package progress_test

import (
	"strings"

	"kiln/internal/progress"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ExtractLabel", func() {
	DescribeTable("finds a file-like token",
		func(text, want string) {
			got, ok := progress.ExtractLabel(text)
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(want))
		},
		Entry("plain file name", "Fetching tokenizer.json", "tokenizer.json"),
		Entry("sharded weights", "Fetching model-00001-of-00002.bin", "model-00001-of-00002.bin"),
		Entry("last path segment", "Loading resolve/main/params_shard_3.bin now", "params_shard_3.bin"),
		Entry("windows separator", `reading C:\models\phi3\config.json`, "config.json"),
		Entry("path wins over a later dotted token", "from org/weights.safetensors to v1.2", "weights.safetensors"),
		Entry("scans from the end", "a.json then b.json", "b.json"),
		Entry("skips a short path segment", "tokenizer.model at cache/ab", "tokenizer.model"),
		Entry("skips ellipsis tokens", "shard.bin Loading...", "shard.bin"),
	)

	DescribeTable("falls back to display text",
		func(text, want string) {
			got, ok := progress.ExtractLabel(text)
			Expect(ok).To(BeFalse())
			Expect(got).To(Equal(want))
		},
		Entry("empty", "", ""),
		Entry("whitespace only", "   ", ""),
		Entry("no file token", "Initializing", "Initializing"),
		Entry("only ellipsis", "Loading model into GPU...", "Loading model into GPU..."),
		Entry("unicode ellipsis", "Warming up…", "Warming up…"),
		Entry("too short dotted token", "see v.", "see v."),
		Entry("long text is shortened",
			"pulling manifest for a model with a really long descriptive name",
			"pulling manifest for a model with a real…"),
	)

	It("never treats two-character segments as labels", func() {
		got, ok := progress.ExtractLabel("a/b.c x/yz")
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal("b.c"))
	})
})

var _ = Describe("Tracker", func() {
	var t *progress.Tracker

	BeforeEach(func() {
		t = progress.NewTracker()
	})

	It("tracks the example download sequence", func() {
		t.Update(progress.Event{Progress: 0.0, Text: "Fetching tokenizer.json"})
		t.Update(progress.Event{Progress: 0.5, Text: "Fetching model-00001-of-00002.bin"})
		snap := t.Update(progress.Event{Progress: 1.0, Text: "Fetching model-00001-of-00002.bin"})

		Expect(snap.Percent).To(Equal(100))
		Expect(snap.Artifacts).To(Equal([]progress.Artifact{
			{Label: "tokenizer.json", Status: progress.StatusDone},
			{Label: "model-00001-of-00002.bin", Status: progress.StatusDone},
		}))
		Expect(t.Active()).To(BeEmpty())
	})

	It("creates new artifacts as downloading and keeps insertion order", func() {
		t.Update(progress.Event{Progress: 0.1, Text: "Fetching b.bin"})
		snap := t.Update(progress.Event{Progress: 0.2, Text: "Fetching a.bin"})

		Expect(snap.Artifacts).To(HaveLen(2))
		Expect(snap.Artifacts[0].Label).To(Equal("b.bin"))
		Expect(snap.Artifacts[1].Label).To(Equal("a.bin"))
		for _, a := range snap.Artifacts {
			Expect(a.Status).To(Equal(progress.StatusDownloading))
		}
		Expect(t.Active()).To(Equal("a.bin"))
	})

	It("is idempotent for repeated labels", func() {
		for i := 0; i < 5; i++ {
			t.Update(progress.Event{Progress: float64(i) / 10, Text: "Fetching params_shard_0.bin"})
		}
		snap := t.Snapshot()
		Expect(snap.Artifacts).To(HaveLen(1))
		Expect(snap.Artifacts[0].Status).To(Equal(progress.StatusDownloading))
	})

	It("updates percent and phase even without a label", func() {
		t.Update(progress.Event{Progress: 0.1, Text: "Fetching config.json"})
		snap := t.Update(progress.Event{Progress: 0.42, Text: "Compiling shaders"})

		Expect(snap.Percent).To(Equal(42))
		Expect(snap.Phase).To(Equal("Compiling shaders"))
		Expect(snap.Artifacts).To(HaveLen(1))
		Expect(t.Active()).To(Equal("config.json"))
	})

	It("ignores empty text", func() {
		snap := t.Update(progress.Event{Progress: 0.3})
		Expect(snap.Artifacts).To(BeEmpty())
		Expect(snap.Percent).To(Equal(30))
	})

	It("prefers the structured artifact over the text", func() {
		t.Update(progress.Event{Progress: 0.1, Text: "pulling 8934d96d3f08", Artifact: "8934d96d3f08"})
		snap := t.Update(progress.Event{Progress: 0.2, Text: "pulling 8934d96d3f08", Artifact: "8934d96d3f08", ArtifactDone: true})

		Expect(snap.Artifacts).To(Equal([]progress.Artifact{
			{Label: "8934d96d3f08", Status: progress.StatusDone},
		}))
	})

	It("never downgrades a finished artifact", func() {
		t.Update(progress.Event{Progress: 0.1, Artifact: "layer-a", ArtifactDone: true})
		t.Update(progress.Event{Progress: 0.2, Artifact: "layer-b"})
		snap := t.Update(progress.Event{Progress: 0.3, Artifact: "layer-a"})

		Expect(snap.Artifacts[0]).To(Equal(progress.Artifact{Label: "layer-a", Status: progress.StatusDone}))
		Expect(snap.Artifacts[1].Status).To(Equal(progress.StatusDownloading))
	})

	It("marks everything done once any event reaches 100 percent", func() {
		names := []string{"tokenizer.json", "config.json", "shard-1.bin", "shard-2.bin"}
		for i, n := range names {
			t.Update(progress.Event{Progress: float64(i) / float64(len(names)), Text: "Fetching " + n})
		}
		snap := t.Update(progress.Event{Progress: 1.0, Text: "Finish loading on GPU"})

		Expect(snap.Artifacts).To(HaveLen(len(names)))
		for _, a := range snap.Artifacts {
			Expect(a.Status).To(Equal(progress.StatusDone))
		}
	})

	It("clamps out of range progress", func() {
		Expect(t.Update(progress.Event{Progress: -0.5}).Percent).To(Equal(0))
		Expect(t.Update(progress.Event{Progress: 1.7}).Percent).To(Equal(100))
	})

	It("hands out copies", func() {
		snap := t.Update(progress.Event{Progress: 0.1, Text: "Fetching x.bin"})
		snap.Artifacts[0].Status = progress.StatusDone
		Expect(t.Snapshot().Artifacts[0].Status).To(Equal(progress.StatusDownloading))
	})

	It("starts over on Reset", func() {
		t.Update(progress.Event{Progress: 0.6, Text: "Fetching x.bin"})
		t.Reset("Initializing")

		snap := t.Snapshot()
		Expect(snap.Percent).To(BeZero())
		Expect(snap.Phase).To(Equal("Initializing"))
		Expect(snap.Artifacts).To(BeEmpty())
		Expect(t.Active()).To(BeEmpty())
	})
})

var _ = Describe("ShortPhase", func() {
	It("keeps short text", func() {
		Expect(progress.ShortPhase(" Ready ")).To(Equal("Ready"))
	})

	It("cuts at 40 runes", func() {
		got := progress.ShortPhase(strings.Repeat("é", 50))
		Expect([]rune(got)).To(HaveLen(41))
		Expect(got).To(HaveSuffix("…"))
	})
})
