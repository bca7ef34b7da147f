// Package progress turns the runtime's coarse load-progress events into a
// percentage, a phase line and a list of download artifacts.
package progress

import (
	"math"
	"strings"
	"sync"
	"unicode/utf8"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusDone        Status = "done"
)

func (s Status) rank() int {
	switch s {
	case StatusDownloading:
		return 1
	case StatusDone:
		return 2
	default:
		return 0
	}
}

// Event is one progress report from the runtime.
//
// Progress and Text are all a text-only runtime provides. Artifact and
// ArtifactDone let an integration that knows what it is downloading skip
// the text heuristics.
type Event struct {
	Progress     float64 // 0..1
	Text         string
	Artifact     string
	ArtifactDone bool
}

type Artifact struct {
	Label  string
	Status Status
}

type Snapshot struct {
	Percent   int
	Phase     string
	Artifacts []Artifact
}

// Tracker folds events into a Snapshot. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	percent   int
	phase     string
	artifacts []Artifact
	index     map[string]int
	active    string
}

func NewTracker() *Tracker {
	return &Tracker{index: make(map[string]int)}
}

// Reset forgets every artifact and sets the phase line.
func (t *Tracker) Reset(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.percent = 0
	t.phase = phase
	t.artifacts = nil
	t.index = make(map[string]int)
	t.active = ""
}

// Update applies ev and returns the resulting snapshot.
func (t *Tracker) Update(ev Event) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.percent = Percent(ev.Progress)
	t.phase = ev.Text

	label := ev.Artifact
	if label == "" {
		if l, ok := ExtractLabel(ev.Text); ok {
			label = l
		}
	}

	if label != "" {
		if t.active != "" && t.active != label {
			t.escalate(t.active, StatusDownloading)
		}
		if _, ok := t.index[label]; !ok {
			t.index[label] = len(t.artifacts)
			t.artifacts = append(t.artifacts, Artifact{Label: label, Status: StatusDownloading})
		} else {
			t.escalate(label, StatusDownloading)
		}
		t.active = label
		if ev.ArtifactDone {
			t.escalate(label, StatusDone)
		}
	}

	if t.percent >= 100 {
		for i := range t.artifacts {
			t.artifacts[i].Status = StatusDone
		}
		t.active = ""
	}

	return t.snapshotLocked()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Active is the label most recently reported, or "" once loading completed.
func (t *Tracker) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Tracker) escalate(label string, to Status) {
	i, ok := t.index[label]
	if !ok {
		return
	}
	if t.artifacts[i].Status.rank() < to.rank() {
		t.artifacts[i].Status = to
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	arts := make([]Artifact, len(t.artifacts))
	copy(arts, t.artifacts)
	return Snapshot{Percent: t.percent, Phase: t.phase, Artifacts: arts}
}

// Percent converts a 0..1 fraction to a whole percentage in 0..100.
func Percent(fraction float64) int {
	if math.IsNaN(fraction) {
		return 0
	}
	p := int(math.Round(fraction * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

const (
	minLabelLen    = 3
	maxFallbackLen = 40
)

// ExtractLabel guesses a file name from a free-text progress line.
//
// Tokens are scanned from the end. The last segment of a path-like token
// wins first, then a dotted token that is not an ellipsis. When neither
// matches ok is false and label is the text shortened for display; it must
// not be used as an artifact identity.
func ExtractLabel(text string) (label string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}

	for i := len(fields) - 1; i >= 0; i-- {
		tok := fields[i]
		if !strings.ContainsAny(tok, `/\`) {
			continue
		}
		seg := tok[strings.LastIndexAny(tok, `/\`)+1:]
		if utf8.RuneCountInString(seg) >= minLabelLen {
			return seg, true
		}
	}

	for i := len(fields) - 1; i >= 0; i-- {
		tok := fields[i]
		if !strings.Contains(tok, ".") || strings.HasSuffix(tok, "...") || strings.HasSuffix(tok, "…") {
			continue
		}
		if utf8.RuneCountInString(tok) >= minLabelLen {
			return tok, true
		}
	}

	return ShortPhase(text), false
}

// ShortPhase trims text to a single display line of at most 40 runes.
func ShortPhase(text string) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= maxFallbackLen {
		return text
	}
	return string(r[:maxFallbackLen]) + "…"
}
