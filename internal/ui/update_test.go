package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"kiln/internal/chatstore"
	"kiln/internal/db"
	"kiln/internal/engine"
	"kiln/internal/kv"
	"kiln/internal/models"
	"kiln/internal/progress"
	"kiln/internal/session"
)

type stubHandle struct {
	deltas []string
	err    error
	seen   []models.Message
}

func (h *stubHandle) Stream(_ context.Context, msgs []models.Message, onDelta func(string)) error {
	h.seen = msgs
	for _, d := range h.deltas {
		onDelta(d)
	}
	return h.err
}

func (h *stubHandle) Close(context.Context) error { return nil }

type stubRuntime struct {
	handle  *stubHandle
	err     error
	release chan struct{} // when set, Create waits for it
}

func (r *stubRuntime) Create(_ context.Context, _ string, onProgress func(progress.Event)) (engine.Handle, error) {
	onProgress(progress.Event{Progress: 0.5, Text: "Downloading"})
	if r.release != nil {
		<-r.release
	}
	if r.err != nil {
		return nil, r.err
	}
	onProgress(progress.Event{Progress: 1, Text: "Ready"})
	return r.handle, nil
}

func newTestModel(t *testing.T, rt *stubRuntime) *Model {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	store := kv.NewSQLite(conn, "chats")
	chats := chatstore.New(store, "tinyllama")
	t.Cleanup(func() {
		chats.Close()
		store.Close()
	})

	m := InitialModel(context.Background(), Deps{
		Session: session.New(rt),
		Chats:   chats,
	})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return &m
}

// drain runs cmd and every command it batches, returning the messages.
func drain(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	switch msg := msg.(type) {
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			out = append(out, drain(c)...)
		}
		return out
	case nil:
		return nil
	default:
		return []tea.Msg{msg}
	}
}

// feed applies every non-tick message produced by cmd.
func feed(m *Model, cmd tea.Cmd) {
	for _, msg := range drain(cmd) {
		switch msg.(type) {
		case LoadedMsg, UnloadedMsg, GeneratedMsg, TranscriptsMsg, ModelSwitchedMsg, CachesClearedMsg, CatalogMsg:
			m.Update(msg)
		}
	}
}

func key(t tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: t} }

func load(t *testing.T, m *Model) {
	t.Helper()
	_, cmd := m.Update(key(tea.KeyCtrlL))
	if m.State != models.StateLoading {
		t.Fatalf("State after Ctrl+L = %v, want loading", m.State)
	}
	feed(m, cmd)
	if m.State != models.StateReady {
		t.Fatalf("State after load = %v, want ready (err %v)", m.State, m.Err)
	}
}

func TestSubmitIgnoredUntilReady(t *testing.T) {
	m := newTestModel(t, &stubRuntime{handle: &stubHandle{}})

	m.TextInput.SetValue("hello")
	_, cmd := m.Update(key(tea.KeyEnter))
	if cmd != nil {
		t.Error("submit produced a command while idle")
	}
	if n := len(m.Chats.Messages()); n != 0 {
		t.Errorf("transcript has %d messages, want 0", n)
	}
}

func TestLoadAndGenerate(t *testing.T) {
	h := &stubHandle{deltas: []string{"Hi", " there"}}
	m := newTestModel(t, &stubRuntime{handle: h})
	load(t, m)

	m.TextInput.SetValue("hello")
	_, cmd := m.Update(key(tea.KeyEnter))
	if !m.Streaming || m.StreamingID == "" {
		t.Fatal("not streaming after submit")
	}
	if m.TextInput.Value() != "" {
		t.Error("input not cleared")
	}

	// A second submit while streaming is ignored.
	m.TextInput.SetValue("again")
	if _, c := m.Update(key(tea.KeyEnter)); c != nil {
		t.Error("submit accepted while streaming")
	}
	m.TextInput.Reset()

	feed(m, cmd)

	msgs := m.Chats.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("user turn = %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "Hi there" {
		t.Errorf("assistant turn = %+v", msgs[1])
	}
	if len(h.seen) != 1 || h.seen[0].Content != "hello" {
		t.Errorf("history sent = %+v, want only the user turn", h.seen)
	}
	if m.Streaming || m.StreamingID != "" {
		t.Error("still streaming after GeneratedMsg")
	}
	if m.Stats.Tokens != 2 {
		t.Errorf("Stats.Tokens = %d, want 2", m.Stats.Tokens)
	}
	if v := m.View(); v == "" {
		t.Error("empty view")
	}
}

func TestGenerateErrorIsAppended(t *testing.T) {
	h := &stubHandle{deltas: []string{"Par"}, err: errors.New("boom")}
	m := newTestModel(t, &stubRuntime{handle: h})
	load(t, m)

	m.TextInput.SetValue("hello")
	_, cmd := m.Update(key(tea.KeyEnter))
	feed(m, cmd)

	msgs := m.Chats.Messages()
	if got := msgs[len(msgs)-1].Content; !strings.HasPrefix(got, "Par\n[Error] ") || !strings.Contains(got, "boom") {
		t.Errorf("assistant turn = %q", got)
	}
}

func TestLoadFailureReturnsToIdle(t *testing.T) {
	m := newTestModel(t, &stubRuntime{err: errors.New("no space left")})

	_, cmd := m.Update(key(tea.KeyCtrlL))
	feed(m, cmd)

	if m.State != models.StateIdle {
		t.Errorf("State = %v, want idle", m.State)
	}
	if m.Err == nil || !strings.Contains(m.Err.Error(), "no space left") {
		t.Errorf("Err = %v", m.Err)
	}
}

func TestModelSelectorDisabledWhileReady(t *testing.T) {
	m := newTestModel(t, &stubRuntime{handle: &stubHandle{}})
	load(t, m)

	m.Update(key(tea.KeyCtrlB))
	if m.ModelSelectorOpen {
		t.Error("model selector opened while a model is loaded")
	}
	if m.Notice == "" {
		t.Error("no notice shown")
	}

	_, cmd := m.Update(key(tea.KeyCtrlU))
	feed(m, cmd)
	if m.State != models.StateIdle {
		t.Fatalf("State after unload = %v", m.State)
	}
	m.Update(key(tea.KeyCtrlB))
	if !m.ModelSelectorOpen {
		t.Error("model selector did not open when idle")
	}
}

func TestModelSelectorSwitchesTranscript(t *testing.T) {
	m := newTestModel(t, &stubRuntime{handle: &stubHandle{}})
	m.Chats.AppendUser("saved for tinyllama")

	m.Update(CatalogMsg{Models: []models.ModelInfo{
		{ID: "tinyllama", Installed: true},
		{ID: "phi3:mini"},
	}})
	m.Update(key(tea.KeyCtrlB))
	m.Update(key(tea.KeyDown))
	_, cmd := m.Update(key(tea.KeyEnter))
	feed(m, cmd)

	if m.CurrentModel != "phi3:mini" {
		t.Fatalf("CurrentModel = %q", m.CurrentModel)
	}
	if n := len(m.Chats.Messages()); n != 0 {
		t.Errorf("phi3:mini transcript has %d messages, want 0", n)
	}

	// Back through the saved transcripts modal.
	_, cmd = m.Update(key(tea.KeyCtrlH))
	feed(m, cmd)
	if len(m.HistoryChats) != 1 || m.HistoryChats[0].ModelID != "tinyllama" {
		t.Fatalf("HistoryChats = %+v", m.HistoryChats)
	}
	_, cmd = m.Update(key(tea.KeyEnter))
	feed(m, cmd)
	if m.CurrentModel != "tinyllama" || m.HistoryOpen {
		t.Errorf("CurrentModel = %q, HistoryOpen = %v", m.CurrentModel, m.HistoryOpen)
	}
	msgs := m.Chats.Messages()
	if len(msgs) != 1 || msgs[0].Content != "saved for tinyllama" {
		t.Errorf("restored transcript = %+v", msgs)
	}
}

func TestClearTranscript(t *testing.T) {
	m := newTestModel(t, &stubRuntime{handle: &stubHandle{}})
	m.Chats.AppendUser("one")

	m.Update(key(tea.KeyCtrlN))
	if n := len(m.Chats.Messages()); n != 0 {
		t.Errorf("transcript has %d messages after Ctrl+N", n)
	}
}

func TestUnloadDuringLoadKeepsIdlePlaceholder(t *testing.T) {
	rt := &stubRuntime{handle: &stubHandle{}, release: make(chan struct{})}
	m := newTestModel(t, rt)
	placeholder := m.TextInput.Placeholder

	_, cmd := m.Update(key(tea.KeyCtrlL))
	loaded := make(chan tea.Msg, 1)
	go func() { loaded <- cmd() }()

	deadline := time.Now().Add(2 * time.Second)
	for m.Session.State() != models.StateLoading {
		if time.Now().After(deadline) {
			t.Fatal("load never started")
		}
		time.Sleep(time.Millisecond)
	}

	_, unload := m.Update(key(tea.KeyCtrlU))
	feed(m, unload)
	close(rt.release)
	m.Update(<-loaded)

	if m.State != models.StateIdle {
		t.Errorf("State = %v, want idle", m.State)
	}
	if m.Err != nil {
		t.Errorf("Err = %v, want nil", m.Err)
	}
	if m.TextInput.Placeholder != placeholder {
		t.Errorf("Placeholder = %q, want %q", m.TextInput.Placeholder, placeholder)
	}
}
