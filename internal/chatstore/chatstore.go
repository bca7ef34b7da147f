// Package chatstore keeps the transcript of the current model in memory and
// mirrors it to a kv.Store in the background.
package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kiln/internal/kv"
	"kiln/internal/logger"
	"kiln/internal/models"
)

// KeyPrefix prefixes every transcript key.
const KeyPrefix = "chat:"

// Key is the storage key of the transcript for modelID.
func Key(modelID string) string {
	return KeyPrefix + modelID
}

// Record is the persisted form of one transcript.
type Record struct {
	ID        string           `json:"id"`
	ModelID   string           `json:"modelId"`
	Messages  []models.Message `json:"messages"`
	UpdatedAt int64            `json:"updatedAt"` // unix millis
}

type write struct {
	key    string
	record Record
	done   chan struct{} // non-nil for a sync marker
}

// Store is the transcript of one model at a time. In-memory state is
// authoritative; writes are queued to a single writer goroutine and their
// failures are logged, never returned.
type Store struct {
	kv  kv.Store
	log *slog.Logger

	mu       sync.Mutex
	modelID  string
	messages []models.Message
	switches uint64

	sendMu  sync.RWMutex
	closed  bool
	queue   chan write
	stopped chan struct{}
}

// New returns a store bound to modelID with an empty transcript. Call
// SetModel to load a saved one.
func New(store kv.Store, modelID string) *Store {
	s := &Store{
		kv:      store,
		log:     logger.With("kiln.chatstore"),
		modelID: modelID,
		queue:   make(chan write, 64),
		stopped: make(chan struct{}),
	}
	go s.writer()
	return s
}

// Open is New followed by loading the saved transcript of modelID.
func Open(ctx context.Context, store kv.Store, modelID string) (*Store, error) {
	s := New(store, modelID)
	if err := s.SetModel(ctx, modelID); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Store) ModelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelID
}

// Messages returns a copy of the transcript.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) AppendUser(text string) models.Message {
	return s.append(models.RoleUser, text)
}

// AppendAssistant adds an assistant message, usually an empty placeholder
// that UpdateAssistant fills while the reply streams.
func (s *Store) AppendAssistant(text string) models.Message {
	return s.append(models.RoleAssistant, text)
}

func (s *Store) append(role, text string) models.Message {
	msg := models.Message{ID: uuid.NewString(), Role: role, Content: text}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	w := s.snapshotLocked()
	s.mu.Unlock()

	s.enqueue(w)
	return msg
}

// UpdateAssistant replaces the content of message id with transform(old).
// Unknown ids are ignored.
func (s *Store) UpdateAssistant(id string, transform func(string) string) {
	s.mu.Lock()
	idx := -1
	for i := range s.messages {
		if s.messages[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.messages[idx].Content = transform(s.messages[idx].Content)
	w := s.snapshotLocked()
	s.mu.Unlock()

	s.enqueue(w)
}

// Clear empties the transcript and persists the empty record.
func (s *Store) Clear() {
	s.mu.Lock()
	s.messages = nil
	w := s.snapshotLocked()
	s.mu.Unlock()

	s.enqueue(w)
}

// SetModel switches to modelID: pending writes are flushed, the saved
// transcript of modelID is read and then swapped in together with the id.
// Until the swap, edits keep targeting the previous model. A missing record
// yields an empty list. On a load error the store is still switched, with
// an empty list, and the error is returned.
func (s *Store) SetModel(ctx context.Context, modelID string) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.switches++
	gen := s.switches
	s.mu.Unlock()

	rec, err := s.load(ctx, Key(modelID))
	var msgs []models.Message
	switch {
	case errors.Is(err, kv.ErrNotFound):
		err = nil
	case err != nil:
		s.log.Debug("loading transcript failed", "model", modelID, "error", err)
		err = fmt.Errorf("loading transcript for %s: %w", modelID, err)
	default:
		msgs = rec.Messages
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A later SetModel owns the store now.
	if gen == s.switches {
		s.modelID = modelID
		s.messages = msgs
	}
	return err
}

func (s *Store) load(ctx context.Context, key string) (Record, error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding %s: %w", key, err)
	}
	return rec, nil
}

// Sync blocks until every write queued before the call was attempted.
func (s *Store) Sync(ctx context.Context) error {
	done := make(chan struct{})
	s.sendMu.RLock()
	if s.closed {
		s.sendMu.RUnlock()
		return nil
	}
	select {
	case s.queue <- write{done: done}:
	case <-ctx.Done():
		s.sendMu.RUnlock()
		return ctx.Err()
	}
	s.sendMu.RUnlock()

	select {
	case <-done:
		return nil
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending writes and stops the writer. The kv store is left
// open.
func (s *Store) Close() {
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.sendMu.Unlock()
	<-s.stopped
}

// ListTranscripts summarizes every saved transcript, newest first.
func (s *Store) ListTranscripts(ctx context.Context) ([]models.TranscriptSummary, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}

	var out []models.TranscriptSummary
	for _, k := range keys {
		if !strings.HasPrefix(k, KeyPrefix) {
			continue
		}
		rec, err := s.load(ctx, k)
		if err != nil {
			s.log.Debug("skipping unreadable transcript", "key", k, "error", err)
			continue
		}
		sum := models.TranscriptSummary{
			ModelID:      rec.ModelID,
			MessageCount: len(rec.Messages),
			UpdatedAt:    time.UnixMilli(rec.UpdatedAt),
		}
		if sum.ModelID == "" {
			sum.ModelID = strings.TrimPrefix(k, KeyPrefix)
		}
		for i := len(rec.Messages) - 1; i >= 0; i-- {
			if rec.Messages[i].Role == models.RoleUser {
				sum.LastUserPrompt = rec.Messages[i].Content
				break
			}
		}
		out = append(out, sum)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) snapshotLocked() write {
	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	key := Key(s.modelID)
	return write{
		key: key,
		record: Record{
			ID:        key,
			ModelID:   s.modelID,
			Messages:  msgs,
			UpdatedAt: time.Now().UnixMilli(),
		},
	}
}

// enqueue hands w to the writer. Writes after Close are dropped.
func (s *Store) enqueue(w write) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return
	}
	s.queue <- w
}

func (s *Store) writer() {
	defer close(s.stopped)

	for w := range s.queue {
		if w.done != nil {
			close(w.done)
			continue
		}

		// Coalesce: keep draining while the next snapshot targets the same key.
		var pending []write
	drain:
		for {
			select {
			case next, ok := <-s.queue:
				if !ok {
					break drain
				}
				if next.done == nil && next.key == w.key {
					w = next
					continue
				}
				pending = append(pending, next)
				break drain
			default:
				break drain
			}
		}

		s.persist(w)
		for _, p := range pending {
			if p.done != nil {
				close(p.done)
				continue
			}
			s.persist(p)
		}
	}
}

func (s *Store) persist(w write) {
	raw, err := json.Marshal(w.record)
	if err != nil {
		s.log.Debug("encoding transcript failed", "key", w.key, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.kv.Put(ctx, w.key, raw); err != nil {
		s.log.Debug("persisting transcript failed", "key", w.key, "error", err)
	}
}
