// Package session holds the in-memory booth sessions and their state
// machine. A session walks selecting -> ready -> uploaded -> generating
// -> results; replacing the photo drops accumulated results and returns
// the session to uploaded. Item status slots are written per key by the
// batch workers and read concurrently by the HTTP layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagefox/rockstar-booth/internal/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidPhase    = errors.New("operation not allowed in current phase")
	ErrSelectionSize   = errors.New("exactly six guitars must be selected")
	ErrUnknownGuitar   = errors.New("guitar is not in the catalog")
	ErrDuplicateGuitar = errors.New("guitar selected twice")
	ErrNotGenerating   = errors.New("no generation in progress")
)

// Session is a single user's booth run. All fields are guarded by mu;
// access goes through methods so worker goroutines and HTTP handlers
// never race on a slot.
type Session struct {
	mu sync.RWMutex

	id        uuid.UUID
	phase     model.Phase
	guitars   []string // ordered selection, frozen once generation begins
	items     map[string]*model.Item
	photoPath string
	albumPath string
	createdAt time.Time

	cancel context.CancelFunc // set while generating
}

// Snapshot is a read-only view of a session for the presentation layer.
type Snapshot struct {
	ID        uuid.UUID    `json:"id"`
	Phase     model.Phase  `json:"phase"`
	Guitars   []string     `json:"guitars"`
	Items     []model.Item `json:"items"`
	HasPhoto  bool         `json:"has_photo"`
	AlbumPath string       `json:"album_path,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Store keeps live sessions in memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[uuid.UUID]*Session)}
}

// Create registers a new session in the selecting phase.
func (s *Store) Create() *Session {
	sess := &Session{
		id:        uuid.New(),
		phase:     model.PhaseSelecting,
		items:     make(map[string]*model.Item),
		createdAt: time.Now(),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	return sess
}

// Get returns the session with the given ID.
func (s *Store) Get(id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return sess, nil
}

// Delete removes a session from the store.
func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// SetGuitars replaces the current selection. Only valid while the
// session is still selecting; the selection must be unique, within the
// batch limit and drawn from the catalog.
func (s *Session) SetGuitars(names []string) error {
	if len(names) > model.MaxBatchSize {
		return fmt.Errorf("%w: got %d", ErrSelectionSize, len(names))
	}

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := model.GuitarByName(name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownGuitar, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateGuitar, name)
		}
		seen[name] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != model.PhaseSelecting {
		return fmt.Errorf("%w: %s", ErrInvalidPhase, s.phase)
	}

	s.guitars = append([]string(nil), names...)

	return nil
}

// Confirm locks in the selection. Valid only with exactly six guitars.
func (s *Session) Confirm() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != model.PhaseSelecting {
		return fmt.Errorf("%w: %s", ErrInvalidPhase, s.phase)
	}
	if len(s.guitars) != model.MaxBatchSize {
		return fmt.Errorf("%w: got %d", ErrSelectionSize, len(s.guitars))
	}

	s.phase = model.PhaseReady

	return nil
}

// AttachPhoto sets (or replaces) the source photo. Replacing the photo
// invalidates every prior result, so the item map and album are cleared
// and the session returns to the uploaded phase.
func (s *Session) AttachPhoto(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case model.PhaseReady, model.PhaseUploaded, model.PhaseResults:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidPhase, s.phase)
	}

	s.photoPath = path
	s.albumPath = ""
	s.items = make(map[string]*model.Item)
	s.phase = model.PhaseUploaded

	return nil
}

// PhotoPath returns the stored source photo path, empty if none.
func (s *Session) PhotoPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.photoPath
}

// BeginGeneration moves the session into the generating phase, freezes
// the batch key set and stores the batch cancel function. It returns the
// frozen keys in selection order.
func (s *Session) BeginGeneration(cancel context.CancelFunc) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != model.PhaseUploaded {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPhase, s.phase)
	}

	s.phase = model.PhaseGenerating
	s.cancel = cancel
	s.albumPath = ""

	return append([]string(nil), s.guitars...), nil
}

// FinishGeneration leaves the generating phase. A canceled run returns
// to uploaded so the whole batch can be restarted; a completed run shows
// its results.
func (s *Session) FinishGeneration(canceled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != model.PhaseGenerating {
		return
	}

	s.cancel = nil
	if canceled {
		s.phase = model.PhaseUploaded
		return
	}
	s.phase = model.PhaseResults
}

// CancelGeneration signals the running batch to stop pulling new items.
func (s *Session) CancelGeneration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != model.PhaseGenerating || s.cancel == nil {
		return ErrNotGenerating
	}

	s.cancel()

	return nil
}

// MarkPending seeds a pending slot for every key in one critical
// section, so observers never see a started batch with missing keys.
func (s *Session) MarkPending(keys []string) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.items[key] = &model.Item{Key: key, Status: model.StatusPending, UpdatedAt: now}
	}
}

// MarkDone records a successful result for one key.
func (s *Session) MarkDone(key, resultPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = &model.Item{
		Key:        key,
		Status:     model.StatusDone,
		ResultPath: resultPath,
		UpdatedAt:  time.Now(),
	}
}

// MarkError records a failed attempt for one key.
func (s *Session) MarkError(key, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = &model.Item{
		Key:        key,
		Status:     model.StatusError,
		ErrMessage: message,
		UpdatedAt:  time.Now(),
	}
}

// TryMarkPending atomically resets a terminal item back to pending. It
// refuses unknown keys and keys that are already pending, which is what
// keeps a single key from ever running twice at once.
func (s *Session) TryMarkPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok || !item.Status.Terminal() {
		return false
	}

	s.items[key] = &model.Item{Key: key, Status: model.StatusPending, UpdatedAt: time.Now()}

	return true
}

// Item returns a copy of one item's current state.
func (s *Session) Item(key string) (model.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[key]
	if !ok {
		return model.Item{}, false
	}

	return *item, true
}

// DoneItems returns key -> result path for the frozen batch when every
// item is done. The boolean is false as soon as any item is missing or
// not done, and always false for a session with no selection yet.
func (s *Session) DoneItems() (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.guitars) == 0 {
		return nil, false
	}

	results := make(map[string]string, len(s.guitars))
	for _, key := range s.guitars {
		item, ok := s.items[key]
		if !ok || item.Status != model.StatusDone {
			return nil, false
		}
		results[key] = item.ResultPath
	}

	return results, true
}

// SetAlbum records the assembled album path.
func (s *Session) SetAlbum(path string) {
	s.mu.Lock()
	s.albumPath = path
	s.mu.Unlock()
}

// AlbumPath returns the assembled album path, empty if none.
func (s *Session) AlbumPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.albumPath
}

// Snapshot returns a consistent view of the session, items ordered by
// the original selection.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]model.Item, 0, len(s.guitars))
	for _, key := range s.guitars {
		if item, ok := s.items[key]; ok {
			items = append(items, *item)
		}
	}

	return Snapshot{
		ID:        s.id,
		Phase:     s.phase,
		Guitars:   append([]string(nil), s.guitars...),
		Items:     items,
		HasPhoto:  s.photoPath != "",
		AlbumPath: s.albumPath,
		CreatedAt: s.createdAt,
	}
}

// Phase returns the current phase.
func (s *Session) Phase() model.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.phase
}
