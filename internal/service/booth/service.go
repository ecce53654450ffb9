// Package booth implements the business logic of the portrait booth: one
// photo in, six guitars picked, a bounded-concurrency batch of portraits
// out, and a collage album at the end.
package booth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/stagefox/rockstar-booth/internal/generator"
	"github.com/stagefox/rockstar-booth/internal/model"
	"github.com/stagefox/rockstar-booth/internal/runner"
	"github.com/stagefox/rockstar-booth/internal/session"
)

var (
	ErrBatchIncomplete = errors.New("album requires every portrait to be done")
	ErrItemNotFound    = errors.New("item not found")
	ErrItemPending     = errors.New("item is already being generated")
	ErrItemNotDone     = errors.New("item has no result")
	ErrNoAlbum         = errors.New("album has not been assembled")
	ErrNoPhoto         = errors.New("no photo uploaded")
)

// fileStorage defines the interface for storing files (e.g., local filesystem or MinIO).
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
}

// portraitGenerator defines the opaque remote generation call.
type portraitGenerator interface {
	Generate(ctx context.Context, photo []byte, mimeType, key string) (generator.Result, error)
}

// albumAssembler defines the interface for composing the final collage.
type albumAssembler interface {
	Assemble(ctx context.Context, name string, keys []string, results map[string]string) (string, error)
}

// eventProducer defines the interface for publishing generation events
// to a message broker (e.g., Kafka).
type eventProducer interface {
	Produce(ctx context.Context, ev model.GenerationEvent) error
}

// historyArchive defines the interface for reading archived events.
type historyArchive interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.GenerationEvent, error)
}

// Service wires the session state machine to storage, the generator and
// the batch runner.
type Service struct {
	sessions  *session.Store
	storage   fileStorage
	generator portraitGenerator
	assembler albumAssembler
	producer  eventProducer
	history   historyArchive
	workers   int
}

// NewService creates a new Service.
func NewService(
	sessions *session.Store,
	fs fileStorage,
	g portraitGenerator,
	a albumAssembler,
	p eventProducer,
	h historyArchive,
	workers int,
) *Service {
	return &Service{
		sessions:  sessions,
		storage:   fs,
		generator: g,
		assembler: a,
		producer:  p,
		history:   h,
		workers:   workers,
	}
}

// CreateSession starts a fresh booth session in the selecting phase.
func (s *Service) CreateSession() session.Snapshot {
	return s.sessions.Create().Snapshot()
}

// Session returns the current snapshot of a session.
func (s *Service) Session(id uuid.UUID) (session.Snapshot, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return session.Snapshot{}, err
	}

	return sess.Snapshot(), nil
}

// Guitars returns the selectable guitar catalog.
func (s *Service) Guitars() []model.Guitar {
	return model.Catalog
}

// SetGuitars replaces a session's guitar selection.
func (s *Service) SetGuitars(id uuid.UUID, names []string) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}

	return sess.SetGuitars(names)
}

// Confirm locks in the six-guitar selection.
func (s *Service) Confirm(id uuid.UUID) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}

	return sess.Confirm()
}

// UploadPhoto stores the source photo and attaches it to the session.
// Replacing a previous photo drops all prior results.
func (s *Service) UploadPhoto(ctx context.Context, id uuid.UUID, filename string, file io.Reader) (string, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}

	dst, err := s.storage.Save(ctx, "uploads", id.String()+ext, file)
	if err != nil {
		return "", fmt.Errorf("upload: failed to save photo: %w", err)
	}

	if err := sess.AttachPhoto(dst); err != nil {
		return "", err
	}

	return dst, nil
}

// StartGeneration launches the batch run in the background. The run is
// detached from the HTTP request: its lifetime is controlled by the
// session's cancel function, not by the caller's context.
func (s *Service) StartGeneration(ctx context.Context, id uuid.UUID) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}

	photo, mimeType, err := s.loadPhoto(ctx, sess)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	keys, err := sess.BeginGeneration(cancel)
	if err != nil {
		cancel()
		return err
	}

	r := runner.New(s.workers, s.generateFunc(sess, photo, mimeType), s.newSink(sess))

	go func() {
		defer cancel()
		r.Run(runCtx, keys)

		canceled := runCtx.Err() != nil
		sess.FinishGeneration(canceled)

		zlog.Logger.Info().
			Str("session", sess.ID().String()).
			Bool("canceled", canceled).
			Msg("batch finished")
	}()

	return nil
}

// CancelGeneration stops the running batch from pulling new items.
// Queued items are drained to an error status; in-flight calls finish.
func (s *Service) CancelGeneration(id uuid.UUID) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}

	return sess.CancelGeneration()
}

// RegenerateItem re-runs a single terminal item. A key that is already
// pending is refused, which keeps at most one request in flight per key.
func (s *Service) RegenerateItem(ctx context.Context, id uuid.UUID, key string) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}

	item, ok := sess.Item(key)
	if !ok {
		return ErrItemNotFound
	}
	if item.Status == model.StatusPending {
		return ErrItemPending
	}

	photo, mimeType, err := s.loadPhoto(ctx, sess)
	if err != nil {
		return err
	}

	r := runner.New(1, s.generateFunc(sess, photo, mimeType), s.newSink(sess))

	go func() {
		// The pending check inside Regenerate is the authoritative guard;
		// a concurrent regenerate of the same key degrades to a no-op here.
		if !r.Regenerate(context.Background(), key) {
			zlog.Logger.Warn().
				Str("session", sess.ID().String()).
				Str("key", key).
				Msg("regenerate skipped, item already pending")
		}
	}()

	return nil
}

// AssembleAlbum composes the collage once every item is done.
func (s *Service) AssembleAlbum(ctx context.Context, id uuid.UUID) (string, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return "", err
	}

	results, complete := sess.DoneItems()
	if !complete {
		return "", ErrBatchIncomplete
	}

	keys := sess.Snapshot().Guitars

	dst, err := s.assembler.Assemble(ctx, id.String(), keys, results)
	if err != nil {
		return "", fmt.Errorf("assemble: %w", err)
	}

	sess.SetAlbum(dst)

	return dst, nil
}

// Album returns the assembled album bytes and a download filename.
func (s *Service) Album(ctx context.Context, id uuid.UUID) (io.ReadCloser, string, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, "", err
	}

	path := sess.AlbumPath()
	if path == "" {
		return nil, "", ErrNoAlbum
	}

	reader, err := s.storage.Load(ctx, path)
	if err != nil {
		return nil, "", fmt.Errorf("album: failed to load: %w", err)
	}

	return reader, "rockstar-album.jpg", nil
}

// ItemImage returns the generated portrait bytes for one done item along
// with the content type derived from the stored object's extension.
func (s *Service) ItemImage(ctx context.Context, id uuid.UUID, key string) (io.ReadCloser, string, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, "", err
	}

	item, ok := sess.Item(key)
	if !ok {
		return nil, "", ErrItemNotFound
	}
	if item.Status != model.StatusDone {
		return nil, "", ErrItemNotDone
	}

	reader, err := s.storage.Load(ctx, item.ResultPath)
	if err != nil {
		return nil, "", fmt.Errorf("item image: failed to load: %w", err)
	}

	return reader, mimeFromPath(item.ResultPath), nil
}

// History returns the archived generation events for a session.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]model.GenerationEvent, error) {
	return s.history.ListBySession(ctx, id)
}

// loadPhoto reads the session's source photo into memory once; the bytes
// are then shared read-only by every worker of the batch.
func (s *Service) loadPhoto(ctx context.Context, sess *session.Session) ([]byte, string, error) {
	path := sess.PhotoPath()
	if path == "" {
		return nil, "", ErrNoPhoto
	}

	reader, err := s.storage.Load(ctx, path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load photo: %w", err)
	}
	defer reader.Close()

	photo, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read photo: %w", err)
	}

	return photo, mimeFromPath(path), nil
}

// generateFunc builds the per-item remote call: generate, then persist
// the portrait under the session's directory.
func (s *Service) generateFunc(sess *session.Session, photo []byte, mimeType string) runner.GenerateFunc {
	return func(ctx context.Context, key string) (string, error) {
		res, err := s.generator.Generate(ctx, photo, mimeType, key)
		if err != nil {
			return "", err
		}

		filename := fmt.Sprintf("%s-%s%s", sess.ID(), slug(key), extFromMime(res.MimeType))

		dst, err := s.storage.Save(ctx, "portraits", filename, bytes.NewReader(res.Data))
		if err != nil {
			return "", fmt.Errorf("failed to save portrait: %w", err)
		}

		return dst, nil
	}
}

// eventSink forwards status updates to the session's item slots and
// publishes a terminal event for each completed attempt.
type eventSink struct {
	sess     *session.Session
	producer eventProducer

	mu      sync.Mutex
	started map[string]time.Time
}

func (s *Service) newSink(sess *session.Session) *eventSink {
	return &eventSink{
		sess:     sess,
		producer: s.producer,
		started:  make(map[string]time.Time),
	}
}

func (es *eventSink) MarkPending(keys []string) {
	now := time.Now()
	es.mu.Lock()
	for _, key := range keys {
		es.started[key] = now
	}
	es.mu.Unlock()

	es.sess.MarkPending(keys)
}

func (es *eventSink) TryMarkPending(key string) bool {
	if !es.sess.TryMarkPending(key) {
		return false
	}

	es.mu.Lock()
	es.started[key] = time.Now()
	es.mu.Unlock()

	return true
}

func (es *eventSink) MarkDone(key, resultPath string) {
	es.sess.MarkDone(key, resultPath)
	es.publish(key, model.StatusDone, resultPath, "")
}

func (es *eventSink) MarkError(key, message string) {
	es.sess.MarkError(key, message)
	es.publish(key, model.StatusError, "", message)
}

func (es *eventSink) publish(key string, status model.ItemStatus, resultPath, message string) {
	es.mu.Lock()
	started, ok := es.started[key]
	es.mu.Unlock()

	var duration int64
	if ok {
		duration = time.Since(started).Milliseconds()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev := model.GenerationEvent{
		SessionID:  es.sess.ID(),
		Key:        key,
		Status:     status,
		ResultPath: resultPath,
		ErrMessage: message,
		Duration:   duration,
		OccurredAt: time.Now(),
	}

	if err := es.producer.Produce(ctx, ev); err != nil {
		zlog.Logger.Err(err).Str("key", key).Msg("failed to publish generation event")
	}
}

func slug(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), " ", "-")
}

func mimeFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func extFromMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
