package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/stagefox/rockstar-booth/internal/api/respond"
	"github.com/stagefox/rockstar-booth/internal/model"
	"github.com/stagefox/rockstar-booth/internal/service/booth"
	sessionstore "github.com/stagefox/rockstar-booth/internal/session"
)

// service defines the interface for booth session operations.
type service interface {
	CreateSession() sessionstore.Snapshot
	Session(id uuid.UUID) (sessionstore.Snapshot, error)
	Guitars() []model.Guitar
	SetGuitars(id uuid.UUID, names []string) error
	Confirm(id uuid.UUID) error
	UploadPhoto(ctx context.Context, id uuid.UUID, filename string, file io.Reader) (string, error)
	StartGeneration(ctx context.Context, id uuid.UUID) error
	CancelGeneration(id uuid.UUID) error
	RegenerateItem(ctx context.Context, id uuid.UUID, key string) error
	AssembleAlbum(ctx context.Context, id uuid.UUID) (string, error)
	Album(ctx context.Context, id uuid.UUID) (io.ReadCloser, string, error)
	ItemImage(ctx context.Context, id uuid.UUID, key string) (io.ReadCloser, string, error)
	History(ctx context.Context, id uuid.UUID) ([]model.GenerationEvent, error)
}

// Handler provides HTTP handlers for booth session endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// SelectionRequest carries the guitar names chosen by the client.
type SelectionRequest struct {
	Guitars []string `json:"guitars"`
}

// Create opens a new booth session.
func (h *Handler) Create(c *ginext.Context) {
	respond.Created(c, h.service.CreateSession())
}

// Guitars returns the selectable guitar catalog.
func (h *Handler) Guitars(c *ginext.Context) {
	respond.OK(c, h.service.Guitars())
}

// Get returns the session snapshot: phase, selection and per-item status.
func (h *Handler) Get(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	snap, err := h.service.Session(id)
	if err != nil {
		h.fail(c, err)
		return
	}

	respond.OK(c, snap)
}

// SetGuitars replaces the session's guitar selection.
func (h *Handler) SetGuitars(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid body: %v", err))
		return
	}

	if err := h.service.SetGuitars(id, req.Guitars); err != nil {
		h.fail(c, err)
		return
	}

	respond.OK(c, req.Guitars)
}

// Confirm locks in the selection; valid only with exactly six guitars.
func (h *Handler) Confirm(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.service.Confirm(id); err != nil {
		h.fail(c, err)
		return
	}

	snap, err := h.service.Session(id)
	if err != nil {
		h.fail(c, err)
		return
	}

	respond.OK(c, snap)
}

// UploadPhoto handles the multipart photo upload. Replacing the photo
// invalidates every prior portrait.
func (h *Handler) UploadPhoto(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	// Parse the multipart form with a 10MB max memory limit.
	if err := c.Request.ParseMultipartForm(10 << 20); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return
	}

	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to upload the file")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("failed to retrieve the file"))
		return
	}
	defer file.Close()

	zlog.Logger.Printf("uploaded photo: %v (%v bytes)", header.Filename, header.Size)

	dst, err := h.service.UploadPhoto(c.Request.Context(), id, header.Filename, file)
	if err != nil {
		h.fail(c, err)
		return
	}

	respond.OK(c, map[string]interface{}{
		"filename": header.Filename,
		"path":     dst,
	})
}

// Generate starts the batch run in the background.
func (h *Handler) Generate(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.service.StartGeneration(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	respond.Accepted(c, map[string]interface{}{"session": id})
}

// CancelGenerate stops the running batch from pulling new items.
func (h *Handler) CancelGenerate(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.service.CancelGeneration(id); err != nil {
		h.fail(c, err)
		return
	}

	respond.Accepted(c, map[string]interface{}{"session": id})
}

// Regenerate retries a single terminal item.
func (h *Handler) Regenerate(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	key := c.Param("key")

	if err := h.service.RegenerateItem(c.Request.Context(), id, key); err != nil {
		h.fail(c, err)
		return
	}

	respond.Accepted(c, map[string]interface{}{"session": id, "key": key})
}

// ItemImage serves the generated portrait bytes for one done item.
func (h *Handler) ItemImage(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	key := c.Param("key")

	reader, contentType, err := h.service.ItemImage(c.Request.Context(), id, key)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer reader.Close()

	// Disable browser caching so a regenerated portrait shows up.
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")

	respond.Image(c, http.StatusOK, contentType, reader)
}

// AssembleAlbum composes the collage; rejected until every item is done.
func (h *Handler) AssembleAlbum(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	dst, err := h.service.AssembleAlbum(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	respond.Created(c, map[string]interface{}{"path": dst})
}

// DownloadAlbum streams the assembled album as an attachment.
func (h *Handler) DownloadAlbum(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	reader, filename, err := h.service.Album(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer reader.Close()

	respond.Attachment(c, reader, filename)
}

// History returns the archived generation events for a session.
func (h *Handler) History(c *ginext.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	events, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	respond.OK(c, events)
}

// sessionID parses the :id path parameter, responding with 400 on failure.
func (h *Handler) sessionID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	if idStr == "" {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("missing id"))
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id: %v", err))
		return uuid.Nil, false
	}

	return id, true
}

// fail maps service errors to HTTP statuses.
func (h *Handler) fail(c *ginext.Context, err error) {
	switch {
	case errors.Is(err, sessionstore.ErrSessionNotFound),
		errors.Is(err, booth.ErrItemNotFound),
		errors.Is(err, booth.ErrNoAlbum):
		respond.Fail(c, http.StatusNotFound, err)
	case errors.Is(err, sessionstore.ErrSelectionSize),
		errors.Is(err, sessionstore.ErrUnknownGuitar),
		errors.Is(err, sessionstore.ErrDuplicateGuitar):
		respond.Fail(c, http.StatusBadRequest, err)
	case errors.Is(err, sessionstore.ErrInvalidPhase),
		errors.Is(err, sessionstore.ErrNotGenerating),
		errors.Is(err, booth.ErrItemPending),
		errors.Is(err, booth.ErrItemNotDone),
		errors.Is(err, booth.ErrBatchIncomplete),
		errors.Is(err, booth.ErrNoPhoto):
		respond.Fail(c, http.StatusConflict, err)
	default:
		zlog.Logger.Err(err).Msg("internal error")
		respond.Fail(c, http.StatusInternalServerError, err)
	}
}
