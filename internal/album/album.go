// Package album composes the final collage out of a complete batch of
// generated portraits.
package album

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

var (
	// ErrMissingResult is returned when the result mapping does not cover
	// every key of the batch. Assembly is all-or-nothing.
	ErrMissingResult = errors.New("album: result missing for key")

	// ErrEmptyBatch is returned when there are no keys to lay out.
	ErrEmptyBatch = errors.New("album: empty batch")
)

// fileStorage defines the interface for file storage.
// It allows saving and loading files from a backend (e.g., local FS, S3, MinIO).
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
}

// Assembler renders a titled grid of portraits, one cell per guitar,
// and stores the composite as a single JPEG.
type Assembler struct {
	fileStorage fileStorage

	columns    int
	cellWidth  int
	cellHeight int
	fontPath   string // captions and title are skipped when empty
	title      string
}

// New creates an Assembler with the given storage backend and layout.
func New(fs fileStorage, columns, cellWidth, cellHeight int, fontPath, title string) *Assembler {
	return &Assembler{
		fileStorage: fs,
		columns:     columns,
		cellWidth:   cellWidth,
		cellHeight:  cellHeight,
		fontPath:    fontPath,
		title:       title,
	}
}

const (
	captionHeight = 48
	titleHeight   = 96
)

// Assemble loads every portrait in the batch, lays them out as a grid in
// selection order and saves the composite. It returns the stored path.
// Every key must have a result; a partial batch is rejected.
func (a *Assembler) Assemble(ctx context.Context, name string, keys []string, results map[string]string) (string, error) {
	if len(keys) == 0 {
		return "", ErrEmptyBatch
	}
	for _, key := range keys {
		if _, ok := results[key]; !ok {
			return "", fmt.Errorf("%w: %q", ErrMissingResult, key)
		}
	}

	rows := (len(keys) + a.columns - 1) / a.columns
	width := a.columns * a.cellWidth
	height := rows*(a.cellHeight+captionHeight) + a.headerHeight()

	dc := gg.NewContext(width, height)
	dc.SetRGB(0.07, 0.07, 0.09)
	dc.Clear()

	if a.title != "" && a.fontPath != "" {
		if err := dc.LoadFontFace(a.fontPath, float64(titleHeight)*0.5); err != nil {
			return "", fmt.Errorf("failed to load font: %w", err)
		}
		dc.SetRGB(1, 1, 1)
		dc.DrawStringAnchored(a.title, float64(width)/2, float64(titleHeight)/2, 0.5, 0.5)
	}

	for i, key := range keys {
		cell, err := a.loadCell(ctx, results[key])
		if err != nil {
			return "", fmt.Errorf("cell %q: %w", key, err)
		}

		x := (i % a.columns) * a.cellWidth
		y := a.headerHeight() + (i/a.columns)*(a.cellHeight+captionHeight)

		dc.DrawImage(cell, x, y)

		if a.fontPath != "" {
			if err := dc.LoadFontFace(a.fontPath, captionHeight*0.5); err != nil {
				return "", fmt.Errorf("failed to load font: %w", err)
			}
			dc.SetRGB(0.9, 0.9, 0.9)
			cx := float64(x) + float64(a.cellWidth)/2
			cy := float64(y+a.cellHeight) + captionHeight/2
			dc.DrawStringAnchored(key, cx, cy, 0.5, 0.5)
		}
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, dc.Image(), imaging.JPEG); err != nil {
		return "", fmt.Errorf("failed to encode album: %w", err)
	}

	dst, err := a.fileStorage.Save(ctx, "albums", name+".jpg", buf)
	if err != nil {
		return "", fmt.Errorf("failed to save album: %w", err)
	}

	return dst, nil
}

func (a *Assembler) headerHeight() int {
	if a.title != "" && a.fontPath != "" {
		return titleHeight
	}
	return 0
}

// loadCell loads one portrait and crops it to the cell size.
func (a *Assembler) loadCell(ctx context.Context, path string) (image.Image, error) {
	srcReader, err := a.fileStorage.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load portrait: %w", err)
	}
	defer srcReader.Close()

	img, err := imaging.Decode(srcReader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode portrait: %w", err)
	}

	return imaging.Fill(img, a.cellWidth, a.cellHeight, imaging.Center, imaging.Lanczos), nil
}
