// Package dataset - Enumerates labeled images from a directory or manifest.
package dataset

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/harness"
)

// DefaultExclude lists the extensions skipped when no exclusion list is given.
var DefaultExclude = []string{".md"}

// ImageRecord is one image to classify.
type ImageRecord struct {
	// Path is the path of the image file.
	Path string
	// Label is the file base name, or the manifest label.
	Label string
}

// Enumerator lists the image records of a directory.
type Enumerator struct {
	dir     string
	exclude map[string]struct{}
	log     logrus.FieldLogger
}

// EnumeratorOption configures an Enumerator.
type EnumeratorOption func(*Enumerator)

// WithExclude replaces the excluded extension list. Matching is
// case-insensitive and a leading dot is optional.
func WithExclude(exts ...string) EnumeratorOption {
	return func(e *Enumerator) {
		e.exclude = extensionSet(exts)
	}
}

// NewEnumerator creates an Enumerator over dir.
//
// Arguments:
//   - hctx: The run context.
//   - dir: Directory holding the images.
//   - opts: Functional options.
//
// Returns:
//   - *Enumerator: The enumerator.
//   - error: ErrNotFound when dir is missing or is not a directory.
//
// @example
//
//	en, err := dataset.NewEnumerator(hctx, "assets/images")
//	for rec, err := range en.Records(ctx) { ... }
func NewEnumerator(hctx *harness.Context, dir string, opts ...EnumeratorOption) (*Enumerator, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errdefs.NotFound("dataset.enumerate", dir, err)
	}
	if !info.IsDir() {
		return nil, errdefs.NotFound("dataset.enumerate", dir, errors.New("not a directory"))
	}

	e := &Enumerator{
		dir:     dir,
		exclude: extensionSet(DefaultExclude),
		log:     hctx.Component("dataset").WithField("dir", dir),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Dir returns the enumerated directory.
func (e *Enumerator) Dir() string {
	return e.dir
}

// Records returns a lazy sequence of the directory's image records. Every
// call lists the directory again, so the sequence can be ranged over more
// than once. Order is the os.ReadDir order (sorted by file name).
//
// Subdirectories and files with an excluded extension are skipped; every
// other file is yielded whether or not it is a valid image.
func (e *Enumerator) Records(ctx context.Context) iter.Seq2[ImageRecord, error] {
	return func(yield func(ImageRecord, error) bool) {
		entries, err := os.ReadDir(e.dir)
		if err != nil {
			yield(ImageRecord{}, errdefs.NotFound("dataset.enumerate", e.dir, err))
			return
		}

		n := 0
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				yield(ImageRecord{}, err)
				return
			}
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if e.excluded(name) {
				e.log.WithField("file", name).Debug("excluded by extension")
				continue
			}
			n++
			if !yield(ImageRecord{Path: filepath.Join(e.dir, name), Label: name}, nil) {
				return
			}
		}
		e.log.WithField("records", n).Debug("enumerated")
	}
}

// List collects Records into a slice.
func (e *Enumerator) List(ctx context.Context) ([]ImageRecord, error) {
	var out []ImageRecord
	for rec, err := range e.Records(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (e *Enumerator) excluded(name string) bool {
	_, ok := e.exclude[strings.ToLower(filepath.Ext(name))]
	return ok
}

func extensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}

// Slice adapts a fixed record list to the sequence type used by the pipeline.
func Slice(records []ImageRecord) iter.Seq2[ImageRecord, error] {
	return func(yield func(ImageRecord, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}
