package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/harness"
)

// ReadManifest reads a tab-separated manifest of (image path, label) rows
// bound through DefaultSchema. A header row equal to the schema column names
// is skipped. Relative image paths resolve against imageDir.
//
// Arguments:
//   - hctx: The run context.
//   - path: The manifest file.
//   - imageDir: Base directory for relative image paths.
//
// Returns:
//   - []ImageRecord: The records in file order.
//   - error: ErrNotFound for a missing manifest, a wrapped parse error otherwise.
func ReadManifest(hctx *harness.Context, path, imageDir string) ([]ImageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errdefs.NotFound("dataset.manifest", path, err)
	}
	defer f.Close()

	records, err := parseManifest(f, DefaultSchema(), imageDir)
	if err != nil {
		return nil, errors.Wrapf(err, "read manifest %s", path)
	}
	hctx.Component("dataset").WithField("manifest", path).WithField("records", len(records)).Debug("manifest loaded")
	return records, nil
}

func parseManifest(r io.Reader, schema Schema, imageDir string) ([]ImageRecord, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var out []ImageRecord
	first := true
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if schema.IsHeader(fields) {
				continue
			}
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		rec, err := schema.Bind(fields)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if imageDir != "" && !filepath.IsAbs(rec.Path) {
			rec.Path = filepath.Join(imageDir, rec.Path)
		}
		out = append(out, rec)
	}
	return out, nil
}
