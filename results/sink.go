package results

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-classify/errdefs"
	"github.com/nvr-ai/go-classify/harness"
	"github.com/nvr-ai/go-classify/pipeline"
)

// Format selects a sink.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Formats is a list of all supported formats.
var Formats = []Format{FormatCSV, FormatJSON, FormatConsole}

// ParseFormat validates a format name. An empty name selects console.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatConsole, nil
	case FormatCSV, FormatJSON, FormatConsole:
		return f, nil
	default:
		return "", errdefs.Config("parse output format", errors.Errorf("unsupported output format %q (want one of %v)", s, Formats))
	}
}

// Sink persists a run report.
type Sink interface {
	Write(report *pipeline.Report) error
}

// NewSink returns the sink for format. File sinks write into dir, which is
// created when missing.
//
// Arguments:
//   - hctx: The run context, used by the console sink.
//   - format: The output format.
//   - dir: The output directory for file sinks.
//   - scoring: How outputs are ranked.
//
// Returns:
//   - Sink: The sink.
//   - error: ErrConfig for an unknown format.
func NewSink(hctx *harness.Context, format Format, dir string, scoring Scoring) (Sink, error) {
	f, err := ParseFormat(string(format))
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatCSV:
		return &CSVSink{Path: filepath.Join(dir, "results.csv"), Scoring: scoring}, nil
	case FormatJSON:
		return &JSONSink{Path: filepath.Join(dir, "results.json"), Scoring: scoring}, nil
	default:
		return NewConsoleSink(hctx, scoring), nil
	}
}

// createFile opens path for writing, creating parent directories.
func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create output directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	return f, nil
}

func status(r pipeline.ScoredResult) string {
	if r.OK() {
		return "scored"
	}
	return "failed"
}

func errorText(r pipeline.ScoredResult) string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// classCount is the widest output in the report.
func classCount(results []pipeline.ScoredResult) int {
	n := 0
	for _, r := range results {
		if len(r.Output) > n {
			n = len(r.Output)
		}
	}
	return n
}
