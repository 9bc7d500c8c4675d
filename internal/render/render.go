package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/generation"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

// ErrNothingToRender is returned when the input holds no values.
var ErrNothingToRender = errors.New("render: nothing to render")

// Format is an output file type.
type Format string

const (
	PNG     Format = "png"
	CSV     Format = "csv"
	Parquet Format = "parquet"
)

// ParseFormats validates a list of format names.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	seen := make(map[Format]bool, len(names))
	for _, name := range names {
		f := Format(strings.ToLower(strings.TrimSpace(name)))
		switch f {
		case PNG, CSV, Parquet:
		default:
			return nil, fmt.Errorf("unsupported export format %q", name)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// Options control chart geometry, time labels and Parquet compression.
type Options struct {
	Width       int
	Height      int
	Location    *time.Location
	Compression string
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// SnapshotName is the base file name for a snapshot of target.
func SnapshotName(target time.Time) string {
	return "imbalance_" + target.Format(period.DateLayout)
}

// DiffName is the base file name for a delta view.
func DiffName(v delta.View) string {
	return fmt.Sprintf("imbalance_diff_%s_%s",
		v.LatestTarget.Format(period.DateLayout),
		v.LatestPublish.UTC().Format("20060102T1504Z"))
}

// GenerationName is the base file name for one fuel of a generation comparison.
func GenerationName(fuel generation.Fuel, target time.Time) string {
	return fmt.Sprintf("generation_%s_%s", strings.ToLower(string(fuel)), target.Format(period.DateLayout))
}

// Writer writes renderings into a directory, one file per configured format.
type Writer struct {
	dir     string
	formats []Format
	opts    Options
	logger  zerolog.Logger
}

// NewWriter constructs a Writer rooted at dir.
func NewWriter(dir string, formats []Format, opts Options, logger zerolog.Logger) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{
		dir:     dir,
		formats: formats,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("component", "render").Logger(),
	}
}

// WriteSnapshot renders s and returns the written paths.
func (w *Writer) WriteSnapshot(s snapshot.Snapshot) ([]string, error) {
	if s.IsEmpty() {
		return nil, ErrNothingToRender
	}
	base := SnapshotName(s.Window().Target())
	var paths []string
	for _, f := range w.formats {
		var (
			path string
			err  error
		)
		switch f {
		case PNG:
			path, err = w.create(base, f, func(file *os.File) error { return SnapshotPNG(file, s, w.opts) })
		case CSV:
			path, err = w.create(base, f, func(file *os.File) error { return SnapshotCSV(file, s) })
		default:
			continue
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteDiff renders v and returns the written paths. label tags the chart
// title, for example with the poll cycle that found the update.
func (w *Writer) WriteDiff(v delta.View, label string) ([]string, error) {
	if len(v.Records) == 0 {
		return nil, ErrNothingToRender
	}
	base := DiffName(v)
	var paths []string
	for _, f := range w.formats {
		var (
			path string
			err  error
		)
		switch f {
		case PNG:
			path, err = w.create(base, f, func(file *os.File) error { return DiffPNG(file, v, label, w.opts) })
		case CSV:
			path, err = w.create(base, f, func(file *os.File) error { return DiffCSV(file, v) })
		case Parquet:
			path, err = w.create(base, f, func(file *os.File) error { return DiffParquet(file, v, w.opts.Compression) })
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteGeneration renders every fuel that has rows.
func (w *Writer) WriteGeneration(c generation.Comparison) ([]string, error) {
	if c.Len() == 0 {
		return nil, ErrNothingToRender
	}
	var paths []string
	for _, fuel := range generation.Fuels {
		rows := c.Fuel(fuel)
		if len(rows) == 0 {
			w.logger.Info().Str("fuel", string(fuel)).Msg("no aligned rows; skipping")
			continue
		}
		base := GenerationName(fuel, c.Window.Target())
		for _, f := range w.formats {
			var (
				path string
				err  error
			)
			switch f {
			case PNG:
				path, err = w.create(base, f, func(file *os.File) error {
					return GenerationPNG(file, fuel, c.Window, rows, w.opts)
				})
			case CSV:
				path, err = w.create(base, f, func(file *os.File) error { return GenerationCSV(file, rows) })
			default:
				continue
			}
			if err != nil {
				return paths, err
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func (w *Writer) create(base string, f Format, write func(*os.File) error) (string, error) {
	path := filepath.Join(w.dir, base+"."+string(f))
	if err := ensureDir(path); err != nil {
		return "", err
	}

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := write(file); err != nil {
		file.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}

	w.logger.Info().Str("path", path).Msg("file written")
	return path, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
