package tasks

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/radiotel/ingestd/internal/config"
	"github.com/radiotel/ingestd/internal/msstore"
	"github.com/radiotel/ingestd/internal/pipeline"
	"github.com/radiotel/ingestd/pkg/ingesterr"
	"github.com/radiotel/ingestd/pkg/vischunk"
)

func init() {
	pipeline.Register("MSSinkTask", newMSSinkTask)
}

type msSinkParams struct {
	PathPattern string `json:"path"`
	ArchiveBucket string `json:"archive_bucket"`
	ArchivePrefix string `json:"archive_prefix"`
}

// MSSinkTask appends chunks to a measurement-set-like SQLite file, one
// per active rank, opening new scan/spectral-window rows on change.
// When configured with an archive bucket, a completed scan's file is
// spilled to S3 once the scan id changes.
type MSSinkTask struct {
	rank        int
	pathPattern string
	store       *msstore.Store
	path        string

	archiver *msstore.Archiver

	currentScan int
	haveScan    bool
}

func newMSSinkTask(cfg *config.Config, desc config.TaskDescriptor) (pipeline.Task, error) {
	var p msSinkParams
	if err := json.Unmarshal(desc.Parameters, &p); err != nil {
		return nil, err
	}
	if p.PathPattern == "" {
		return nil, ingesterr.New(ingesterr.ConfigInvalid, "MSSinkTask", "path is required")
	}

	t := &MSSinkTask{rank: cfg.Rank, pathPattern: p.PathPattern}

	if p.ArchiveBucket != "" {
		archiver, err := msstore.NewArchiver(context.Background(), p.ArchiveBucket, p.ArchivePrefix)
		if err != nil {
			return nil, err
		}
		t.archiver = archiver
	}

	return t, nil
}

func (t *MSSinkTask) Name() string        { return "MSSinkTask" }
func (t *MSSinkTask) IsAlwaysActive() bool { return false }

func (t *MSSinkTask) Process(ctx context.Context, chunk *vischunk.VisChunk) (*vischunk.VisChunk, error) {
	if chunk == nil {
		return nil, nil
	}

	if t.store == nil {
		path := substitutePath(t.pathPattern, t.rank, time.Now())
		store, err := msstore.Open(path)
		if err != nil {
			return nil, err
		}
		t.store = store
		t.path = path
	}

	if t.haveScan && chunk.ScanID != t.currentScan && t.archiver != nil {
		if err := t.store.Close(); err != nil {
			return nil, err
		}
		if err := t.archiver.Spill(ctx, t.path, t.currentScan); err != nil {
			return nil, err
		}
		path := substitutePath(t.pathPattern, t.rank, time.Now())
		store, err := msstore.Open(path)
		if err != nil {
			return nil, err
		}
		t.store = store
		t.path = path
	}

	if err := t.store.EnsureScan(chunk); err != nil {
		return nil, err
	}
	spwID, err := t.store.EnsureSpectralWindow(chunk)
	if err != nil {
		return nil, err
	}
	if err := t.store.AppendRows(chunk, spwID); err != nil {
		return nil, err
	}

	t.currentScan = chunk.ScanID
	t.haveScan = true
	return chunk, nil
}

// substitutePath expands %w (rank), %d (date), %t (time) in pattern.
func substitutePath(pattern string, rank int, now time.Time) string {
	r := strings.NewReplacer(
		"%w", strconv.Itoa(rank),
		"%d", now.Format("20060102"),
		"%t", now.Format("150405"),
	)
	return r.Replace(pattern)
}
