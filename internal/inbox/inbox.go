// Package inbox ingests text files dropped into a watched folder.
//
// A file belongs to the tenant named by its `tenant:` frontmatter key or, when
// absent, by its first path segment (<tenantID>/<name>.md). A file whose
// checksum matches the last successful ingestion of the same source is
// skipped, so restarts and repeated write events do not re-ingest.
package inbox

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/tenantgraph/internal/apperr"
	"github.com/starford/tenantgraph/internal/parser"
	"github.com/starford/tenantgraph/internal/pipeline"
	"github.com/starford/tenantgraph/internal/storage"
)

const settleDelay = 200 * time.Millisecond

// Ingester runs the ingestion flow for one document.
type Ingester interface {
	IngestDocument(ctx context.Context, doc pipeline.Document) (pipeline.IngestResult, error)
}

// Checksums looks up the checksum of the last successful ingestion of a source.
type Checksums interface {
	LastChecksum(ctx context.Context, tenantID, source string) (string, error)
}

// Outcome is what happened to one inbox file.
type Outcome string

const (
	Ingested  Outcome = "ingested"
	Unchanged Outcome = "unchanged"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

// Inbox feeds files from a storage.Provider into the pipeline.
type Inbox struct {
	store     storage.Provider
	ingester  Ingester
	checksums Checksums
	logger    *slog.Logger
}

// New creates an Inbox.
func New(store storage.Provider, ingester Ingester, checksums Checksums, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{store: store, ingester: ingester, checksums: checksums, logger: logger}
}

// Scan ingests every file under the root whose content changed since its last
// successful ingestion and returns the outcome per file.
func (in *Inbox) Scan(ctx context.Context) (map[string]Outcome, error) {
	files, err := in.store.List("")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Outcome, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out[f.Path] = in.Process(ctx, f.Path)
	}
	in.logger.Info("inbox: scan complete", slog.Int("files", len(files)))
	return out, nil
}

// Process ingests one file, identified by its path relative to the root.
func (in *Inbox) Process(ctx context.Context, rel string) Outcome {
	logger := in.logger.With(slog.String("source", rel))

	data, err := in.store.Read(rel)
	if errors.Is(err, storage.ErrTooLarge) {
		logger.Warn("inbox: file too large", slog.Int("limit_bytes", storage.MaxFileSize))
		return Skipped
	}
	if err != nil {
		logger.Warn("inbox: read failed", slog.String("error", err.Error()))
		return Failed
	}
	doc, err := parser.Parse(data)
	if err != nil {
		logger.Warn("inbox: parse failed", slog.String("error", err.Error()))
		return Skipped
	}

	tenantID := doc.Tenant
	if tenantID == "" {
		tenantID = tenantFromPath(rel)
	}
	if tenantID == "" {
		logger.Warn("inbox: no tenant for file; use <tenantID>/<name> or a tenant frontmatter key")
		return Skipped
	}
	if strings.TrimSpace(doc.Body) == "" {
		return Skipped
	}

	sum := storage.Checksum(data)
	if in.checksums != nil {
		last, err := in.checksums.LastChecksum(ctx, tenantID, rel)
		if err != nil {
			logger.Warn("inbox: checksum lookup failed", slog.String("error", err.Error()))
		} else if last == sum {
			logger.Debug("inbox: unchanged")
			return Unchanged
		}
	}

	res, err := in.ingester.IngestDocument(ctx, pipeline.Document{
		TenantID: tenantID,
		Text:     doc.Body,
		Source:   rel,
		Checksum: sum,
	})
	if err != nil {
		logger.Warn("inbox: ingestion failed",
			slog.String("tenant_id", tenantID),
			slog.String("kind", string(apperr.KindOf(err))),
			slog.String("error", err.Error()))
		return Failed
	}
	logger.Info("inbox: ingested",
		slog.String("tenant_id", tenantID),
		slog.Int("nodes_created", res.Report.NodesCreated),
		slog.Int("edges_created", res.Report.EdgesCreated))
	return Ingested
}

// Watch runs an initial scan and then ingests files as they are created or
// written until ctx is cancelled. Bursts of events for a file are coalesced
// and handled once the file has settled.
func (in *Inbox) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := in.store.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	in.logger.Info("inbox: watching", slog.String("root", root))

	if _, err := in.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
		in.logger.Warn("inbox: initial scan failed", slog.String("error", err.Error()))
	}

	pending := make(map[string]struct{})
	var settle *time.Timer
	var settleCh <-chan time.Time

	schedule := func(rel string) {
		pending[rel] = struct{}{}
		if settle == nil {
			settle = time.NewTimer(settleDelay)
			settleCh = settle.C
		} else {
			settle.Reset(settleDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			in.logger.Info("inbox: stopped")
			return nil

		case <-settleCh:
			for rel := range pending {
				delete(pending, rel)
				in.Process(ctx, rel)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						in.logger.Warn("inbox: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					in.scheduleDir(root, ev.Name, schedule)
					continue
				}
			}

			if !storage.Ingestible(ev.Name) {
				continue
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			schedule(filepath.ToSlash(rel))

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// scheduleDir queues files already present in a newly created directory.
func (in *Inbox) scheduleDir(root, dir string, schedule func(string)) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !storage.Ingestible(p) {
			return nil
		}
		if rel, relErr := filepath.Rel(root, p); relErr == nil {
			schedule(filepath.ToSlash(rel))
		}
		return nil
	})
}

// tenantFromPath returns the first segment of a nested path.
func tenantFromPath(rel string) string {
	first, rest, ok := strings.Cut(rel, "/")
	if !ok || rest == "" {
		return ""
	}
	return first
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		return nil
	})
}
