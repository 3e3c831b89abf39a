package durability

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/docdb/blobstore"
	"github.com/hupe1980/docdb/internal/fs"
	"github.com/hupe1980/docdb/internal/resource"
	"github.com/hupe1980/docdb/internal/worker"
)

const (
	// archiveUploadTimeout bounds one background upload so a hung blob
	// store cannot pin a worker forever.
	archiveUploadTimeout = 2 * time.Minute

	// archiveSyncParallelism bounds concurrent uploads during SyncArchive.
	archiveSyncParallelism = 4
)

// archiver copies sealed WAL segments and snapshots into an offsite
// blob store. Uploads are a backup tier, not replication: they happen
// off the write path and failures are logged, retried only by the
// next SyncArchive.
type archiver struct {
	store      blobstore.Store
	catalog    blobstore.Catalog
	fsys       fs.FileSystem
	controller *resource.Controller
	logger     *slog.Logger
	pool       *worker.Pool
}

func newArchiver(store blobstore.Store, catalog blobstore.Catalog, fsys fs.FileSystem, rc *resource.Controller, logger *slog.Logger) *archiver {
	return &archiver{
		store:      store,
		catalog:    catalog,
		fsys:       fsys,
		controller: rc,
		logger:     logger,
		pool:       worker.NewPool(1),
	}
}

// uploadAsync schedules a background upload of the file at path under
// the blob name. Best effort: a full queue or failed upload is logged,
// never surfaced to the write path.
func (a *archiver) uploadAsync(name, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveUploadTimeout)

	err := a.pool.Submit(ctx, func() {
		defer cancel()

		if err := a.upload(ctx, name, path); err != nil {
			a.logger.Warn("archive upload failed", "blob", name, "error", err)

			return
		}

		a.logger.Debug("archive upload complete", "blob", name)
	})
	if err != nil {
		cancel()
		a.logger.Warn("archive upload not scheduled", "blob", name, "error", err)
	}
}

func (a *archiver) upload(ctx context.Context, name, path string) error {
	data, err := readFile(a.fsys, path)
	if err != nil {
		return err
	}

	if err := a.controller.WaitIO(ctx, len(data)); err != nil {
		return err
	}

	return a.store.Put(ctx, name, data)
}

// sync uploads every local snapshot and sealed WAL segment the store
// does not hold yet, with bounded parallelism, then commits the newest
// snapshot to the catalog as the latest durable point.
func (a *archiver) sync(ctx context.Context, snaps []*Snapshot, snapDir string, segments []string, walDir string) error {
	type blob struct {
		name string
		path string
	}

	var want []blob

	for _, snap := range snaps {
		want = append(want, blob{
			name: snapshotDirName + "/" + filepath.Base(snap.Path),
			path: snap.Path,
		})
	}

	for _, seg := range segments {
		want = append(want, blob{
			name: walDirName + "/" + seg,
			path: filepath.Join(walDir, seg),
		})
	}

	have := make(map[string]struct{})

	for _, prefix := range []string{snapshotDirName + "/", walDirName + "/"} {
		names, err := a.store.List(ctx, prefix)
		if err != nil {
			return err
		}

		for _, name := range names {
			have[name] = struct{}{}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveSyncParallelism)

	for _, b := range want {
		if _, ok := have[b.name]; ok {
			continue
		}

		g.Go(func() error {
			return a.upload(gctx, b.name, b.path)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if a.catalog != nil && len(snaps) > 0 {
		latest := snapshotDirName + "/" + filepath.Base(snaps[0].Path)
		if err := a.catalog.Commit(ctx, latest); err != nil {
			return err
		}
	}

	return nil
}

// close drains pending uploads and stops the worker.
func (a *archiver) close() {
	a.pool.Close()
}
