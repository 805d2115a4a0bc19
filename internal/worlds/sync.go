package worlds

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bedrocktools/bedrock-sync/internal/drive"
	"github.com/bedrocktools/bedrock-sync/internal/state"
)

// RemoteStore is the remote object store surface the sync layer
// consumes. *drive.Client satisfies it.
type RemoteStore interface {
	ListAll(ctx context.Context) ([]drive.Object, error)
	Find(ctx context.Context, d drive.Descriptor) (drive.Object, bool, error)
	Exists(ctx context.Context, d drive.Descriptor) (bool, error)
	Create(ctx context.Context, d drive.Descriptor) (string, error)
	CreateIfNecessary(ctx context.Context, d drive.Descriptor) (string, error)
	Delete(ctx context.Context, d drive.Descriptor) error
	Write(ctx context.Context, d drive.Descriptor, content []byte) error
	Read(ctx context.Context, d drive.Descriptor) ([]byte, error)
}

// Transfer directions recorded in the state db.
const (
	directionUpload   = "upload"
	directionDownload = "download"
)

// Syncer drives uploads, downloads, and deletes for individual worlds
// and in bulk. Every operation is blocking and synchronous; callers are
// responsible for running them off any latency-sensitive path and for
// not racing two operations on the same id.
type Syncer struct {
	store  *Store
	remote RemoteStore
	state  *state.State
	logger *slog.Logger
}

// NewSyncer creates a Syncer over the given stores. appState may be nil
// when no persistence is wanted; bulk operations then see an empty
// last-known catalog.
func NewSyncer(store *Store, remote RemoteStore, appState *state.State, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:  store,
		remote: remote,
		state:  appState,
		logger: logger,
	}
}

// UploadWorld archives the local world folder and stores it remotely
// under the world id, fully replacing any previous archive. A missing
// local folder is a no-op.
func (s *Syncer) UploadWorld(ctx context.Context, id string) error {
	ok, err := s.store.HasWorld(id)
	if err != nil {
		return err
	}

	if !ok {
		s.logger.Debug("upload skipped, world not present locally", slog.String("id", id))
		return nil
	}

	name, _, err := s.store.LevelName(id)
	if err != nil {
		return err
	}

	if name == "" {
		name = id
	}

	path, err := s.store.WorldPath(id)
	if err != nil {
		return err
	}

	archive, err := Pack(path)
	if err != nil {
		return fmt.Errorf("archiving world %s: %w", id, err)
	}

	desc := drive.Descriptor{
		Name:        id,
		Description: name,
		MimeType:    drive.MimeTypeWorldArchive,
	}

	if _, err := s.remote.CreateIfNecessary(ctx, desc); err != nil {
		return fmt.Errorf("preparing remote file for %s: %w", id, err)
	}

	if err := s.remote.Write(ctx, desc, archive); err != nil {
		return fmt.Errorf("uploading world %s: %w", id, err)
	}

	s.recordSync(id, directionUpload)

	s.logger.Info("uploaded world",
		slog.String("id", id),
		slog.String("name", name),
		slog.Int("bytes", len(archive)),
	)

	return nil
}

// DownloadWorld fetches the remote archive for the world id and
// replaces the local folder with its content. The archive is extracted
// into a staging directory and swapped into place, so a failed
// download never leaves a half-written world. A missing remote archive
// is a no-op.
func (s *Syncer) DownloadWorld(ctx context.Context, id string) error {
	desc := drive.Descriptor{Name: id}

	ok, err := s.remote.Exists(ctx, desc)
	if err != nil {
		return err
	}

	if !ok {
		s.logger.Debug("download skipped, world not present remotely", slog.String("id", id))
		return nil
	}

	archive, err := s.remote.Read(ctx, desc)
	if err != nil {
		return fmt.Errorf("downloading world %s: %w", id, err)
	}

	staged, err := s.store.StageWorld(id)
	if err != nil {
		return err
	}

	if err := Unpack(archive, staged); err != nil {
		s.store.DiscardStaged(staged)
		return fmt.Errorf("extracting world %s: %w", id, err)
	}

	if err := s.store.PromoteWorld(staged, id); err != nil {
		s.store.DiscardStaged(staged)
		return err
	}

	s.recordSync(id, directionDownload)

	s.logger.Info("downloaded world",
		slog.String("id", id),
		slog.Int("bytes", len(archive)),
	)

	return nil
}

// DeleteWorldLocal removes the local world folder. Absence is not an
// error.
func (s *Syncer) DeleteWorldLocal(id string) error {
	if err := s.store.DeleteWorld(id); err != nil {
		return err
	}

	s.logger.Info("deleted local world", slog.String("id", id))

	return nil
}

// DeleteWorldRemote removes the remote archive for the world id.
// Absence is not an error.
func (s *Syncer) DeleteWorldRemote(ctx context.Context, id string) error {
	if err := s.remote.Delete(ctx, drive.Descriptor{Name: id}); err != nil {
		return fmt.Errorf("deleting remote world %s: %w", id, err)
	}

	s.logger.Info("deleted remote world", slog.String("id", id))

	return nil
}

// UploadAll uploads every world id in the last-known catalog,
// best-effort: one id's failure is recorded and the loop continues.
func (s *Syncer) UploadAll(ctx context.Context) error {
	return s.bulk(ctx, "upload", s.catalogIDs(), s.UploadWorld)
}

// DownloadAll downloads every world id in the last-known catalog,
// best-effort.
func (s *Syncer) DownloadAll(ctx context.Context) error {
	return s.bulk(ctx, "download", s.catalogIDs(), s.DownloadWorld)
}

// DeleteAllLocal removes every world folder currently present locally,
// catalogued or not.
func (s *Syncer) DeleteAllLocal(ctx context.Context) error {
	ids, err := s.store.Worlds()
	if err != nil {
		return err
	}

	return s.bulk(ctx, "delete local", ids, func(_ context.Context, id string) error {
		return s.DeleteWorldLocal(id)
	})
}

// DeleteAllRemote removes the remote archive of every world id in the
// last-known catalog, best-effort.
func (s *Syncer) DeleteAllRemote(ctx context.Context) error {
	return s.bulk(ctx, "delete remote", s.catalogIDs(), s.DeleteWorldRemote)
}

// bulk applies op to each id sequentially. Failures are logged and
// counted, never aborting the remaining ids; the aggregate outcome is
// returned at the end.
func (s *Syncer) bulk(ctx context.Context, what string, ids []string, op func(context.Context, string) error) error {
	var failures int

	for _, id := range ids {
		if err := op(ctx, id); err != nil {
			failures++

			s.logger.Warn("bulk "+what+" failed for world",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d %s operations failed", failures, len(ids), what)
	}

	return nil
}

// catalogIDs returns the world ids of the last-known catalog snapshot.
func (s *Syncer) catalogIDs() []string {
	if s.state == nil {
		return nil
	}

	worlds, err := s.state.Catalog()
	if err != nil {
		s.logger.Warn("reading last-known catalog", slog.String("error", err.Error()))
		return nil
	}

	ids := make([]string, 0, len(worlds))
	for _, w := range worlds {
		ids = append(ids, w.ID)
	}

	return ids
}

// recordSync persists the transfer record. State is advisory; failures
// are logged, not propagated.
func (s *Syncer) recordSync(id, direction string) {
	if s.state == nil {
		return
	}

	if err := s.state.SetLastSync(id, direction, time.Now()); err != nil {
		s.logger.Warn("recording sync time",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}
