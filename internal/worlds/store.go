package worlds

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/bedrocktools/bedrock-sync/internal/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	// WorldsFolderName is the directory name Bedrock uses for its world
	// saves. A strict worlds root must carry this name.
	WorldsFolderName = "minecraftWorlds"

	// LevelNameFile is the fixed-name metadata file inside each world
	// folder holding the human-readable world name.
	LevelNameFile = "levelname.txt"
)

const (
	// storeDirPerm is the permission mode for directories created inside
	// the worlds root.
	storeDirPerm = fs.FileMode(0o755)

	// storeFilePerm is the permission mode for files written inside the
	// worlds root.
	storeFilePerm = fs.FileMode(0o644)
)

// stagePrefix marks in-progress download directories inside the worlds
// root. Entries with this prefix are never listed as worlds.
const stagePrefix = ".bedrock-sync-stage-"

// Store provides thread-safe filesystem operations on the worlds root
// directory. All writes are serialized by an exclusive lock; reads take
// a shared lock so they never observe partial writes.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store rooted at the given directory, creating it
// if it does not exist. The directory must be an absolute path
// (resolved at config load time).
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("worlds directory must not be empty")
	}

	if err := os.MkdirAll(dir, storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating worlds directory %s: %w", dir, err)
	}

	return &Store{dir: dir}, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// CheckWorldsRoot verifies that the root directory is named the way
// Bedrock names its world-saves folder. Returns ErrNotWorldsRoot
// otherwise.
func (s *Store) CheckWorldsRoot() error {
	if filepath.Base(s.dir) != WorldsFolderName {
		return fmt.Errorf("%s: %w", s.dir, apperrors.ErrNotWorldsRoot)
	}

	return nil
}

// Worlds lists the world ids currently present: one id per
// subdirectory, in directory listing order. Plain files and staging
// leftovers are skipped. Names are NFC-normalized so ids compare
// reliably against remote ids regardless of how the filesystem stores
// them.
func (s *Store) Worlds() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing worlds directory: %w", err)
	}

	var ids []string

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		ids = append(ids, norm.NFC.String(entry.Name()))
	}

	return ids, nil
}

// HasWorld reports whether a world folder with the given id exists.
func (s *Store) HasWorld(id string) (bool, error) {
	path, err := s.resolve(id)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("stat world %s: %w", id, err)
	}

	return info.IsDir(), nil
}

// WorldPath returns the absolute path of a world folder after
// validating the id.
func (s *Store) WorldPath(id string) (string, error) {
	return s.resolve(id)
}

// LevelName reads the display name from the metadata file inside a
// world folder. ok is false when the file is absent or unreadable; a
// present-but-blank file yields an empty name with ok true, letting
// the caller fall back to the folder name.
func (s *Store) LevelName(id string) (name string, ok bool, err error) {
	path, err := s.resolve(id)
	if err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(path, LevelNameFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}

		return "", false, nil //nolint:nilerr // unreadable metadata means "no name", not a failed listing
	}

	return strings.TrimSpace(string(data)), true, nil
}

// DeleteWorld removes a world folder and all its contents. Absence is
// not an error.
func (s *Store) DeleteWorld(id string) error {
	path, err := s.resolve(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.RemoveAll(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing world %s: %w", id, err)
	}

	return nil
}

// StageWorld creates a hidden staging directory inside the worlds root
// for an in-progress download. The staged tree becomes visible only
// when PromoteWorld swaps it into place.
func (s *Store) StageWorld(id string) (string, error) {
	if _, err := s.resolve(id); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged, err := os.MkdirTemp(s.dir, stagePrefix+id+"-")
	if err != nil {
		return "", fmt.Errorf("creating staging directory for %s: %w", id, err)
	}

	return staged, nil
}

// PromoteWorld replaces the world folder with a staged directory. The
// existing folder (if any) is removed first, then the staged tree is
// renamed into place. The rename is atomic; the window between removal
// and rename is the only moment the world is absent.
func (s *Store) PromoteWorld(staged, id string) error {
	final, err := s.resolve(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(final); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing old world %s: %w", id, err)
	}

	if err := os.Rename(staged, final); err != nil {
		return fmt.Errorf("promoting staged world %s: %w", id, err)
	}

	return nil
}

// DiscardStaged removes a staging directory after a failed download.
func (s *Store) DiscardStaged(staged string) {
	if !strings.HasPrefix(filepath.Base(staged), stagePrefix) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = os.RemoveAll(staged)
}

// resolve converts a world id to an absolute path within the worlds
// root, rejecting ids that could escape it. World ids are plain folder
// names; anything with separators, traversal segments, or a leading
// dot is invalid.
func (s *Store) resolve(id string) (string, error) {
	if id == "" || id == "." || id == ".." {
		return "", fmt.Errorf("%q: %w", id, apperrors.ErrInvalidWorldID)
	}

	if strings.ContainsRune(id, 0) ||
		strings.ContainsAny(id, "/\\") ||
		strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%q: %w", id, apperrors.ErrInvalidWorldID)
	}

	return filepath.Join(s.dir, id), nil
}
