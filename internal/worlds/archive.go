package worlds

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	apperrors "github.com/bedrocktools/bedrock-sync/internal/errors"
)

// Pack serializes the directory subtree rooted at root into a single
// zip archive. Entries appear in listing order, each directory before
// its descendants, with a trailing "/" on directory names and an
// explicit entry for every empty directory. The root itself gets no
// entry. Timestamps are not recorded, so packing the same tree twice
// yields the same bytes.
func Pack(root string) ([]byte, error) {
	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	if err := packDir(zw, root, ""); err != nil {
		// Partially-written archive state is discarded with buf.
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}

	return buf.Bytes(), nil
}

// packDir recursively adds the children of dir under the given entry
// name prefix.
func packDir(zw *zip.Writer, dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := prefix + entry.Name()

		if entry.IsDir() {
			name += "/"

			if _, err := zw.CreateHeader(&zip.FileHeader{Name: name}); err != nil {
				return fmt.Errorf("adding directory entry %s: %w", name, err)
			}

			if err := packDir(zw, filepath.Join(dir, entry.Name()), name); err != nil {
				return err
			}

			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   name,
			Method: zip.Deflate,
		})
		if err != nil {
			return fmt.Errorf("adding file entry %s: %w", name, err)
		}

		if _, err := w.Write(content); err != nil {
			return fmt.Errorf("writing file entry %s: %w", name, err)
		}
	}

	return nil
}

// Unpack extracts an archive produced by Pack into the directory at
// root, which the caller must ensure is empty or freshly created.
// Entries are processed strictly in stream order against a map of
// already-seen directory prefixes seeded with the root; an entry whose
// parent has not been seen makes the archive malformed
// (ErrMalformedArchive), never guessed around.
func Unpack(data []byte, root string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	parents := map[string]string{"": root}

	for _, f := range zr.File {
		name := f.Name
		if err := validateEntryName(name); err != nil {
			return err
		}

		isDir := strings.HasSuffix(name, "/")
		key := strings.TrimSuffix(name, "/")

		parentKey := path.Dir(key)
		if parentKey == "." {
			parentKey = ""
		}

		parentDir, ok := parents[parentKey]
		if !ok {
			return fmt.Errorf("entry %q before its parent: %w", name, apperrors.ErrMalformedArchive)
		}

		target := filepath.Join(parentDir, path.Base(key))

		if isDir {
			if err := os.Mkdir(target, storeDirPerm); err != nil {
				return fmt.Errorf("creating directory %s: %w", key, err)
			}

			parents[key] = target

			continue
		}

		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extracting %s: %w", key, err)
		}
	}

	return nil
}

// extractFile streams one archive entry's content into a new file.
func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, storeFilePerm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

// validateEntryName rejects archive entry names that could write
// outside the extraction root.
func validateEntryName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.ContainsRune(name, 0) {
		return fmt.Errorf("entry name %q: %w", name, apperrors.ErrMalformedArchive)
	}

	for _, seg := range strings.Split(strings.TrimSuffix(name, "/"), "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("entry name %q: %w", name, apperrors.ErrMalformedArchive)
		}
	}

	return nil
}
