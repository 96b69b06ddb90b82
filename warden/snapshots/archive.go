package snapshots

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Archiver moves world data between live data directories and zip archives in
// the snapshot directory. Archive locations are exchanged as file:// URLs so
// the rest of the platform never assumes local paths.
type Archiver struct {
	snapshotDir string
}

// NewArchiver creates an archiver rooted at snapshotDir, creating the
// directory if needed.
func NewArchiver(snapshotDir string) (*Archiver, error) {
	abs, err := filepath.Abs(snapshotDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}
	return &Archiver{snapshotDir: abs}, nil
}

// Export zips the contents of a world's data directory into the snapshot
// directory and returns the archive URL. The archive is written to a
// temporary file first so a crash mid-export never clobbers the previous
// snapshot.
func (a *Archiver) Export(worldID, dataDir string) (string, error) {
	target := filepath.Join(a.snapshotDir, worldID+".zip")
	tmp := target + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	zw := zip.NewWriter(f)

	err = filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			header.Name += "/"
			_, err = zw.CreateHeader(header)
			return err
		}
		header.Method = zip.Deflate
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return "file://" + target, nil
}

// Restore replaces the contents of a world's data directory with the contents
// of an archive. src may be a file:// URL or a plain path.
func (a *Archiver) Restore(src, dataDir string) error {
	if dataDir == "" || dataDir == string(os.PathSeparator) {
		return fmt.Errorf("refusing to restore into %q", dataDir)
	}
	if err := os.RemoveAll(dataDir); err != nil {
		return err
	}
	return unzip(archivePath(src), dataDir)
}

// Relocate moves a stored archive into a different directory, returning the
// new archive URL. Used when a world's snapshot is migrated to other storage.
func (a *Archiver) Relocate(src, destDir string) (string, error) {
	path := archivePath(src)
	abs, err := filepath.Abs(destDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(abs, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		// Rename fails across filesystems; fall back to copy+remove.
		if err := copyFile(path, dest); err != nil {
			return "", err
		}
		if err := os.Remove(path); err != nil {
			return "", err
		}
	}
	return "file://" + dest, nil
}

func archivePath(src string) string {
	return strings.TrimPrefix(src, "file://")
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			panic(err)
		}
	}()

	os.MkdirAll(dest, 0755)

	// Closure to address file descriptors issue with all the deferred .Close() methods
	extractAndWriteFile := func(f *zip.File) error {
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer func() {
			if err := rc.Close(); err != nil {
				panic(err)
			}
		}()

		path := filepath.Join(dest, f.Name)

		// Check for ZipSlip (Directory traversal)
		if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path: %s", path)
		}

		if f.FileInfo().IsDir() {
			os.MkdirAll(path, f.Mode())
		} else {
			os.MkdirAll(filepath.Dir(path), 0755)
			out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
			if err != nil {
				return err
			}
			defer func() {
				if err := out.Close(); err != nil {
					panic(err)
				}
			}()

			_, err = io.Copy(out, rc)
			if err != nil {
				return err
			}
		}
		return nil
	}

	for _, f := range r.File {
		err := extractAndWriteFile(f)
		if err != nil {
			return err
		}
	}

	return nil
}
