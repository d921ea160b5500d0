// Package archive packs a session directory into its portable zip and
// opens either form for reading.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/llnl/session-recorder/session"
)

// Stats describes a written archive.
type Stats struct {
	Files        int
	Bytes        int64
	ArchiveBytes int64
}

// Zip writes every regular file under dir into dst, named relative to dir,
// deflated at maximum compression. The archive is assembled in a temporary
// file next to dst and renamed into place, so dst is either complete or
// untouched.
func Zip(dir, dst string) (Stats, error) {
	var st Stats
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return st, fmt.Errorf("archive: create: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) (Stats, error) {
		tmp.Close()
		os.Remove(tmpName)
		return Stats{}, err
	}

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		n, err := io.Copy(w, f)
		f.Close()
		if err != nil {
			return err
		}
		st.Files++
		st.Bytes += n
		return nil
	})
	if err != nil {
		return fail(fmt.Errorf("archive: add files: %w", err))
	}
	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("archive: finish: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("archive: sync: %w", err))
	}
	info, err := tmp.Stat()
	if err != nil {
		return fail(fmt.Errorf("archive: stat: %w", err))
	}
	st.ArchiveBytes = info.Size()
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Stats{}, fmt.Errorf("archive: close: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return Stats{}, fmt.Errorf("archive: rename: %w", err)
	}
	return st, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns a file system rooted at the session: path may be a session
// directory or a zip. A zip whose manifest sits inside a single top-level
// folder is rooted at that folder.
func Open(path string) (fs.FS, io.Closer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: open: %w", err)
	}
	if info.IsDir() {
		return os.DirFS(path), nopCloser{}, nil
	}

	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	fsys, err := sessionRoot(&rc.Reader)
	if err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	return fsys, rc, nil
}

func sessionRoot(r *zip.Reader) (fs.FS, error) {
	if _, err := fs.Stat(r, session.ManifestFile); err == nil {
		return r, nil
	}
	entries, err := fs.ReadDir(r, ".")
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), "__MACOSX") {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 1 {
		if _, err := fs.Stat(r, dirs[0]+"/"+session.ManifestFile); err == nil {
			return fs.Sub(r, dirs[0])
		}
	}
	return nil, fmt.Errorf("no %s in archive", session.ManifestFile)
}
