package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	filePrefix = "planes_"
	fileSuffix = ".json.zst"

	// fileTimeLayout keeps archive names sortable by fetch time
	fileTimeLayout = "20060102_150405"
)

// Archive is a directory of compressed snapshot files named
// planes_YYYYMMDD_HHMMSS.json.zst after their fetch time in UTC.
type Archive struct {
	dir string
}

// NewArchive opens dir as an archive, creating it if needed.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string {
	return a.dir
}

// FileName returns the archive file name for a fetch time.
func FileName(fetchedAt time.Time) string {
	return filePrefix + fetchedAt.UTC().Format(fileTimeLayout) + fileSuffix
}

// ParseFileName extracts the fetch time from an archive file name.
func ParseFileName(name string) (time.Time, error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileSuffix) {
		return time.Time{}, fmt.Errorf("not an archive file name: %s", base)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileSuffix)
	if len(stamp) > len(fileTimeLayout) {
		// same-second collisions carry a suffix
		stamp = stamp[:len(fileTimeLayout)]
	}
	return time.ParseInLocation(fileTimeLayout, stamp, time.UTC)
}

// Save writes s to the archive and returns the file path. The file is
// written under a temporary name and renamed, so readers never see a
// partial archive.
func (a *Archive) Save(s *Snapshot) (string, error) {
	path := filepath.Join(a.dir, FileName(s.FetchedAt))
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(a.dir, strings.TrimSuffix(FileName(s.FetchedAt), fileSuffix)+"_"+s.ID.String()[:8]+fileSuffix)
	}

	tmp, err := os.CreateTemp(a.dir, ".planes-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, s); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}
	return path, nil
}

func encode(w io.Writer, s *Snapshot) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(s); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush zstd stream: %w", err)
	}
	return nil
}

// Load reads one archive file. Uncompressed .json files are accepted too.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode archive %s: %w", filepath.Base(path), err)
	}
	return &s, nil
}

// List returns archive file paths, oldest first.
func (a *Archive) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := ParseFileName(e.Name()); err != nil {
			continue
		}
		paths = append(paths, filepath.Join(a.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Latest loads the newest archive. It returns ErrNoSnapshot when the
// archive is empty.
func (a *Archive) Latest() (*Snapshot, string, error) {
	paths, err := a.List()
	if err != nil {
		return nil, "", err
	}
	if len(paths) == 0 {
		return nil, "", ErrNoSnapshot
	}

	path := paths[len(paths)-1]
	s, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return s, path, nil
}

// Prune deletes all but the newest keep archives and returns how many were
// removed. keep <= 0 removes nothing.
func (a *Archive) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	paths, err := a.List()
	if err != nil {
		return 0, err
	}
	if len(paths) <= keep {
		return 0, nil
	}

	removed := 0
	for _, path := range paths[:len(paths)-keep] {
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
		removed++
	}
	return removed, nil
}
