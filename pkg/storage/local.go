package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalStorage implements Storage on a directory tree.
type LocalStorage struct {
	basePath string
	now      func() time.Time
}

// NewLocalStorage creates the inbox root when missing.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}
	return &LocalStorage{basePath: basePath, now: time.Now}, nil
}

// List returns every regular, non-hidden file one level below a source
// directory.
func (s *LocalStorage) List(ctx context.Context) ([]*FileInfo, error) {
	sources, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}

	var files []*FileInfo
	for _, src := range sources {
		if !src.IsDir() || hidden(src.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := filepath.Join(s.basePath, src.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list source %s: %w", src.Name(), err)
		}

		for _, entry := range entries {
			if !entry.Type().IsRegular() || hidden(entry.Name()) {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
			}
			files = append(files, &FileInfo{
				Source:  src.Name(),
				Name:    entry.Name(),
				Path:    filepath.Join(dir, entry.Name()),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Source != files[j].Source {
			return files[i].Source < files[j].Source
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func (s *LocalStorage) Read(_ context.Context, f *FileInfo) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return data, nil
}

// Archive moves f to <root>/.processed/<source>/.
func (s *LocalStorage) Archive(_ context.Context, f *FileInfo) error {
	return s.move(f, processedDir)
}

// Reject moves f to <root>/.failed/<source>/.
func (s *LocalStorage) Reject(_ context.Context, f *FileInfo) error {
	return s.move(f, failedDir)
}

// move never overwrites: a name already taken in the target gets a
// timestamp suffix.
func (s *LocalStorage) move(f *FileInfo, area string) error {
	dir := filepath.Join(s.basePath, area, sanitizeName(f.Source))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", area, err)
	}

	target := filepath.Join(dir, sanitizeName(f.Name))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(f.Name)
		stem := strings.TrimSuffix(sanitizeName(f.Name), ext)
		target = filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, s.now().UTC().Format("20060102T150405.000000000"), ext))
	}

	if err := os.Rename(f.Path, target); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", f.Name, area, err)
	}
	f.Path = target
	return nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// sanitizeName removes path separators and other unsafe characters.
func sanitizeName(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}
