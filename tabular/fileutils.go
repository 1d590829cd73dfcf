package tabular

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteFileAtomicSameDir writes data to a temp file next to path and renames it into
// place, so readers never see a partial file.
func WriteFileAtomicSameDir(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp_*"+filepath.Ext(path))
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Batch is a named group of chat files processed and written together. Message IDs are
// built from file paths relative to Root.
type Batch struct {
	Name  string
	Root  string
	Files []string
}

// CollectBatches resolves the chats input. A single .csv file is one batch. A directory
// yields one batch per subdirectory holding CSV files; CSV files directly inside the
// directory form a batch named after it.
func CollectBatches(inPath string) ([]Batch, error) {
	fi, err := os.Stat(inPath)
	if err != nil {
		return nil, fmt.Errorf("stat -chats: %w", err)
	}
	if !fi.IsDir() {
		if !isCSV(inPath) {
			return nil, fmt.Errorf("chat file must be .csv: %s", inPath)
		}
		return []Batch{{
			Name:  strings.TrimSuffix(filepath.Base(inPath), filepath.Ext(inPath)),
			Root:  filepath.Dir(inPath),
			Files: []string{inPath},
		}}, nil
	}

	entries, err := os.ReadDir(inPath)
	if err != nil {
		return nil, fmt.Errorf("read -chats dir: %w", err)
	}
	var batches []Batch
	var direct []string
	for _, e := range entries {
		p := filepath.Join(inPath, e.Name())
		if e.IsDir() {
			files, err := collectCSVFiles(p)
			if err != nil {
				return nil, err
			}
			if len(files) > 0 {
				batches = append(batches, Batch{Name: e.Name(), Root: p, Files: files})
			}
			continue
		}
		if isCSV(p) {
			direct = append(direct, p)
		}
	}
	if len(direct) > 0 {
		sort.Strings(direct)
		batches = append(batches, Batch{Name: filepath.Base(filepath.Clean(inPath)), Root: inPath, Files: direct})
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].Name < batches[j].Name })
	if len(batches) == 0 {
		return nil, errors.New("no .csv files found under -chats")
	}
	return batches, nil
}

func collectCSVFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if isCSV(path) && !strings.HasPrefix(d.Name(), ".") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}
