package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tunespace/core/models"
)

var (
	// ErrUnsupportedFormat is returned for files that are not JSON, CSV or JSONL
	ErrUnsupportedFormat = errors.New("only JSON, CSV, and JSONL files are supported")
	// ErrInvalidName is returned for file names that are empty or contain a path
	ErrInvalidName = errors.New("invalid dataset file name")
)

var datasetFormats = map[string]string{
	".json":  "json",
	".jsonl": "jsonl",
	".csv":   "csv",
}

// DatasetStore keeps uploaded training datasets in a local directory
type DatasetStore struct {
	dir string
}

// NewDatasetStore creates the store, creating dir if needed
func NewDatasetStore(dir string) (*DatasetStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &DatasetStore{dir: dir}, nil
}

// Dir returns the directory datasets are stored in
func (s *DatasetStore) Dir() string {
	return s.dir
}

// Save writes r to the store under name, replacing any previous file
func (s *DatasetStore) Save(name string, r io.Reader) (models.DatasetInfo, error) {
	format, err := datasetFormat(name)
	if err != nil {
		return models.DatasetInfo{}, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return models.DatasetInfo{}, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return models.DatasetInfo{}, fmt.Errorf("writing dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return models.DatasetInfo{}, fmt.Errorf("writing dataset: %w", err)
	}

	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return models.DatasetInfo{}, fmt.Errorf("storing dataset: %w", err)
	}

	return models.DatasetInfo{Name: name, Path: path, Size: size, Format: format}, nil
}

// List returns every supported dataset file sorted by name
func (s *DatasetStore) List() ([]models.DatasetInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.DatasetInfo{}, nil
		}
		return nil, fmt.Errorf("reading data dir: %w", err)
	}

	datasets := []models.DatasetInfo{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		format, err := datasetFormat(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		datasets = append(datasets, models.DatasetInfo{
			Name:   e.Name(),
			Path:   filepath.Join(s.dir, e.Name()),
			Size:   info.Size(),
			Format: format,
		})
	}

	sort.Slice(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })
	return datasets, nil
}

func datasetFormat(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	format, ok := datasetFormats[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return "", ErrUnsupportedFormat
	}
	return format, nil
}
