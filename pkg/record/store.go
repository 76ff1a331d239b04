package record

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/paivaspol/mahimahi/pkg/errors"
	"github.com/paivaspol/mahimahi/pkg/httpmsg"
)

// BackingStore persists completed request-response pairs.
type BackingStore interface {
	// Save persists one completed exchange. The response must carry its
	// request. Called from per-connection goroutines; implementations
	// must be safe for concurrent use.
	Save(resp *httpmsg.Response, scheme Scheme, ip string, port uint32) error
}

// DiskStore writes one record per uniquely named file in a recording
// directory. File-level atomicity only; write ordering is unspecified.
type DiskStore struct {
	dir string
	log *logrus.Entry
}

// NewDiskStore opens (and creates, if needed) the recording directory.
func NewDiskStore(dir string, log *logrus.Entry) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewIOError("creating recording directory", err)
	}
	return &DiskStore{dir: dir, log: log}, nil
}

// Save serializes the exchange and persists it under a fresh "save_" file.
func (s *DiskStore) Save(resp *httpmsg.Response, scheme Scheme, ip string, port uint32) error {
	req := resp.Request()
	if req == nil {
		return errors.NewInternalError("saving a response with no request attached")
	}

	rec := RequestResponse{
		Scheme:   scheme,
		IP:       ip,
		Port:     port,
		Request:  req.Message,
		Response: resp.Message,
	}

	f, err := os.CreateTemp(s.dir, "save_*")
	if err != nil {
		return errors.NewIOError("creating record file", err)
	}
	if _, err := f.Write(rec.Marshal()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return errors.NewIOError("writing record file", err)
	}
	if err := f.Close(); err != nil {
		return errors.NewIOError("closing record file", err)
	}

	s.log.WithFields(logrus.Fields{
		"file": filepath.Base(f.Name()),
		"url":  req.URL(),
	}).Debug("saved record")
	return nil
}

// NoopStore discards every exchange. Used for pure serialization runs where
// recording is not wanted.
type NoopStore struct{}

// Save implements BackingStore by doing nothing.
func (NoopStore) Save(*httpmsg.Response, Scheme, string, uint32) error {
	return nil
}

// Load reads and decodes a single record file.
func Load(path string) (*RequestResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("reading record file", err)
	}
	var rec RequestResponse
	if err := rec.Unmarshal(data); err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadDirectory decodes every record in dir, in directory-iteration order.
// The returned paths parallel the records for diagnostics.
func LoadDirectory(dir string) ([]*RequestResponse, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errors.NewIOError("listing recording directory", err)
	}

	var records []*RequestResponse
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rec, err := Load(path)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
		paths = append(paths, path)
	}
	return records, paths, nil
}
