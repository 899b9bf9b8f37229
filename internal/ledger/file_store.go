package ledger

import (
	"context"

	"github.com/vdavid/listsweep/internal/jsonfile"
)

// FileStore keeps the ledger in a single JSON document.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns an empty snapshot when the file does not exist yet.
func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	var snap Snapshot
	if _, err := jsonfile.Read(s.path, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	return jsonfile.Write(s.path, snap)
}
