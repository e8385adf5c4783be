package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSnapshotChecksum reports a snapshot whose content does not match its recorded hash.
var ErrSnapshotChecksum = errors.New("snapshot checksum mismatch")

// FileStateStore keeps the engine snapshot in a local JSON file. The snapshot that was
// replaced by the last Save is kept next to it with a ".prev" suffix and is used when the
// current file fails its checksum.
type FileStateStore struct {
	Path string
}

type snapshotFile struct {
	SavedAt  string          `json:"saved_at"`
	Hash     common.Hash     `json:"hash"`
	Size     int             `json:"size"`
	Snapshot json.RawMessage `json:"snapshot"`
}

func (s *FileStateStore) previousPath() string {
	return s.Path + ".prev"
}

func (s *FileStateStore) Load(ctx context.Context) ([]byte, bool, error) {
	if s == nil || s.Path == "" {
		return nil, false, nil
	}
	snapshot, ok, err := readSnapshotFile(s.Path)
	if err == nil {
		return snapshot, ok, nil
	}
	if !errors.Is(err, ErrSnapshotChecksum) {
		return nil, false, err
	}

	prev, ok, prevErr := readSnapshotFile(s.previousPath())
	if prevErr != nil || !ok {
		return nil, false, err
	}
	return prev, true, nil
}

func (s *FileStateStore) Save(ctx context.Context, snapshot []byte) error {
	if s == nil || s.Path == "" {
		return nil
	}
	// Encode once so the hash covers the bytes the file will hold.
	snapshot, err := json.Marshal(json.RawMessage(snapshot))
	if err != nil {
		return fmt.Errorf("snapshot is not valid json: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	body, err := json.Marshal(snapshotFile{
		SavedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Hash:     crypto.Keccak256Hash(snapshot),
		Size:     len(snapshot),
		Snapshot: snapshot,
	})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(s.Path, s.previousPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate state: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func readSnapshotFile(path string) ([]byte, bool, error) {
	body, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read state: %w", err)
	}

	var file snapshotFile
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, ErrSnapshotChecksum)
	}
	if len(file.Snapshot) == 0 {
		return nil, false, nil
	}
	if len(file.Snapshot) != file.Size || !bytes.Equal(crypto.Keccak256(file.Snapshot), file.Hash.Bytes()) {
		return nil, false, fmt.Errorf("%s: %w", path, ErrSnapshotChecksum)
	}
	return file.Snapshot, true, nil
}
