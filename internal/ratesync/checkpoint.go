package ratesync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"yieldsplit/internal/storage/postgres"
)

// Checkpointer persists the last sampled block.
type Checkpointer interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, block uint64) error
}

type cursor struct {
	Block     uint64 `json:"block"`
	UpdatedAt string `json:"updated_at"`
}

type cursorFile struct {
	Cursors map[string]cursor `json:"cursors"`
}

// FileCheckpoint keeps named block cursors in one JSON file, mirroring the sync_state table.
// Several rate feeds can share a file as long as their names differ.
type FileCheckpoint struct {
	Path string
	Name string
}

func NewFileCheckpoint(path, name string) *FileCheckpoint {
	return &FileCheckpoint{Path: path, Name: name}
}

func (c *FileCheckpoint) Load(_ context.Context) (uint64, bool, error) {
	if c == nil || c.Path == "" {
		return 0, false, nil
	}
	file, err := c.read()
	if err != nil {
		return 0, false, err
	}
	cur, ok := file.Cursors[c.Name]
	return cur.Block, ok, nil
}

func (c *FileCheckpoint) Save(_ context.Context, block uint64) error {
	if c == nil || c.Path == "" {
		return nil
	}
	file, err := c.read()
	if err != nil {
		return err
	}
	if cur, ok := file.Cursors[c.Name]; ok && cur.Block > block {
		return fmt.Errorf("checkpoint %q would move back from %d to %d", c.Name, cur.Block, block)
	}
	file.Cursors[c.Name] = cursor{Block: block, UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano)}

	if dir := filepath.Dir(c.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	return os.Rename(tmp, c.Path)
}

func (c *FileCheckpoint) read() (cursorFile, error) {
	file := cursorFile{Cursors: make(map[string]cursor)}
	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return file, nil
	}
	if err != nil {
		return file, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse checkpoint %s: %w", c.Path, err)
	}
	if file.Cursors == nil {
		file.Cursors = make(map[string]cursor)
	}
	return file, nil
}

// DBCheckpoint stores the checkpoint in the sync_state table.
type DBCheckpoint struct {
	Store *postgres.Store
	Name  string
}

func (c *DBCheckpoint) Load(ctx context.Context) (uint64, bool, error) {
	if c == nil || c.Store == nil {
		return 0, false, nil
	}
	return c.Store.LoadCheckpoint(ctx, c.Name)
}

func (c *DBCheckpoint) Save(ctx context.Context, block uint64) error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.SaveCheckpoint(ctx, c.Name, block)
}
