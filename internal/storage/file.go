// Package storage persists the member table and the ledger as CSV files.
// Every save rewrites the whole file through a temp file and a rename, so a reader
// sees either the previous table or the new one.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"referral-ledger/internal/models"
)

// ErrNotExist is returned by LoadMembers when no member table has been persisted yet.
var ErrNotExist = errors.New("member table does not exist")

type FileStore struct {
	MembersPath string
	LedgerPath  string
}

func NewFileStore(membersPath, ledgerPath string) *FileStore {
	return &FileStore{MembersPath: membersPath, LedgerPath: ledgerPath}
}

func (s *FileStore) LoadMembers(ctx context.Context) ([]models.Member, error) {
	f, err := os.Open(s.MembersPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open member table: %w", err)
	}
	defer f.Close()

	members, err := ReadMembers(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.MembersPath, err)
	}
	return members, nil
}

func (s *FileStore) SaveMembers(ctx context.Context, members []models.Member) error {
	return writeAtomic(s.MembersPath, func(w io.Writer) error {
		return WriteMembers(w, members)
	})
}

// LoadEntries returns an empty ledger when the file does not exist yet.
func (s *FileStore) LoadEntries(ctx context.Context) ([]models.Entry, error) {
	f, err := os.Open(s.LedgerPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	entries, err := ReadEntries(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.LedgerPath, err)
	}
	return entries, nil
}

func (s *FileStore) SaveEntries(ctx context.Context, entries []models.Entry) error {
	return writeAtomic(s.LedgerPath, func(w io.Writer) error {
		return WriteEntries(w, entries)
	})
}

func writeAtomic(path string, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
