package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowmod/flowmod/pkg/persistence"
)

// RunRepository archives finished runs as JSON documents under
// <root>/runs, one file per run id.
type RunRepository struct {
	dir string
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{dir: filepath.Join(root, "runs")}
}

func (r *RunRepository) Archive(_ context.Context, record *persistence.ArchivedRun) error {
	if !record.Run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", persistence.ErrRunNotTerminal, record.Run.ID, record.Run.Status)
	}

	err := os.MkdirAll(r.dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %q: %w", record.Run.ID, err)
	}

	err = os.WriteFile(r.path(record.Run.ID), data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write run %q: %w", record.Run.ID, err)
	}

	return nil
}

func (r *RunRepository) ByID(_ context.Context, id string) (*persistence.ArchivedRun, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrRunNotFound, id)
		}

		return nil, fmt.Errorf("failed to read run %q: %w", id, err)
	}

	record := &persistence.ArchivedRun{}

	err = json.Unmarshal(data, record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %q: %w", id, err)
	}

	return record, nil
}

func (r *RunRepository) All(ctx context.Context) ([]*persistence.ArchivedRun, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	records := make([]*persistence.ArchivedRun, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		record, err := r.ByID(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}

func (r *RunRepository) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}
