// Package file provides file-based persistence: every row is mirrored to a JSON file and the
// whole tree is loaded back into the in-memory index on start.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence/memory"
)

const (
	workflowsDir  = "workflows"
	executionsDir = "executions"
	markersDir    = "markers"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	*memory.Persistence

	root string
}

// NewPersistence opens (or creates) a file store rooted at the given path or file:// URL.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	for _, dir := range []string{workflowsDir, executionsDir, markersDir} {
		if err := os.MkdirAll(filepath.Join(cleanRoot, dir), 0750); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	fp := &Persistence{
		Persistence: memory.NewPersistence(),
		root:        cleanRoot,
	}

	workflows, err := readAll[models.Workflow](filepath.Join(cleanRoot, workflowsDir))
	if err != nil {
		return nil, err
	}

	executions, err := readAll[models.WorkflowExecution](filepath.Join(cleanRoot, executionsDir))
	if err != nil {
		return nil, err
	}

	markers, err := readAll[models.ActionMarker](filepath.Join(cleanRoot, markersDir))
	if err != nil {
		return nil, err
	}

	if err := fp.Load(workflows, executions, markers); err != nil {
		return nil, fmt.Errorf("failed to restore file store: %w", err)
	}

	fp.OnWrite(fp.mirror)

	return fp, nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) mirror(table string, obj any, deleted bool) error {
	dir, name, err := location(table, obj)
	if err != nil {
		return err
	}

	path := filepath.Join(fp.root, dir, name+".json")

	if deleted {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}

		return nil
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal %s row: %w", table, err)
	}

	// write-then-rename keeps a crash from leaving a truncated row behind
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}

	return nil
}

func location(table string, obj any) (string, string, error) {
	switch row := obj.(type) {
	case *models.Workflow:
		name, err := fileName(row.CompanyID, row.ID)

		return workflowsDir, name, err
	case *models.WorkflowExecution:
		name, err := fileName(row.CompanyID, row.ID)

		return executionsDir, name, err
	case *models.ActionMarker:
		name, err := fileName(row.ExecutionID, row.NodeID)

		return markersDir, name, err
	default:
		return "", "", fmt.Errorf("unsupported row type %T in table %s", obj, table)
	}
}

// fileName joins key parts after checking they are safe path segments.
func fileName(parts ...string) (string, error) {
	for _, part := range parts {
		if part == "" {
			return "", errors.New("identifier cannot be empty")
		}

		if strings.Contains(part, "..") || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("identifier %q contains invalid characters", part)
		}
	}

	return strings.Join(parts, "__"), nil
}

func readAll[T any](dir string) ([]*T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	rows := make([]*T, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name())) // #nosec G304 -- names come from our own directory listing
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		var row T
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", entry.Name(), err)
		}

		rows = append(rows, &row)
	}

	return rows, nil
}
