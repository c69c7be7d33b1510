package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// ListRuns returns the run ids that have an artifact directory under root,
// newest first. Directories whose names are not run ids are ignored.
func ListRuns(root string) ([]domain.RunID, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var ids []domain.RunID
	for _, e := range entries {
		if !e.IsDir() || strings.HasSuffix(e.Name(), ".partial") {
			continue
		}
		id := domain.RunID(e.Name())
		if _, ok := id.Time(); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids, nil
}

// Prune removes the artifact directories of all but the keep most recent
// runs and returns the ids it removed. The newest run is always kept.
// Reports under <root>/reports are left alone.
func Prune(root string, keep int) ([]domain.RunID, error) {
	if keep < 1 {
		keep = 1
	}
	ids, err := ListRuns(root)
	if err != nil {
		return nil, err
	}
	if len(ids) <= keep {
		return nil, nil
	}
	var (
		removed []domain.RunID
		errs    error
	)
	for _, id := range ids[keep:] {
		if err := os.RemoveAll(filepath.Join(root, string(id))); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove run %s: %w", id, err))
			continue
		}
		removed = append(removed, id)
	}
	return removed, errs
}
