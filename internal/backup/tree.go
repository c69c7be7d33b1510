package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/hamed0406/pipewatch/internal/domain"
)

// TreeCopy recursively copies Source into <run>/<category path>. The copy is
// built under a ".partial" name and renamed into place only once complete,
// so a failed copy never leaves a destination that looks finished.
type TreeCopy struct {
	Cat     string
	Source  string
	Timeout time.Duration
}

// NewOrchestrationCopy copies the scheduler's definition directory.
func NewOrchestrationCopy(source string, timeout time.Duration) *TreeCopy {
	return &TreeCopy{Cat: domain.CategoryOrchestrationDefs, Source: source, Timeout: timeout}
}

// NewProjectCopy copies a named project tree, tagged "project:<name>".
func NewProjectCopy(name, source string, timeout time.Duration) *TreeCopy {
	return &TreeCopy{Cat: domain.ProjectCategory(name), Source: source, Timeout: timeout}
}

func (t *TreeCopy) Category() string { return t.Cat }

func (t *TreeCopy) Capture(ctx context.Context, run Run) domain.BackupArtifact {
	return capture(ctx, t.Cat, t.Timeout, func(ctx context.Context) (string, error) {
		info, err := os.Stat(t.Source)
		if err != nil {
			return "", domain.NewFault(domain.CaptureFault, "stat source", err)
		}
		if !info.IsDir() {
			return "", domain.NewFault(domain.CaptureFault, "stat source", fmt.Errorf("%s is not a directory", t.Source))
		}

		dest := filepath.Join(run.Dir, domain.CategoryPath(t.Cat))
		partial := dest + ".partial"
		if err := os.RemoveAll(partial); err != nil {
			return "", domain.NewFault(domain.CaptureFault, "clear partial", err)
		}
		if err := copyTree(ctx, t.Source, partial); err != nil {
			return "", domain.NewFault(domain.CaptureFault, "copy "+t.Source, multierr.Append(err, os.RemoveAll(partial)))
		}
		if err := os.Rename(partial, dest); err != nil {
			return "", domain.NewFault(domain.CaptureFault, "finalize", multierr.Append(err, os.RemoveAll(partial)))
		}
		return dest, nil
	})
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(p, target)
		default:
			// sockets, devices and pipes have no content to back up
			return nil
		}
	})
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()
	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
