// Package cache implements the crash-safe directory cache that backs the
// download / build / install pipeline.
//
// All cache writes go through an AtomicDir: work happens in a private scratch
// directory which is atomically renamed to the canonical path exactly once.
// Concurrent processes racing for the same canonical path cannot corrupt each
// other; the loser of the rename race discards its own work and reuses the
// winner's output. There are no lock files.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("cache")

// An AtomicDir manages the two-phase creation of a single canonical cache directory.
type AtomicDir struct {
	targetDir string
	workDir   string
}

// NewAtomicDir returns an AtomicDir for the given canonical directory.
// The work directory name carries a unique suffix so concurrent acquirers never share scratch space.
func NewAtomicDir(targetDir string) *AtomicDir {
	return &AtomicDir{
		targetDir: targetDir,
		workDir:   fmt.Sprintf("%s=%s", targetDir, uuid.New().String()),
	}
}

// TargetDir returns the canonical directory path.
func (d *AtomicDir) TargetDir() string {
	return d.targetDir
}

// WorkDir returns this acquirer's private scratch directory, creating it if needed.
func (d *AtomicDir) WorkDir() (string, error) {
	if err := os.MkdirAll(d.workDir, os.ModeDir|0775); err != nil {
		return "", fmt.Errorf("failed to create work directory %s: %w", d.workDir, err)
	}
	return d.workDir, nil
}

// IsFinalized returns true if the canonical directory already exists.
// This is a cheap read; no locking is involved.
func (d *AtomicDir) IsFinalized() bool {
	_, err := os.Lstat(d.targetDir)
	return err == nil
}

// Finalize promotes the work directory to the canonical path.
// If another acquirer won the race first, our work directory is discarded and their
// result stands; that is success, not failure. A rename failure with no winner in
// place is a genuine I/O error and is not retried.
func (d *AtomicDir) Finalize() error {
	if d.IsFinalized() {
		d.Discard()
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.targetDir), os.ModeDir|0775); err != nil {
		return err
	}
	if err := os.Rename(d.workDir, d.targetDir); err != nil {
		if d.IsFinalized() {
			// Lost the race; the other side's output is just as good.
			log.Debug("Lost finalization race for %s, discarding own work", d.targetDir)
			d.Discard()
			return nil
		}
		return fmt.Errorf("failed to finalize %s: %w", d.targetDir, err)
	}
	return nil
}

// Discard removes the work directory without promoting it.
func (d *AtomicDir) Discard() {
	if err := os.RemoveAll(d.workDir); err != nil {
		log.Warning("Failed to remove work directory %s: %s", d.workDir, err)
	}
}

// With acquires an AtomicDir for targetDir and, if it is not already finalized,
// runs populate against a private work directory and promotes it.
// If the canonical path already exists populate is never called.
func With(targetDir string, populate func(workDir string) error) error {
	dir := NewAtomicDir(targetDir)
	if dir.IsFinalized() {
		return nil
	}
	workDir, err := dir.WorkDir()
	if err != nil {
		return err
	}
	if err := populate(workDir); err != nil {
		dir.Discard()
		return err
	}
	return dir.Finalize()
}
