// Package cleaner implements the Rejected-File Cleaner (spec §4.B): it
// moves files the pipeline refused into the rejected bin and tears down
// any partial on-disk tree for the media id that was never committed.
package cleaner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/buulam/clapshot/internal/logger"
)

// Clean moves srcPath into <dataDir>/rejected/, suffixing the basename
// with a UTC timestamp on a collision, and (if mediaId is non-empty)
// removes <dataDir>/videos/<mediaId>/ if it exists. Idempotent: a
// missing source file is not an error (I4/I5).
func Clean(dataDir, srcPath, mediaId string) error {
	rejectedDir := filepath.Join(dataDir, "rejected")
	if err := os.MkdirAll(rejectedDir, 0o755); err != nil {
		return fmt.Errorf("cleaner: mkdir %s: %w", rejectedDir, err)
	}

	if err := moveToRejected(srcPath, rejectedDir); err != nil {
		return err
	}

	if mediaId != "" {
		videoDir := filepath.Join(dataDir, "videos", mediaId)
		if _, err := os.Stat(videoDir); err == nil {
			if err := os.RemoveAll(videoDir); err != nil {
				return fmt.Errorf("cleaner: remove %s: %w", videoDir, err)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("cleaner: stat %s: %w", videoDir, err)
		}
	}

	return nil
}

func moveToRejected(srcPath, rejectedDir string) error {
	if _, err := os.Stat(srcPath); err != nil {
		if os.IsNotExist(err) {
			logger.Debug("cleaner: source already gone: %s", srcPath)
			return nil
		}
		return fmt.Errorf("cleaner: stat %s: %w", srcPath, err)
	}

	dst := filepath.Join(rejectedDir, filepath.Base(srcPath))
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(rejectedDir, fmt.Sprintf("%s.%s", filepath.Base(srcPath), time.Now().UTC().Format("20060102T150405Z")))
	}

	return MoveFile(srcPath, dst)
}

// MoveFile renames srcPath to dstPath, falling back to copy+remove when
// the two paths live on different filesystems (EXDEV). Used by the
// Dispatcher to relocate an accepted file into videos/<id>/orig/ (spec
// §4.F step 3) as well as by the rejection path above.
func MoveFile(srcPath, dstPath string) error {
	if err := os.Rename(srcPath, dstPath); err != nil {
		if isCrossDevice(err) {
			if err := copyFile(srcPath, dstPath); err != nil {
				return fmt.Errorf("cleaner: copy %s to %s: %w", srcPath, dstPath, err)
			}
			return os.Remove(srcPath)
		}
		return fmt.Errorf("cleaner: move %s to %s: %w", srcPath, dstPath, err)
	}
	return nil
}

// isCrossDevice reports whether a rename failed because src/dst are on
// different filesystems (EXDEV), the one case a plain os.Rename cannot
// handle and a copy+remove must substitute for it.
func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err != nil && linkErr.Err.Error() == "invalid cross-device link"
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
