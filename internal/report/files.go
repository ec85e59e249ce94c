package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/Afrawles/activityreport/internal/apperr"
)

// FileName names a report file after its window, e.g.
// activity_details_2024-01-01_2024-01-31.csv.
func FileName(prefix, ext string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s_%s.%s", prefix, start.Format(dateLayout), end.Format(dateLayout), ext)
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place, so path is either complete or untouched.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create output directory", goerr.V("dir", dir), goerr.T(apperr.TagFileSystem))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("path", path), goerr.T(apperr.TagFileSystem))
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write report", goerr.V("path", path), goerr.T(apperr.TagFileSystem))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to flush report", goerr.V("path", path), goerr.T(apperr.TagFileSystem))
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return goerr.Wrap(err, "failed to set report permissions", goerr.V("path", path), goerr.T(apperr.TagFileSystem))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return goerr.Wrap(err, "failed to move report into place", goerr.V("path", path), goerr.T(apperr.TagFileSystem))
	}
	return nil
}
