// Package utils collects the small filesystem/network helpers shared
// across the scheduler: a plain file copy, an SSRF-guarding dialer, and
// URL redaction for logging. Carried over from the teacher's own
// internal/utils in spirit (same helper shapes), repurposed from
// download-file plumbing to metrics export and demo-provider dispatch.
package utils

import (
	"io"
	"os"

	"github.com/run-pi/pi/internal/logging"
)

var log = logging.With("utils")

// CopyFile copies a file from src to dst, used by the metrics store to
// export a SQLite snapshot without holding its write lock.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if err := in.Close(); err != nil {
			log.Debug().Err(err).Msg("close copy source")
		}
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Debug().Err(err).Msg("close copy destination")
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
