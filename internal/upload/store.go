package upload

import (
	"errors"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

// Store persists validated upload bodies to local disk.
//
// Files are created with O_EXCL so an existing file at the destination
// (a token collision or a pre-planted symlink) fails loudly instead of being
// overwritten. Any failure after creation removes the file before returning,
// so no partially written file is ever left at its public path.
type Store struct{}

// Put creates dest exclusively, streams body into it enforcing maxBytes, and
// fsyncs before returning the byte count. The caller must have fully
// validated the content beforehand: Put is the first point at which anything
// touches disk.
func (Store) Put(dest Destination, body io.Reader, maxBytes int64) (int64, error) {
	f, err := os.OpenFile(dest.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, wrapError(KindAlreadyExists, "destination already exists", err)
		}
		return 0, wrapError(KindIOError, "create destination", err)
	}

	written, err := copyBounded(f, body, maxBytes)
	if err != nil {
		f.Close()
		os.Remove(dest.Path)
		return 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(dest.Path)
		return 0, wrapError(KindIOError, "sync destination", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest.Path)
		return 0, wrapError(KindIOError, "close destination", err)
	}
	return written, nil
}

// copyBounded copies src to dst, rejecting bodies that exceed maxBytes. The
// limit is re-enforced here regardless of any declared length the transport
// already checked.
func copyBounded(dst io.Writer, src io.Reader, maxBytes int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			written += int64(n)
			if maxBytes > 0 && written > maxBytes {
				return written, newError(KindTooLarge,
					"file exceeds the "+humanize.IBytes(uint64(maxBytes))+" limit")
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, wrapError(KindIOError, "write destination", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			return written, wrapError(KindIOError, "read upload body", readErr)
		}
	}
}
