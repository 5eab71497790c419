// Package archive holds the storage-side transforms applied to downloaded
// logs: gzip compression and date-bucketed archival.
package archive

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

const filePerm = 0o644

// CompressFile writes a gzip stream containing exactly the bytes of src to dst.
// dst is replaced if it exists. On failure dst is removed so a truncated
// artifact is never left behind.
func CompressFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}

	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close artifact: %w", cerr)
		}

		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	return Compress(out, in)
}

// Compress gzips everything read from r into w.
func Compress(w io.Writer, r io.Reader) error {
	zw := gzip.NewWriter(w)

	if _, err := io.Copy(zw, r); err != nil {
		_ = zw.Close()
		return fmt.Errorf("compress: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush gzip stream: %w", err)
	}

	return nil
}
