package fsutil

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
)

// readBufSize matches the Python source's 1 MiB chunked reads, chosen to
// bound memory use on large instrument output files.
const readBufSize = 1 << 20

// Fingerprint streams the full file content through MD5. On any open or
// read error it returns ok=false so the caller treats the file as not yet
// ready rather than failing hard.
func Fingerprint(path string) (sum string, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, readBufSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}
