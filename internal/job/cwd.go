package job

import "path/filepath"

// PathToBytes encodes a working directory for storage. Paths are kept as
// raw bytes so directories whose names are not valid UTF-8 round-trip.
func PathToBytes(p string) []byte {
	if p == "" {
		return nil
	}
	return []byte(filepath.Clean(p))
}

// BytesToPath is the inverse of PathToBytes.
func BytesToPath(b []byte) string {
	return string(b)
}
