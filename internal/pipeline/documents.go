package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// checksumSHA256 fingerprints an upload so repeated imports can be spotted in
// the audit trail.
func checksumSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// cleanFilename strips any client-supplied directory and query parts.
func cleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.Index(name, "?"); idx > 0 {
		name = name[:idx]
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		return "statement"
	}
	return name
}
