package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// bucketMarker prefixes every bucket name. It can never be produced by
// Escape: Escape only ever emits '%' followed by exactly two valid hex
// digits, and 'z' is not a hex digit, so this sequence is unambiguous
// against any legitimately escaped LogicalPath (which, unlike a bucket
// name, may otherwise contain literal "/" path separators of its own).
const bucketMarker = "%zkt:"

// BucketName rewrites an escaped relay name that exceeds a backend's
// maximum length into a stable 2-level bucketed name (§4.2). The
// original LogicalPath must be recorded by the caller in the index's
// side table so the mapping can be reversed at lookup time (see
// BoundName/ResolvePath); BucketName itself is one-way.
func BucketName(escaped string) string {
	sum := sha256.Sum256([]byte(escaped))
	hexSum := hex.EncodeToString(sum[:])
	return bucketMarker + hexSum[:2] + "/" + hexSum[2:]
}

// IsBucketName reports whether name was produced by BucketName, as
// opposed to being a literal Escape output.
func IsBucketName(name string) bool {
	return strings.HasPrefix(name, bucketMarker)
}

// NeedsBucket reports whether name exceeds maxLen and must be rewritten
// via BucketName before use on the relay. maxLen <= 0 means unbounded.
func NeedsBucket(name string, maxLen int) bool {
	return maxLen > 0 && len(name) > maxLen
}
