// Package auth implements the eval-server's single-shared-secret bearer
// authentication.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// secretBufLen is the fixed comparison window preserved from the source
// behavior: any token sharing its first 5 bytes with the configured secret
// authenticates successfully. Do not widen this without also widening the
// comparison on both sides.
const secretBufLen = 5

// Verify reports whether the Authorization header on r carries a bearer
// token matching secret, using the fixed-length buffer comparison.
func Verify(r *http.Request, secret string) bool {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	return compareFixed(token, secret)
}

// compareFixed zero-pads or truncates both sides to secretBufLen bytes
// before a constant-time comparison, matching the source's literal
// behavior and providing length-independent timing.
func compareFixed(a, b string) bool {
	var bufA, bufB [secretBufLen]byte
	copy(bufA[:], a)
	copy(bufB[:], b)
	return subtle.ConstantTimeCompare(bufA[:], bufB[:]) == 1
}
