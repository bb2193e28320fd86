package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SubmissionKey derives the content address for a submission. Leading and
// trailing whitespace is trimmed before hashing; the body is otherwise
// byte-exact, so formatting differences inside the code produce distinct
// keys. The language tag is part of the address because identical source can
// be valid in one language and not another.
func SubmissionKey(language, code string) string {
	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte(":"))
	h.Write([]byte(strings.TrimSpace(code)))
	return hex.EncodeToString(h.Sum(nil))
}
