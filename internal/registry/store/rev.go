package store

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NextRev returns the revision token following prev ("" for a new document).
// Tokens look like "3-9f1c...": a generation counter and a random suffix.
func NextRev(prev string) string {
	gen := 0
	if i := strings.IndexByte(prev, '-'); i > 0 {
		gen, _ = strconv.Atoi(prev[:i])
	}
	return strconv.Itoa(gen+1) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
