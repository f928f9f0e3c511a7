package task

import (
	"strings"

	"github.com/google/uuid"
)

// IDLength is the length of generated task ids.
const IDLength = 10

// NewID generates a short opaque alphanumeric task id.
// Ids are lowercase hex drawn from a v4 UUID, long enough that collisions
// within a single project database are not a practical concern.
func NewID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:IDLength]
}
