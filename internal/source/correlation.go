package source

import "github.com/google/uuid"

// newCorrelationID returns a per-cycle identifier threaded through log
// records so a single source cycle's entries can be grepped together.
func newCorrelationID() string {
	return uuid.NewString()
}
