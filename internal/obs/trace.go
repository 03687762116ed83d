package obs

import "github.com/google/uuid"

// CycleID returns a fresh id that tags every log line of one cycle.
func CycleID() string {
	return uuid.NewString()
}
