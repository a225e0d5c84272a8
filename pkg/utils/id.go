package utils

import "github.com/google/uuid"

// NewRequestID returns a random identifier for correlating log lines.
func NewRequestID() string {
	return uuid.NewString()
}
