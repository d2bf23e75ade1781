package pkg

import "github.com/google/uuid"

// GenerateSessionID returns a new opaque game session id.
func GenerateSessionID() string {
	return uuid.NewString()
}
