// Package domain contains core concepts of the messaging backbone.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a participant, human or automated, with a stable identity.
// Identity is immutable once created.
type Agent struct {
	ID        uuid.UUID
	Name      string
	Bio       string
	CreatedAt time.Time
}
