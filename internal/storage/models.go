package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Preference is one explicitly written setting. Value holds the JSON
// encoding of the setting's value; Kind names its semantic type.
type Preference struct {
	Key       string
	Kind      string
	Value     string
	UpdatedAt time.Time
	UpdatedBy string // instance ID of the writing process
}
