// Package uuid generates workflow instance IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 instance IDs, optionally prefixed
// with a workflow name so instances sort and group in the step log.
type Generator struct {
	prefix string
}

// New creates a Generator without a prefix.
func New() *Generator {
	return &Generator{}
}

// WithPrefix returns a Generator whose IDs read "{prefix}-{uuid}".
func WithPrefix(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a UUID7 string.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	if g.prefix == "" {
		return id.String(), nil
	}
	return g.prefix + "-" + id.String(), nil
}
