// Package history keeps the bounded conversation window of each session.
package history

import (
	"context"
	"fmt"

	"github.com/EXCurryBar/mybot/internal/models"
)

// DefaultWindow is how many messages a session keeps.
const DefaultWindow = 30

// Store persists conversation windows. Read returns messages oldest first;
// Append drops whatever falls outside the window.
// Failures wrap models.ErrPersistenceUnavailable.
type Store interface {
	Append(ctx context.Context, key string, role models.Role, content string) error
	Read(ctx context.Context, key string) ([]*models.Message, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistenceUnavailable, err)
}

func reverse(msgs []*models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
