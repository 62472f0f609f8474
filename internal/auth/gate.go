// Package auth gates every sensitive bot operation behind the shared
// allow-list. The gate holds no membership state of its own: each check
// re-reads the settings repository, so revoking a user takes effect on
// their very next message.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"github.com/deexno/checkmk-telegram-plus/internal/settings"
)

// Repository is the slice of the settings store the gate depends on.
type Repository interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
	AddAllowedUser(ctx context.Context, userID int64) error
	RemoveAllowedUser(ctx context.Context, userID int64) error
	SetPassword(ctx context.Context, password string) error
}

type Gate struct {
	repo   Repository
	logger *slog.Logger
}

func NewGate(repo Repository, logger *slog.Logger) (*Gate, error) {
	if repo == nil {
		return nil, fmt.Errorf("missing settings repository")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{repo: repo, logger: logger}, nil
}

// IsAuthenticated reloads the allow-list and tests membership.
func (g *Gate) IsAuthenticated(ctx context.Context, userID int64) (bool, error) {
	if g == nil || g.repo == nil {
		return false, fmt.Errorf("auth gate is not initialized")
	}
	snap, err := g.repo.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return snap.IsAllowed(userID), nil
}

// Authorize is IsAuthenticated plus the access log line. Authenticated and
// unauthenticated attempts are logged distinctly; a denial is a normal
// outcome, not an error.
func (g *Gate) Authorize(ctx context.Context, userID int64, username string, command string) (bool, error) {
	ok, err := g.IsAuthenticated(ctx, userID)
	if err != nil {
		return false, err
	}
	if ok {
		g.logger.Info("command_authorized", "user", username, "user_id", userID, "command", command)
		return true, nil
	}
	g.logger.Warn("command_denied", "user", username, "user_id", userID, "command", command)
	return false, nil
}

// Authenticate compares the offered password with the stored credential
// and, on a match, grants the user. An empty stored credential never
// matches: a bot without a configured password accepts nobody.
func (g *Gate) Authenticate(ctx context.Context, userID int64, username string, password string) (bool, error) {
	if g == nil || g.repo == nil {
		return false, fmt.Errorf("auth gate is not initialized")
	}
	snap, err := g.repo.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	if snap.Password == "" ||
		subtle.ConstantTimeCompare([]byte(snap.Password), []byte(password)) != 1 {
		g.logger.Error("authentication_failed", "user", username, "user_id", userID)
		return false, nil
	}
	if err := g.repo.AddAllowedUser(ctx, userID); err != nil {
		return false, err
	}
	g.logger.Info("authentication_succeeded", "user", username, "user_id", userID)
	return true, nil
}

// Grant and Revoke are idempotent allow-list mutations.
func (g *Gate) Grant(ctx context.Context, userID int64) error {
	if g == nil || g.repo == nil {
		return fmt.Errorf("auth gate is not initialized")
	}
	return g.repo.AddAllowedUser(ctx, userID)
}

func (g *Gate) Revoke(ctx context.Context, userID int64) error {
	if g == nil || g.repo == nil {
		return fmt.Errorf("auth gate is not initialized")
	}
	return g.repo.RemoveAllowedUser(ctx, userID)
}

// ChangePassword replaces the credential required for future grant
// attempts. Existing allow-list members keep their access.
func (g *Gate) ChangePassword(ctx context.Context, password string) error {
	if g == nil || g.repo == nil {
		return fmt.Errorf("auth gate is not initialized")
	}
	return g.repo.SetPassword(ctx, password)
}
