// Package settings is the shared configuration repository: the allow-list,
// per-user notification subscriptions and the authentication password. It
// is deliberately stateless in-process; every read loads the backing file
// so a revocation made by another process (or the operator editing via the
// CLI) takes effect on the very next call.
package settings

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/deexno/checkmk-telegram-plus/internal/fsstore"
)

const settingsFileVersion = 1

type Channel string

const (
	ChannelLoud   Channel = "notifications_loud"
	ChannelSilent Channel = "notifications_silent"
)

func ParseChannel(raw string) (Channel, error) {
	switch Channel(strings.TrimSpace(raw)) {
	case ChannelLoud:
		return ChannelLoud, nil
	case ChannelSilent:
		return ChannelSilent, nil
	default:
		return "", fmt.Errorf("invalid notification channel: %q", raw)
	}
}

type Snapshot struct {
	Version      int     `json:"version"`
	Password     string  `json:"password"`
	AllowedUsers []int64 `json:"allowed_users"`
	Loud         []int64 `json:"notifications_loud"`
	Silent       []int64 `json:"notifications_silent"`
}

func (s Snapshot) IsAllowed(userID int64) bool {
	return slices.Contains(s.AllowedUsers, userID)
}

func (s Snapshot) IsSubscribed(userID int64, ch Channel) bool {
	return slices.Contains(s.channel(ch), userID)
}

func (s Snapshot) Recipients(ch Channel) []int64 {
	return slices.Clone(s.channel(ch))
}

func (s Snapshot) channel(ch Channel) []int64 {
	if ch == ChannelSilent {
		return s.Silent
	}
	return s.Loud
}

type Store struct {
	path     string
	lockPath string
}

func NewStore(path string, lockRoot string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("missing settings file path")
	}
	if strings.TrimSpace(lockRoot) == "" {
		return nil, fmt.Errorf("missing lock root")
	}
	lockPath, err := fsstore.BuildLockPath(lockRoot, "state.bot_settings")
	if err != nil {
		return nil, err
	}
	return &Store{path: path, lockPath: lockPath}, nil
}

// Snapshot reads the latest durable state. A missing file yields an empty
// snapshot (no users, no password), never an error.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	if s == nil {
		return Snapshot{}, fmt.Errorf("nil settings store")
	}
	_ = ctx
	return s.loadState()
}

func (s *Store) SetPassword(ctx context.Context, password string) error {
	if s == nil {
		return fmt.Errorf("nil settings store")
	}
	return s.update(ctx, func(state *Snapshot) {
		state.Password = password
	})
}

// AddAllowedUser grants userID; adding an existing member is a no-op.
func (s *Store) AddAllowedUser(ctx context.Context, userID int64) error {
	if s == nil {
		return fmt.Errorf("nil settings store")
	}
	return s.update(ctx, func(state *Snapshot) {
		state.AllowedUsers = insertUser(state.AllowedUsers, userID)
	})
}

// RemoveAllowedUser revokes userID; removing an absent member is a no-op.
func (s *Store) RemoveAllowedUser(ctx context.Context, userID int64) error {
	if s == nil {
		return fmt.Errorf("nil settings store")
	}
	return s.update(ctx, func(state *Snapshot) {
		state.AllowedUsers = removeUser(state.AllowedUsers, userID)
	})
}

// SetSubscription toggles a user's membership in a notification channel.
// Subscriptions are independent of the allow-list.
func (s *Store) SetSubscription(ctx context.Context, userID int64, ch Channel, enabled bool) error {
	if s == nil {
		return fmt.Errorf("nil settings store")
	}
	switch ch {
	case ChannelLoud, ChannelSilent:
	default:
		return fmt.Errorf("invalid notification channel: %q", ch)
	}
	return s.update(ctx, func(state *Snapshot) {
		if ch == ChannelSilent {
			if enabled {
				state.Silent = insertUser(state.Silent, userID)
			} else {
				state.Silent = removeUser(state.Silent, userID)
			}
			return
		}
		if enabled {
			state.Loud = insertUser(state.Loud, userID)
		} else {
			state.Loud = removeUser(state.Loud, userID)
		}
	})
}

func (s *Store) update(ctx context.Context, fn func(state *Snapshot)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return fsstore.WithLock(ctx, s.lockPath, func() error {
		state, err := s.loadState()
		if err != nil {
			return err
		}
		fn(&state)
		return s.saveState(state)
	})
}

func (s *Store) loadState() (Snapshot, error) {
	var state Snapshot
	ok, err := fsstore.ReadJSON(s.path, &state)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{Version: settingsFileVersion}, nil
	}
	if state.Version == 0 {
		state.Version = settingsFileVersion
	}
	return state, nil
}

func (s *Store) saveState(state Snapshot) error {
	if state.Version == 0 {
		state.Version = settingsFileVersion
	}
	return fsstore.WriteJSONAtomic(s.path, state)
}

func insertUser(users []int64, userID int64) []int64 {
	if slices.Contains(users, userID) {
		return users
	}
	return append(users, userID)
}

func removeUser(users []int64, userID int64) []int64 {
	return slices.DeleteFunc(users, func(id int64) bool { return id == userID })
}
