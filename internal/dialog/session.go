package dialog

import (
	"context"
	"time"
)

// session is the in-memory conversation state of one user. Sessions are
// process-local and disappear on restart; in-flight conversations are
// an accepted loss boundary.
type session struct {
	flow             *Flow
	stepIndex        int
	selections       map[string]string
	offered          []string
	awaitingPassword bool
	lastActivity     time.Time
}

func (e *Engine) getSession(userID int64) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[userID]
}

func (e *Engine) putSession(userID int64, sess *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess.lastActivity = e.nowFn()
	e.sessions[userID] = sess
}

func (e *Engine) endSession(userID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, userID)
}

func (e *Engine) touchSession(userID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sess, ok := e.sessions[userID]; ok {
		sess.lastActivity = e.nowFn()
	}
}

// SweepIdleSessions drops conversations idle longer than the engine's
// timeout and returns how many were dropped.
func (e *Engine) SweepIdleSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.nowFn()
	dropped := 0
	for userID, sess := range e.sessions {
		if now.Sub(sess.lastActivity) > e.idleTimeout {
			delete(e.sessions, userID)
			dropped++
		}
	}
	return dropped
}

// RunSweeper periodically sweeps idle sessions until the context is
// cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if dropped := e.SweepIdleSessions(); dropped > 0 {
				e.logger.Info("sessions_swept", "dropped", dropped)
			}
		}
	}
}
