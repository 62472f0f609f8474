package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/deexno/checkmk-telegram-plus/internal/auth"
	"github.com/deexno/checkmk-telegram-plus/internal/telegram"
)

type Options struct {
	Gate          *auth.Gate
	Monitor       Monitoring
	Subscriptions Subscriptions
	// Graphs is optional; without it the graphs flow is not offered.
	Graphs GraphSource
	Logger *slog.Logger
	// IdleTimeout is how long a conversation may sit untouched before
	// the sweeper drops it (default 10m).
	IdleTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine routes inbound chat messages: slash commands, flow entry
// triggers and mid-flow answers. Every step re-checks the allow-list so
// a revocation takes effect immediately, mid-conversation included.
type Engine struct {
	gate          *auth.Gate
	monitor       Monitoring
	subscriptions Subscriptions
	graphs        GraphSource
	logger        *slog.Logger
	idleTimeout   time.Duration
	nowFn         func() time.Time

	mu       sync.Mutex
	sessions map[int64]*session

	flows []Flow
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Gate == nil {
		return nil, fmt.Errorf("missing authentication gate")
	}
	if opts.Monitor == nil {
		return nil, fmt.Errorf("missing monitoring source")
	}
	if opts.Subscriptions == nil {
		return nil, fmt.Errorf("missing subscriptions repository")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	e := &Engine{
		gate:          opts.Gate,
		monitor:       opts.Monitor,
		subscriptions: opts.Subscriptions,
		graphs:        opts.Graphs,
		logger:        logger,
		idleTimeout:   idleTimeout,
		nowFn:         nowFn,
		sessions:      make(map[int64]*session),
	}
	e.flows = e.standardFlows()
	return e, nil
}

// Commands returns the slash commands the bot advertises.
func Commands() []telegram.BotCommand {
	return []telegram.BotCommand{
		{Command: "start", Description: "Start a chat with the bot"},
		{Command: "help", Description: "Get help"},
		{Command: "menu", Description: "Update the menu"},
		{Command: "cancel", Description: "Cancel a conversation"},
		{Command: "authenticate", Description: "Verify yourself to the bot"},
	}
}

// HandleMessage processes one inbound text message and returns the
// replies to send. Unauthenticated users get no response beyond /start
// and the password exchange. Errors never escape: they are logged and
// turned into one generic failure message.
func (e *Engine) HandleMessage(ctx context.Context, userID int64, username, text string) []Reply {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	word, _ := telegram.SplitCommand(text)
	command := telegram.NormalizeSlashCommand(word)

	if sess := e.getSession(userID); sess != nil && sess.awaitingPassword && command == "" {
		e.endSession(userID)
		return e.finishAuthentication(ctx, userID, username, text)
	}

	switch command {
	case "/start", "/menu":
		e.endSession(userID)
		return e.handleStart(ctx, userID, username, command)
	case "/help":
		return e.handleHelp(ctx, userID, username)
	case "/cancel":
		return e.handleCancel(ctx, userID, username)
	case "/authenticate":
		return e.handleAuthenticate(ctx, userID, username)
	}

	if flow := e.flowByLabel(text); flow != nil {
		return e.startFlow(ctx, userID, username, flow)
	}
	if sess := e.getSession(userID); sess != nil && sess.flow != nil {
		return e.advanceFlow(ctx, userID, username, sess, text)
	}

	ok, err := e.gate.Authorize(ctx, userID, username, "unmatched message")
	if err != nil {
		e.logger.Error("authorization_check_failed", "user_id", userID, "error", err.Error())
		return e.errorReply()
	}
	if !ok {
		return nil
	}
	return []Reply{{Text: msgFallback, Keyboard: HomeMenu()}}
}

func (e *Engine) flowByLabel(label string) *Flow {
	for i := range e.flows {
		if e.flows[i].Label == label {
			return &e.flows[i]
		}
	}
	return nil
}

func (e *Engine) errorReply() []Reply {
	return []Reply{{Text: MsgProcessingError, Keyboard: HomeMenu()}}
}

func (e *Engine) handleStart(ctx context.Context, userID int64, username, command string) []Reply {
	ok, err := e.gate.Authorize(ctx, userID, username, command)
	if err != nil {
		e.logger.Error("authorization_check_failed", "user_id", userID, "error", err.Error())
		return e.errorReply()
	}
	if !ok {
		return []Reply{{Text: msgNotAuthenticated}}
	}
	greeting := fmt.Sprintf("Hi! %s 👋. I have added a menu to your keyboard ⌨️, "+
		"which you can use to interact with me. If you don't see it, type "+
		"/menu. If you need help just try /help", username)
	return []Reply{{Text: greeting, Keyboard: HomeMenu()}}
}

func (e *Engine) handleHelp(ctx context.Context, userID int64, username string) []Reply {
	ok, err := e.gate.Authorize(ctx, userID, username, "/help")
	if err != nil {
		e.logger.Error("authorization_check_failed", "user_id", userID, "error", err.Error())
		return e.errorReply()
	}
	if !ok {
		return nil
	}
	return []Reply{{Text: msgHelp, Keyboard: HomeMenu()}}
}

func (e *Engine) handleCancel(ctx context.Context, userID int64, username string) []Reply {
	ok, err := e.gate.Authorize(ctx, userID, username, "/cancel")
	if err != nil {
		e.logger.Error("authorization_check_failed", "user_id", userID, "error", err.Error())
		return e.errorReply()
	}
	if !ok {
		return nil
	}
	e.endSession(userID)
	return []Reply{{Text: msgCancelled, Keyboard: HomeMenu()}}
}

func (e *Engine) handleAuthenticate(ctx context.Context, userID int64, username string) []Reply {
	authenticated, err := e.gate.IsAuthenticated(ctx, userID)
	if err != nil {
		e.logger.Error("authorization_check_failed", "user_id", userID, "error", err.Error())
		return e.errorReply()
	}
	if authenticated {
		return []Reply{{Text: msgAlreadyAuthenticated, Keyboard: HomeMenu()}}
	}
	e.putSession(userID, &session{awaitingPassword: true})
	return []Reply{{Text: msgPasswordPrompt}}
}

func (e *Engine) finishAuthentication(ctx context.Context, userID int64, username, password string) []Reply {
	ok, err := e.gate.Authenticate(ctx, userID, username, password)
	if err != nil {
		e.logger.Error("authentication_error", "user_id", userID, "error", err.Error())
		return e.errorReply()
	}
	if !ok {
		return []Reply{{Text: msgWrongPassword}}
	}
	return []Reply{{Text: msgAuthenticated, Keyboard: HomeMenu()}}
}

// startFlow begins a new conversation. An already active session is
// superseded: the old state is dropped and the new flow starts clean.
func (e *Engine) startFlow(ctx context.Context, userID int64, username string, flow *Flow) []Reply {
	ok, err := e.gate.Authorize(ctx, userID, username, flow.Label)
	if err != nil {
		e.logger.Error("authorization_check_failed", "user_id", userID, "error", err.Error())
		return e.errorReply()
	}
	if !ok {
		return nil
	}

	e.endSession(userID)
	step := flow.Steps[0]
	options, err := step.Options(ctx, userID, map[string]string{})
	if err != nil {
		e.logger.Error("flow_step_failed", "user_id", userID, "flow", flow.Label, "step", step.Key, "error", err.Error())
		return e.errorReply()
	}
	e.putSession(userID, &session{
		flow:       flow,
		stepIndex:  0,
		selections: make(map[string]string),
		offered:    options,
	})
	return []Reply{{
		Text:     step.Prompt,
		Keyboard: telegram.ReplyKeyboardFromColumn(options, step.Placeholder),
	}}
}

// advanceFlow consumes one answer. Invalid answers re-prompt with fresh
// options; a failing step terminates the conversation with the generic
// failure message rather than retrying.
func (e *Engine) advanceFlow(ctx context.Context, userID int64, username string, sess *session, text string) []Reply {
	flow := sess.flow
	ok, err := e.gate.Authorize(ctx, userID, username, flow.Label)
	if err != nil {
		e.endSession(userID)
		e.logger.Error("authorization_check_failed", "user_id", userID, "error", err.Error())
		return e.errorReply()
	}
	if !ok {
		e.endSession(userID)
		return nil
	}

	step := flow.Steps[sess.stepIndex]
	if !slices.Contains(sess.offered, text) {
		options, err := step.Options(ctx, userID, sess.selections)
		if err != nil {
			e.endSession(userID)
			e.logger.Error("flow_step_failed", "user_id", userID, "flow", flow.Label, "step", step.Key, "error", err.Error())
			return e.errorReply()
		}
		sess.offered = options
		e.touchSession(userID)
		return []Reply{{
			Text:     msgInvalidChoice,
			Keyboard: telegram.ReplyKeyboardFromColumn(options, step.Placeholder),
		}}
	}

	sess.selections[step.Key] = text
	next := sess.stepIndex + 1
	if next < len(flow.Steps) {
		nextStep := flow.Steps[next]
		options, err := nextStep.Options(ctx, userID, sess.selections)
		if err != nil {
			e.endSession(userID)
			e.logger.Error("flow_step_failed", "user_id", userID, "flow", flow.Label, "step", nextStep.Key, "error", err.Error())
			return e.errorReply()
		}
		sess.stepIndex = next
		sess.offered = options
		e.touchSession(userID)
		return []Reply{{
			Text:     nextStep.Prompt,
			Keyboard: telegram.ReplyKeyboardFromColumn(options, nextStep.Placeholder),
		}}
	}

	e.endSession(userID)
	replies, err := flow.Action(ctx, userID, sess.selections)
	if err != nil {
		e.logger.Error("flow_action_failed", "user_id", userID, "flow", flow.Label, "error", err.Error())
		return e.errorReply()
	}
	e.logger.Info("flow_completed", "user_id", userID, "username", username, "flow", flow.Label)
	return replies
}
