package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/deexno/checkmk-telegram-plus/internal/auth"
	"github.com/deexno/checkmk-telegram-plus/internal/dialog"
	"github.com/deexno/checkmk-telegram-plus/internal/livestatus"
	"github.com/deexno/checkmk-telegram-plus/internal/logutil"
	"github.com/deexno/checkmk-telegram-plus/internal/monitor"
	"github.com/deexno/checkmk-telegram-plus/internal/notify"
	"github.com/deexno/checkmk-telegram-plus/internal/telegram"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the notification dispatcher",
		RunE:  runServe,
	}

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	cmd.Flags().String("telegram-base-url", "", "Telegram API base URL.")
	cmd.Flags().Duration("telegram-poll-timeout", 0, "Long poll timeout for getUpdates.")
	cmd.Flags().String("livestatus-address", "", "Livestatus socket: unix:/path or tcp:host:port.")
	cmd.Flags().String("spool-dir", "", "Spool directory for file-based notification delivery (optional).")

	return cmd
}

// server ties the transport, the dialog engine and the monitoring
// source together for the update loop.
type server struct {
	api         *telegram.Client
	engine      *dialog.Engine
	gate        *auth.Gate
	source      *monitor.Source
	graphs      *monitor.GraphFetcher
	logger      *slog.Logger
	pollTimeout time.Duration
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	token := strings.TrimSpace(flagOrViperString(cmd, "telegram-bot-token", "telegram.bot_token"))
	if token == "" {
		return fmt.Errorf("missing telegram.bot_token (set via --telegram-bot-token or TELEGRAM_PLUS_TELEGRAM_BOT_TOKEN)")
	}
	api, err := telegram.NewClient(nil, flagOrViperString(cmd, "telegram-base-url", "telegram.base_url"), token)
	if err != nil {
		return err
	}

	repo, err := settingsStoreFromViper()
	if err != nil {
		return err
	}
	gate, err := auth.NewGate(repo, logger)
	if err != nil {
		return err
	}
	store, err := queueStoreFromViper()
	if err != nil {
		return err
	}

	ls, err := livestatus.NewClient(
		flagOrViperString(cmd, "livestatus-address", "livestatus.address"),
		viper.GetDuration("livestatus.timeout"))
	if err != nil {
		return err
	}
	source, err := monitor.New(ls, ls)
	if err != nil {
		return err
	}

	var graphs *monitor.GraphFetcher
	var graphSource dialog.GraphSource
	if base := strings.TrimSpace(viper.GetString("graphs.base_url")); base != "" {
		graphs, err = monitor.NewGraphFetcher(nil, base, viper.GetString("graphs.site"))
		if err != nil {
			return err
		}
		graphSource = graphs
	}

	engine, err := dialog.NewEngine(dialog.Options{
		Gate:          gate,
		Monitor:       source,
		Subscriptions: repo,
		Graphs:        graphSource,
		Logger:        logger,
		IdleTimeout:   viper.GetDuration("dialog.idle_timeout"),
	})
	if err != nil {
		return err
	}

	dispatcher, err := notify.NewDispatcher(notify.Options{
		Store:            store,
		Settings:         repo,
		Transport:        api,
		Logger:           logger,
		PollInterval:     viper.GetDuration("notify.poll_interval"),
		SendDelay:        viper.GetDuration("notify.send_delay"),
		MaxStoreFailures: viper.GetInt("notify.max_store_failures"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	me, err := api.GetMe(ctx)
	if err != nil {
		return err
	}
	logger.Info("telegram_start", "bot", me.Username)
	if err := api.SetMyCommands(ctx, dialog.Commands()); err != nil {
		logger.Error("set_commands_failed", "error", err.Error())
	}

	pollTimeout := flagOrViperDuration(cmd, "telegram-poll-timeout", "telegram.poll_timeout")
	srv := &server{
		api:         api,
		engine:      engine,
		gate:        gate,
		source:      source,
		graphs:      graphs,
		logger:      logger,
		pollTimeout: pollTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	if spoolDir := strings.TrimSpace(flagOrViperString(cmd, "spool-dir", "notify.spool_dir")); spoolDir != "" {
		watcher, err := notify.NewWatcher(spoolDir, dispatcher, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error { return engine.RunSweeper(gctx, time.Minute) })
	g.Go(func() error { return srv.runUpdates(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("telegram_stop")
	return nil
}

func (s *server) runUpdates(ctx context.Context) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, next, err := s.api.GetUpdates(ctx, offset, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("telegram_poll_failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		offset = next
		for _, update := range updates {
			s.handleUpdate(ctx, update)
		}
	}
}

func (s *server) handleUpdate(ctx context.Context, update telegram.Update) {
	switch {
	case update.CallbackQuery != nil:
		s.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil && update.Message.Chat != nil:
		replies := s.engine.HandleMessage(ctx, update.Message.From.ID, update.Message.From.Username, update.Message.Text)
		s.sendReplies(ctx, update.Message.Chat.ID, replies)
	}
}

func (s *server) sendReplies(ctx context.Context, chatID int64, replies []dialog.Reply) {
	for _, reply := range replies {
		var err error
		if len(reply.MediaGroup) > 0 {
			err = s.api.SendMediaGroup(ctx, chatID, reply.MediaGroup, true)
		} else {
			parseMode := ""
			if reply.HTML {
				parseMode = "HTML"
			}
			err = s.api.SendMessage(ctx, telegram.SendMessageRequest{
				ChatID:              chatID,
				Text:                reply.Text,
				ParseMode:           parseMode,
				DisableNotification: reply.DisableNotification,
				ReplyMarkup:         reply.Keyboard,
			})
		}
		if err != nil {
			s.logger.Error("telegram_send_failed", "chat_id", chatID, "error", err.Error())
		}
	}
}

func (s *server) handleCallback(ctx context.Context, q *telegram.CallbackQuery) {
	if q.From == nil {
		return
	}
	action, args := notify.DecodeCallback(q.Data)
	ok, err := s.gate.Authorize(ctx, q.From.ID, q.From.Username, "callback "+action)
	if err != nil {
		s.logger.Error("authorization_check_failed", "user_id", q.From.ID, "error", err.Error())
	}
	if err != nil || !ok {
		_ = s.api.AnswerCallbackQuery(ctx, q.ID, "")
		return
	}

	switch action {
	case notify.CallbackRecheck:
		s.handleRecheck(ctx, q, args)
	case notify.CallbackGraph:
		s.handleGraph(ctx, q, args)
	case notify.CallbackAcknowledge:
		s.handleAcknowledge(ctx, q, args)
	default:
		_ = s.api.AnswerCallbackQuery(ctx, q.ID, "")
	}
}

// handleRecheck forces a recheck, then edits the originating message in
// place with the fresh state and a bumped recheck counter.
func (s *server) handleRecheck(ctx context.Context, q *telegram.CallbackQuery, args []string) {
	_ = s.api.AnswerCallbackQuery(ctx, q.ID, "")
	if len(args) < 2 || q.Message == nil || q.Message.Chat == nil {
		return
	}
	service, host := args[0], args[1]
	count := 1
	if len(args) >= 3 {
		if n, err := strconv.Atoi(args[2]); err == nil {
			count = n + 1
		}
	}

	body, err := s.recheckedStatus(ctx, host, service)
	if err != nil {
		s.logger.Error("recheck_failed", "host", host, "service", service, "error", err.Error())
		_ = s.api.EditMessageText(ctx, q.Message.Chat.ID, q.Message.MessageID, dialog.MsgProcessingError, "", nil)
		return
	}

	text := fmt.Sprintf("(🔂 RECHECK %d - %s)\n\n%s", count, time.Now().Format("02/01/2006 15:04:05"), body)
	row := []telegram.InlineKeyboardButton{{
		Text:         "🔂 RECHECK",
		CallbackData: notify.EncodeCallback(notify.CallbackRecheck, service, host, strconv.Itoa(count)),
	}}
	if service != "" {
		row = append(row, telegram.InlineKeyboardButton{
			Text:         "📉 GET SERVICE GRAPHS",
			CallbackData: notify.EncodeCallback(notify.CallbackGraph, service, host),
		})
	}
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{row}}
	if err := s.api.EditMessageText(ctx, q.Message.Chat.ID, q.Message.MessageID, text, "HTML", markup); err != nil {
		s.logger.Error("telegram_edit_failed", "chat_id", q.Message.Chat.ID, "error", err.Error())
	}
}

func (s *server) recheckedStatus(ctx context.Context, host, service string) (string, error) {
	if service == "" {
		if err := s.source.RecheckHost(ctx, host); err != nil {
			return "", err
		}
		state, err := s.source.HostStatus(ctx, host)
		if err != nil {
			return "", err
		}
		return dialog.HostStatusMessage(host, state), nil
	}
	if err := s.source.RecheckService(ctx, host, service); err != nil {
		return "", err
	}
	details, err := s.source.ServiceDetails(ctx, host, service)
	if err != nil {
		return "", err
	}
	return dialog.ServiceDetailsMessage(details), nil
}

func (s *server) handleGraph(ctx context.Context, q *telegram.CallbackQuery, args []string) {
	_ = s.api.AnswerCallbackQuery(ctx, q.ID, "")
	if len(args) < 2 || s.graphs == nil {
		return
	}
	service, host := args[0], args[1]
	chatID := q.From.ID

	err := s.api.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:              chatID,
		Text:                dialog.GraphsAnnouncement(host, service),
		ParseMode:           "HTML",
		DisableNotification: true,
	})
	if err != nil {
		s.logger.Error("telegram_send_failed", "chat_id", chatID, "error", err.Error())
		return
	}

	images, err := s.graphs.FetchGraphs(ctx, host, service)
	if err != nil {
		s.logger.Error("graph_fetch_failed", "host", host, "service", service, "error", err.Error())
		_ = s.api.SendMessage(ctx, telegram.SendMessageRequest{ChatID: chatID, Text: dialog.MsgProcessingError})
		return
	}
	for _, chunk := range monitor.ChunkGraphs(images, monitor.MediaGroupLimit) {
		if err := s.api.SendMediaGroup(ctx, chatID, chunk, true); err != nil {
			s.logger.Error("telegram_send_failed", "chat_id", chatID, "error", err.Error())
			return
		}
	}
}

func (s *server) handleAcknowledge(ctx context.Context, q *telegram.CallbackQuery, args []string) {
	if len(args) < 2 || args[0] == "" {
		_ = s.api.AnswerCallbackQuery(ctx, q.ID, "")
		return
	}
	service, host := args[0], args[1]
	comment := fmt.Sprintf("Acknowledged via Telegram by %s", q.From.Username)
	if err := s.source.AcknowledgeService(ctx, host, service, q.From.Username, comment); err != nil {
		s.logger.Error("acknowledge_failed", "host", host, "service", service, "error", err.Error())
		_ = s.api.AnswerCallbackQuery(ctx, q.ID, dialog.MsgProcessingError)
		return
	}
	s.logger.Info("service_acknowledged", "host", host, "service", service, "user_id", q.From.ID)
	_ = s.api.AnswerCallbackQuery(ctx, q.ID, "✔️ DONE")
}
