package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deexno/checkmk-telegram-plus/internal/logutil"
	"github.com/deexno/checkmk-telegram-plus/internal/notify"
	"github.com/deexno/checkmk-telegram-plus/internal/settings"
)

// newNotifyCmd is the producer adapter: the monitoring system calls it
// from a notification rule, and it turns the state change into one
// durable queue record.
func newNotifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Append a monitoring notification to the delivery queue",
		RunE:  runNotify,
	}

	cmd.Flags().String("channel", "loud", "Notification channel: loud or silent.")
	cmd.Flags().String("ip", "", "Host address.")
	cmd.Flags().String("host", "", "Host name (required).")
	cmd.Flags().String("hostgroup", "", "Hostgroup of the host.")
	cmd.Flags().String("service", "", "Service description (empty for host notifications).")
	cmd.Flags().String("from-state", "", "Previous state.")
	cmd.Flags().String("to-state", "", "New state (required).")
	cmd.Flags().String("output", "", "Check plugin output.")
	cmd.Flags().Int("priority", 0, "Record priority for priority-ordered queues.")

	return cmd
}

func runNotify(cmd *cobra.Command, args []string) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	channelRaw := strings.TrimSpace(flagOrViperString(cmd, "channel", "notify.channel"))
	if !strings.HasPrefix(channelRaw, "notifications_") {
		channelRaw = "notifications_" + channelRaw
	}
	channel, err := settings.ParseChannel(channelRaw)
	if err != nil {
		return err
	}

	host := strings.TrimSpace(flagOrViperString(cmd, "host", ""))
	if host == "" {
		return fmt.Errorf("missing --host")
	}
	toState := strings.TrimSpace(flagOrViperString(cmd, "to-state", ""))
	if toState == "" {
		return fmt.Errorf("missing --to-state")
	}

	payload, err := notify.EncodeEvent(notify.Event{
		Channel:            channel,
		SourceIP:           strings.TrimSpace(flagOrViperString(cmd, "ip", "")),
		Host:               host,
		Hostgroup:          strings.TrimSpace(flagOrViperString(cmd, "hostgroup", "")),
		ServiceDescription: strings.TrimSpace(flagOrViperString(cmd, "service", "")),
		PreviousState:      strings.TrimSpace(flagOrViperString(cmd, "from-state", "")),
		NewState:           toState,
		CheckOutput:        flagOrViperString(cmd, "output", ""),
	})
	if err != nil {
		return err
	}

	store, err := queueStoreFromViper()
	if err != nil {
		return err
	}
	id, err := store.Append(cmd.Context(), payload, flagOrViperInt(cmd, "priority", ""))
	if err != nil {
		return err
	}

	logger.Info("notification_enqueued", "record_id", id, "host", host, "channel", string(channel))
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
