package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Telegram
	viper.SetDefault("telegram.base_url", "https://api.telegram.org")
	viper.SetDefault("telegram.poll_timeout", 30*time.Second)

	// Queue store
	viper.SetDefault("queue.path", "/var/lib/telegram-plus/queue.txt")
	viper.SetDefault("queue.lock_dir", "/var/lib/telegram-plus")
	viper.SetDefault("queue.order_by", "created")
	viper.SetDefault("queue.descending", false)

	// Settings repository
	viper.SetDefault("settings.path", "/var/lib/telegram-plus/settings.json")

	// Notification dispatch
	viper.SetDefault("notify.poll_interval", time.Minute)
	viper.SetDefault("notify.send_delay", 3*time.Second)
	viper.SetDefault("notify.max_store_failures", 5)
	viper.SetDefault("notify.spool_dir", "")

	// Livestatus
	viper.SetDefault("livestatus.address", "unix:/omd/sites/monitoring/tmp/run/live")
	viper.SetDefault("livestatus.timeout", 10*time.Second)

	// Graph rendering (optional)
	viper.SetDefault("graphs.base_url", "")
	viper.SetDefault("graphs.site", "")

	// Dialog engine
	viper.SetDefault("dialog.idle_timeout", 10*time.Minute)

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
}
