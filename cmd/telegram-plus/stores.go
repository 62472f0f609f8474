package main

import (
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/deexno/checkmk-telegram-plus/internal/queue"
	"github.com/deexno/checkmk-telegram-plus/internal/settings"
)

func queueStoreFromViper() (*queue.Store, error) {
	return queueStore(viper.GetBool("queue.descending"))
}

func queueStore(descending bool) (*queue.Store, error) {
	return queue.NewStore(queue.Options{
		Path:       viper.GetString("queue.path"),
		LockRoot:   viper.GetString("queue.lock_dir"),
		OrderBy:    queue.OrderKey(viper.GetString("queue.order_by")),
		Descending: descending,
	})
}

func settingsStoreFromViper() (*settings.Store, error) {
	path := viper.GetString("settings.path")
	return settings.NewStore(path, filepath.Dir(path))
}
