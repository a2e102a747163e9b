// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Config file watching. Only settings that can change without reopening
// sockets are expected to take effect; listeners decide what to apply.

package control

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// WatchConfig re-reads v's config file whenever it changes and pushes the
// result into store. Invalid files are logged and ignored.
func WatchConfig(v *viper.Viper, store *ConfigStore, log *logrus.Entry) {
	v.OnConfigChange(func(e fsnotify.Event) {
		Reload(v, store, log)
	})
	v.WatchConfig()
}

// Reload loads the configuration from v and publishes it synchronously.
// It reports whether the store was updated.
func Reload(v *viper.Viper, store *ConfigStore, log *logrus.Entry) bool {
	cfg, err := LoadConfig(v)
	if err != nil {
		log.WithError(err).Warn("Ignoring invalid configuration reload")
		return false
	}
	log.WithField("file", v.ConfigFileUsed()).Info("Configuration reloaded")
	store.SetConfig(cfg)
	return true
}
