// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/audiocore.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("audio.lock.timeout", 5*time.Second)
	v.SetDefault("audio.analyser.fftsize", 2048)
	v.SetDefault("audio.analyser.smoothing", 0.8)
	v.SetDefault("audio.pool.capacity", 6)

	v.SetDefault("cache.maxitembytes", 50*1024*1024)
	v.SetDefault("cache.memory.maxbytes", 100*1024*1024)
	v.SetDefault("cache.persistent.enabled", true)
	v.SetDefault("cache.persistent.driver", "sqlite")
	v.SetDefault("cache.persistent.path", "data/blobcache.db")
	v.SetDefault("cache.persistent.dsn", "")
	v.SetDefault("cache.persistent.maxentries", 100)
	v.SetDefault("cache.persistent.maxbytes", 500*1024*1024)
	v.SetDefault("cache.persistent.maxage", 7*24*time.Hour)
	v.SetDefault("cache.prefetch.lookahead", 2)
	v.SetDefault("cache.prefetch.ratelimit", 2.0)

	v.SetDefault("waveform.workers", 0)
	v.SetDefault("waveform.maxworkers", 4)
	v.SetDefault("waveform.samples", 100)
	v.SetDefault("waveform.tasktimeout", 30*time.Second)
	v.SetDefault("waveform.memoryttl", time.Hour)
	v.SetDefault("waveform.store.path", "data/waveforms.db")

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.useragent", "aimusicverse-audiocore")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", "127.0.0.1:8090")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.environment", "production")
}
