package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// DaemonConfig is the ambient, daemon-level configuration: where the control
// socket lives, where the PID and log files go, and the default HTTP
// log-sink port. None of this appears in the distilled specification's data
// model, which only describes per-task Configuration; it is the scaffolding
// a runnable binary needs around that model.
type DaemonConfig struct {
	SocketPath      string `mapstructure:"socket_path"`
	PIDFile         string `mapstructure:"pid_file"`
	LogFile         string `mapstructure:"log_file"`
	HTTPLoggingPort int    `mapstructure:"http_logging_port"`
}

func defaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		SocketPath: "/tmp/taskmaster.sock",
		PIDFile:    "/tmp/taskmasterd.pid",
		LogFile:    "/tmp/taskmasterd.log",
	}
}

// LoadDaemonConfig reads the optional `daemon:` block of the configuration
// file (or the whole file, if it only contains that block) via viper,
// overlaying TASKMASTERD_-prefixed environment variables, and returns it
// defaulted. A missing file or a file with no `daemon:` section is not an
// error: the defaults from defaultDaemonConfig are used.
func LoadDaemonConfig(path string) (DaemonConfig, error) {
	cfg := defaultDaemonConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TASKMASTERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("daemon.socket_path", cfg.SocketPath)
	v.SetDefault("daemon.pid_file", cfg.PIDFile)
	v.SetDefault("daemon.log_file", cfg.LogFile)
	v.SetDefault("daemon.http_logging_port", 0)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
		return cfg, nil
	}

	sub := v.Sub("daemon")
	if sub == nil {
		return cfg, nil
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
