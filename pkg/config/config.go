// Package config holds the global command line tool configuration shared by
// every command: the viper keys the flags are bound to, the lazily built
// logger, and constructors for the artifact store and signing oracle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
)

// Viper keys for the global flags. Environment variables use the KEYOS_
// prefix with "-" replaced by "_" (e.g. KEYOS_SIGNER_CONFIG).
const (
	DebugKey         = "debug"
	ReleasesDirKey   = "releases-dir"
	SignerConfigKey  = "signer-config"
	CosignBinKey     = "cosign-bin"
	LogLevelKey      = "log-level"
	LogFileKey       = "log-file"
	DisableEmojisKey = "no-emojis"
	PrintJsonKey     = "json"
)

// DefaultSignerConfig is the conventional location of the cosign2
// configuration.
const DefaultSignerConfig = "~/cosign2.toml"

var (
	loggerOnce sync.Once
	logger     *zap.Logger
	loggerErr  error
)

// GetLogger returns the process-wide logger, building it on first use from
// the bound configuration. Logging is disabled except for fatal errors
// unless the log level is raised.
func GetLogger() (*zap.Logger, error) {
	loggerOnce.Do(func() {
		logger, loggerErr = newLogger()
	})
	return logger, loggerErr
}

func newLogger() (*zap.Logger, error) {
	var level zapcore.Level
	switch viper.GetInt(LogLevelKey) {
	case 0:
		level = zapcore.FatalLevel
	case 1:
		level = zapcore.ErrorLevel
	case 2:
		level = zapcore.WarnLevel
	case 3:
		level = zapcore.InfoLevel
	case 4, 5:
		level = zapcore.DebugLevel
	default:
		return nil, fmt.Errorf("invalid log level %d (expected 0-5)", viper.GetInt(LogLevelKey))
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	var sink zapcore.WriteSyncer
	if logFile := viper.GetString(LogFileKey); logFile != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 3,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	return zap.New(zapcore.NewCore(encoder, sink, level)), nil
}

// Cleanup flushes the logger. Call once before the process exits.
func Cleanup() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// ReleaseStore returns the artifact store rooted at the configured releases
// directory, plus that directory as an absolute OS path for the signing
// tool.
func ReleaseStore() (afero.Fs, string, error) {
	root, err := filepath.Abs(viper.GetString(ReleasesDirKey))
	if err != nil {
		return nil, "", fmt.Errorf("unable to resolve releases directory: %w", err)
	}
	return afero.NewBasePathFs(afero.NewOsFs(), root), root, nil
}

// Oracle returns the production signing oracle.
func Oracle() cosign.Oracle {
	return &cosign.ExecOracle{Binary: viper.GetString(CosignBinKey)}
}

// SignerConfigPath resolves the signer configuration path, expanding a
// leading "~".
func SignerConfigPath() string {
	path := viper.GetString(SignerConfigKey)
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
