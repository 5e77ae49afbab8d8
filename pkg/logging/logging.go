// Package logging builds the zap loggers used by the keyforce commands.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger on stderr, or a JSON logger appending to
// path when path is set. Console lines end in "\r\n" so they stay aligned
// while the terminal is in raw mode.
func New(debug bool, path string) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	var cfg zap.Config
	if path != "" {
		cfg = zap.NewProductionConfig()
		cfg.OutputPaths = []string{path}
		cfg.ErrorOutputPaths = []string{path}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.LineEnding = "\r\n"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Development = debug

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Forward writes every message received on logs to logger until done is
// closed, then drains what is still buffered.
func Forward(done <-chan struct{}, logs <-chan string, logger *zap.SugaredLogger) {
	for {
		select {
		case msg := <-logs:
			logger.Info(msg)
		case <-done:
			for {
				select {
				case msg := <-logs:
					logger.Info(msg)
				default:
					return
				}
			}
		}
	}
}
