package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It discards everything until one of the
// Init functions replaces it.
var Logger = zap.NewNop()

func InitLogger(logFile string, level string) error {
	atom, err := parseLevel(level)
	if err != nil {
		return err
	}

	// Open or create the log file
	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	writeSyncer := zapcore.AddSync(file)
	encoder := zapcore.NewJSONEncoder(encoderConfig())

	core := zapcore.NewCore(encoder, writeSyncer, atom)
	Logger = zap.New(core, zap.AddCaller())

	return nil
}

// InitConsole logs human readable lines to stderr.
func InitConsole(level string) error {
	atom, err := parseLevel(level)
	if err != nil {
		return err
	}
	cfg := encoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), atom)
	Logger = zap.New(core)
	return nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func parseLevel(level string) (zap.AtomicLevel, error) {
	atom := zap.NewAtomicLevel()
	if err := atom.UnmarshalText([]byte(level)); err != nil {
		return atom, err
	}
	return atom, nil
}
