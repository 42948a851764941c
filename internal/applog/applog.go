package applog

import (
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	maxFileSize = 5 << 20 // 5 MB
	maxValueLen = 200
	truncSuffix = "…"
	fileName    = "kurzfassung.log"
)

var (
	mu     sync.Mutex
	logger = zap.NewNop().Sugar()
	file   *os.File
)

// Init opens the log file for appending. Call once at startup.
// If the file exceeds 5 MB, it is rotated (renamed to .log.1) before opening.
// Until then every log call is a no-op.
func Init(dir string) error {
	path := filepath.Join(dir, fileName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil && info.Size() > maxFileSize {
		os.Rename(path, path+".1")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.CallerKey = zapcore.OmitKey
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), zap.InfoLevel)

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		logger.Sync()
		file.Close()
	}
	file = f
	logger = zap.New(core).Sugar()
	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		logger.Sync()
		file.Close()
		file = nil
	}
	logger = zap.NewNop().Sugar()
}

// Info logs a structured event line.
//
//	applog.Info("ws.connected", "remote", addr)
//	applog.Info("summarize.done", "classification", "rate_limited")
func Info(event string, kv ...any) {
	current().Infow(event, clip(kv)...)
}

// Error logs an event with an error.
//
//	applog.Error("ws.send", err, "action", "overlay.render")
func Error(event string, err error, kv ...any) {
	if err != nil {
		kv = append([]any{"err", err.Error()}, kv...)
	}
	current().Errorw(event, clip(kv)...)
}

func current() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// clip cuts string values to maxValueLen runes so a pasted article never
// floods the log.
func clip(kv []any) []any {
	out := make([]any, len(kv))
	for i, v := range kv {
		if s, ok := v.(string); ok && i%2 == 1 && utf8.RuneCountInString(s) > maxValueLen {
			v = string([]rune(s)[:maxValueLen]) + truncSuffix
		}
		out[i] = v
	}
	return out
}
