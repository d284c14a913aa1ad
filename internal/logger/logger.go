package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New はJSONロガーを返す。filePathがあればローテーションファイルにも書く。
// 返したio.Closerは終了時に閉じる。
func New(component, level, filePath string) (zerolog.Logger, io.Closer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var closer io.Closer = nopCloser{}
	var w io.Writer = os.Stdout
	if filePath != "" {
		rot := &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		w = io.MultiWriter(os.Stdout, rot)
		closer = rot
	}

	l := zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return l, closer
}

// 不明な値はinfo
func ParseLevel(s string) zerolog.Level {
	lv, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lv == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lv
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
