// Package logging はアプリケーション全体のロガーを提供する
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Setup はログレベルと出力形式を設定する
// format は "text" または "json"
func Setup(level, format string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("無効なログレベル %q: %w", level, err)
	}

	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("無効なログ形式: %q", format)
	}

	if out != nil {
		logger.SetOutput(out)
	}
	logger.SetLevel(lvl)
	return nil
}

// Logger は共有ロガーを返す
func Logger() *logrus.Logger {
	return logger
}

// For はコンポーネント名付きのエントリを返す
func For(component string) *logrus.Entry {
	return logger.WithField("component", component)
}
