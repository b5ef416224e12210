package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志配置
type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	File   string // 为空时只输出到stdout
	// 以下仅在 File 非空时生效
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New 创建logger并返回根Entry，各组件通过 WithField("component", ...) 派生
func New(opts Options) (*logrus.Entry, io.Closer, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(defaultString(opts.Level, "info")))
	if err != nil {
		return nil, nil, err
	}
	l.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultInt(opts.MaxSizeMB, 50), // MB
			MaxBackups: defaultInt(opts.MaxBackups, 5),
			MaxAge:     defaultInt(opts.MaxAgeDays, 30),
			Compress:   opts.Compress,
		}
		l.SetOutput(io.MultiWriter(os.Stdout, rotator))
		closer = rotator
	} else {
		l.SetOutput(os.Stdout)
	}
	return logrus.NewEntry(l), closer, nil
}

// Discard 返回丢弃所有输出的Entry，测试使用
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// OrDefault nil时返回标准logger的Entry
func OrDefault(log *logrus.Entry) *logrus.Entry {
	if log != nil {
		return log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func defaultString(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func defaultInt(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
