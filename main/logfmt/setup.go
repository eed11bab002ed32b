package logfmt

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"srpc/config"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup 按配置设置 logrus 的级别、格式和输出
// 配置了 File 时写入按大小切割的文件，返回的 Closer 在退出前关闭
func Setup(c config.LogConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(strings.TrimSpace(c.Level))
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	logrus.SetLevel(level)
	logrus.SetReportCaller(c.ReportCaller)

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if c.File != "" {
		if dir := filepath.Dir(c.File); dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		l := &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.Rotation.MaxSizeMB,
			MaxBackups: c.Rotation.MaxBackups,
			MaxAge:     c.Rotation.MaxAgeDays,
			Compress:   c.Rotation.Compress,
		}
		out, closer = l, l
	}
	logrus.SetOutput(out)

	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&MyFormatter{DisableColors: c.File != ""})
	}
	return closer, nil
}
