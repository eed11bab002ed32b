// Package logfmt 提供命令行使用的 logrus 格式和输出设置
package logfmt

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

const timeFormat = "2006-01-02 15:04:05.000"

// MyFormatter 输出形如
// 2006-01-02 15:04:05.000 [INFO] server.go:120 srpc.Server: ... key=value
type MyFormatter struct {
	// 写入文件时关闭颜色
	DisableColors bool
}

func levelColor(level logrus.Level) *color.Color {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return color.New(color.FgHiCyan)
	case logrus.InfoLevel:
		return color.New(color.FgHiGreen)
	case logrus.WarnLevel:
		return color.New(color.FgHiYellow)
	default:
		return color.New(color.FgHiRed)
	}
}

func (f *MyFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}
	level := "[" + strings.ToUpper(entry.Level.String()) + "]"
	if !f.DisableColors {
		c := levelColor(entry.Level)
		c.EnableColor()
		level = c.Sprint(level)
	}
	fmt.Fprintf(b, "%s %s ", entry.Time.Format(timeFormat), level)
	if entry.HasCaller() {
		fmt.Fprintf(b, "%s:%d ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
