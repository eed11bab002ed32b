package logfmt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"srpc/config"

	"github.com/sirupsen/logrus"
)

func TestMyFormatter_Format(t *testing.T) {
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC)
	entry.Level = logrus.WarnLevel
	entry.Message = "srpc.Server: hello"
	entry.Data = logrus.Fields{"b": 2, "a": "x"}

	out, err := (&MyFormatter{DisableColors: true}).Format(entry)
	if err != nil {
		t.Fatal(err)
	}
	want := "2021-01-02 03:04:05.000 [WARNING] srpc.Server: hello a=x b=2\n"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}

	out, _ = (&MyFormatter{}).Format(entry)
	if !strings.Contains(string(out), "\x1b[") {
		t.Fatalf("expect colored level, got %q", out)
	}
}

func TestSetup_File(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	c := config.Default().Log
	c.File = filepath.Join(t.TempDir(), "logs", "srpc.log")
	closer, err := Setup(c)
	if err != nil {
		t.Fatal(err)
	}
	logrus.Info("written to file")
	_ = closer.Close()

	b, err := os.ReadFile(c.File)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "[INFO] written to file") {
		t.Fatalf("unexpected log file content %q", b)
	}

	c.Level = "loud"
	if _, err := Setup(c); err == nil {
		t.Fatal("invalid level accepted")
	}
}
