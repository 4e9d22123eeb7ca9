// Package labslog sets up the agent's logger: a single-line, emoji-prefixed
// format written to both stdout and the rotating log file under the data
// directory, mirroring main.py's StreamHandler+FileHandler pair.
package labslog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger writing to stdout and, if logPath is
// non-empty, to that file as well. A failure to open the log file is not
// fatal: the agent still logs to stdout and the open error is returned for
// the caller to log once.
func New(logPath string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&emojiFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	if logPath == "" {
		logger.SetOutput(os.Stdout)
		return logger, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		logger.SetOutput(os.Stdout)
		return logger, err
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.SetOutput(os.Stdout)
		return logger, err
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return logger, nil
}

// emojiFormatter renders "timestamp LEVEL message key=value ..." on a
// single line. Log calls already carry their own emoji in the message
// text (spec.md §7), so the formatter itself stays plain.
type emojiFormatter struct{}

func (f *emojiFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	buf := entry.Buffer
	if buf == nil {
		buf = &bytes.Buffer{}
	}

	fmt.Fprintf(buf, "%s %s %s",
		entry.Time.Format("2006-01-02 15:04:05"),
		levelTag(entry.Level),
		entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, " %s=%v", k, entry.Data[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func levelTag(l logrus.Level) string {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO "
	case logrus.WarnLevel:
		return "WARN "
	case logrus.ErrorLevel:
		return "ERROR"
	default:
		return "FATAL"
	}
}
