package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func newBufferLogger(level Level) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLogger("test", DEBUG)
	logger.SetLevel(level)
	logger.AddAppender(NewWriterAppender(&buf))
	return logger, &buf
}

func lines(buf *bytes.Buffer) [][]string {
	var out [][]string
	for _, line := range strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n") {
		if line != "" {
			out = append(out, strings.Split(line, "\t"))
		}
	}
	return out
}

func TestConsoleFormat(t *testing.T) {
	logger, buf := newBufferLogger(DEBUG)
	logger.Infof("solved in %d iterations", 12)
	logger.Debugw("problem", "nv", 6, "rows", 24)

	got := lines(buf)
	test.That(t, got, test.ShouldHaveLength, 2)

	test.That(t, len(got[0][0]), test.ShouldEqual, len("2006-01-02T15:04:05.000Z"))
	test.That(t, got[0][1], test.ShouldEqual, "INFO")
	test.That(t, got[0][2], test.ShouldEqual, "test")
	test.That(t, got[0][3], test.ShouldStartWith, "logging/impl_test.go:")
	test.That(t, got[0][4], test.ShouldEqual, "solved in 12 iterations")

	test.That(t, got[1][1], test.ShouldEqual, "DEBUG")
	test.That(t, got[1][4], test.ShouldEqual, "problem")
	fields := map[string]any{}
	test.That(t, json.Unmarshal([]byte(got[1][5]), &fields), test.ShouldBeNil)
	test.That(t, fields, test.ShouldResemble, map[string]any{"nv": 6., "rows": 24.})
}

func TestLevels(t *testing.T) {
	logger, buf := newBufferLogger(WARN)
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Errorw("shown", "err", "boom")
	test.That(t, lines(buf), test.ShouldHaveLength, 2)
	test.That(t, logger.GetLevel(), test.ShouldEqual, WARN)

	buf.Reset()
	logger.CDebugw(context.Background(), "hidden")
	logger.CDebugw(EnableDebugMode(context.Background(), ""), "shown")
	test.That(t, lines(buf), test.ShouldHaveLength, 1)

	sub := logger.Sublogger("qp")
	buf.Reset()
	sub.Error("from sub")
	test.That(t, lines(buf)[0][2], test.ShouldEqual, "test.qp")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("diffik", INFO, NewWriterAppender(&buf))
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)
	logger.Debug("hidden")
	logger.Info("shown")
	test.That(t, lines(&buf), test.ShouldHaveLength, 1)
	test.That(t, lines(&buf)[0][2], test.ShouldEqual, "diffik")

	// without appenders entries go nowhere
	NewLogger("silent", DEBUG).Error("dropped")

	config := NewZapLoggerConfig()
	test.That(t, config.Encoding, test.ShouldEqual, "console")
	test.That(t, config.DisableStacktrace, test.ShouldBeTrue)
	test.That(t, config.Level.Level(), test.ShouldEqual, zapcore.InfoLevel)
	test.That(t, config.OutputPaths, test.ShouldResemble, []string{"stdout"})
}

func TestUnpairedKey(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("odd", "key")
	entries := logs.All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].ContextMap()["key"], test.ShouldNotBeNil)
}

func TestObservedLogs(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Debugw("cycle", "index", 3)
	logger.Warn("slow")
	test.That(t, logs.FilterMessage("cycle").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("cycle").All()[0].ContextMap()["index"], test.ShouldEqual, int64(3))
	test.That(t, logs.FilterMessageSnippet("slow").Len(), test.ShouldEqual, 1)

	// the zap view of the logger still reaches the observer
	logger.AsZap().Info("through zap")
	test.That(t, logs.FilterMessage("through zap").Len(), test.ShouldEqual, 1)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in    string
		level Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"", INFO},
		{"warning", WARN},
		{" error ", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.level)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, WARN.String(), test.ShouldEqual, "Warn")
	test.That(t, ERROR.AsZap().String(), test.ShouldEqual, "error")
}

func TestReplaceGlobal(t *testing.T) {
	prev := Global()
	defer ReplaceGlobal(prev)

	logger, logs := NewObservedTestLogger(t)
	ReplaceGlobal(logger)
	Global().Sublogger("engine").Infow("replaced", "ok", true)
	test.That(t, logs.FilterMessage("replaced").Len(), test.ShouldEqual, 1)
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diffik.log")
	appender, closer := NewFileAppender(path, 1)
	logger := NewLogger("file", DEBUG)
	logger.AddAppender(appender)
	logger.Infow("to file", "cycle", 7)
	test.That(t, closer.Close(), test.ShouldBeNil)

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "to file")
	test.That(t, string(data), test.ShouldContainSubstring, `{"cycle":7}`)
}
