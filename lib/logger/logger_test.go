package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerOutputFormat(t *testing.T) {
	var bb bytes.Buffer
	outputPrev := output
	output = &bb
	defer func() {
		output = outputPrev
	}()

	Infof("test message %d", 123)

	s := bb.String()
	if !strings.Contains(s, "\tinfo\t") {
		t.Fatalf("missing log level in %q", s)
	}
	if !strings.Contains(s, "test message 123") {
		t.Fatalf("missing log message in %q", s)
	}
	if !strings.HasSuffix(s, "\n") {
		t.Fatalf("missing trailing newline in %q", s)
	}
	if !strings.Contains(s, "logger_test.go:") {
		t.Fatalf("missing caller location in %q", s)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var bb bytes.Buffer
	outputPrev := output
	minLogLevelPrev := minLogLevel
	output = &bb
	minLogLevel = levelWarn
	defer func() {
		output = outputPrev
		minLogLevel = minLogLevelPrev
	}()

	Infof("must be dropped")
	Warnf("must be emitted")

	s := bb.String()
	if strings.Contains(s, "must be dropped") {
		t.Fatalf("info message must be dropped at WARN level; got %q", s)
	}
	if !strings.Contains(s, "must be emitted") {
		t.Fatalf("warn message must be emitted at WARN level; got %q", s)
	}
}
