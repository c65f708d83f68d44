// Package logger implements a simple leveled logger with configurable output.
//
// Call Init after flag.Parse(). There is no need in calling Init from tests.
package logger

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	loggerLevel  = flag.String("loggerLevel", "INFO", "Minimum level of log messages to emit. Possible values: INFO, WARN, ERROR, FATAL, PANIC")
	loggerOutput = flag.String("loggerOutput", "stderr", "Output for log messages. Supported values: stderr, stdout")
)

// Init initializes the logger.
//
// Init must be called after flag.Parse().
func Init() {
	setLoggerLevel()
	setLoggerOutput()
	go errorsLoggedCleaner()
}

func setLoggerLevel() {
	switch *loggerLevel {
	case "INFO":
		minLogLevel = levelInfo
	case "WARN":
		minLogLevel = levelWarn
	case "ERROR":
		minLogLevel = levelError
	case "FATAL":
		minLogLevel = levelFatal
	case "PANIC":
		minLogLevel = levelPanic
	default:
		// We cannot use logger.Panicf here, since the logger isn't initialized yet.
		panic(fmt.Errorf("FATAL: unsupported `-loggerLevel` value: %q; supported values are: INFO, WARN, ERROR, FATAL, PANIC", *loggerLevel))
	}
}

func setLoggerOutput() {
	switch *loggerOutput {
	case "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		panic(fmt.Errorf("FATAL: unsupported `-loggerOutput` value: %q; supported values are: stderr, stdout", *loggerOutput))
	}
}

var output io.Writer = os.Stderr

var minLogLevel = levelInfo

type logLevel uint8

const (
	levelInfo logLevel = iota
	levelWarn
	levelError
	levelFatal
	levelPanic
)

func (lvl logLevel) String() string {
	switch lvl {
	case levelInfo:
		return "info"
	case levelWarn:
		return "warn"
	case levelError:
		return "error"
	case levelFatal:
		return "fatal"
	case levelPanic:
		return "panic"
	default:
		panic(fmt.Errorf("BUG: unknown logLevel=%d", lvl))
	}
}

// Infof logs info message.
func Infof(format string, args ...any) {
	logLevelf(levelInfo, format, args...)
}

// Warnf logs warn message.
func Warnf(format string, args ...any) {
	logLevelf(levelWarn, format, args...)
}

// Errorf logs error message.
func Errorf(format string, args ...any) {
	logLevelf(levelError, format, args...)
}

// Fatalf logs fatal message and terminates the app.
func Fatalf(format string, args ...any) {
	logLevelf(levelFatal, format, args...)
}

// Panicf logs panic message and panics.
//
// It is intended for logging programmer errors such as broken invariants.
func Panicf(format string, args ...any) {
	logLevelf(levelPanic, format, args...)
}

// StdErrorLogger returns standard error logger.
//
// It is needed for integrating with third-party code accepting *log.Logger,
// such as http.Server.ErrorLog.
func StdErrorLogger() *log.Logger {
	return stdErrorLogger
}

var stdErrorLogger = log.New(&logWriter{}, "", 0)

type logWriter struct{}

func (lw *logWriter) Write(p []byte) (int, error) {
	logMessage(levelError, string(p), 4)
	return len(p), nil
}

func logLevelf(lvl logLevel, format string, args ...any) {
	if lvl < minLogLevel {
		return
	}

	// Rate limit ERROR messages, since they may be emitted at high rate
	// on every rejected allocation under memory pressure.
	if lvl == levelError {
		if n := errorsLogged.Add(1); n > 10 {
			return
		}
	}

	msg := fmt.Sprintf(format, args...)
	logMessage(lvl, msg, 3)
}

func errorsLoggedCleaner() {
	for {
		time.Sleep(5 * time.Second)
		errorsLogged.Store(0)
	}
}

var errorsLogged atomic.Uint64

func logMessage(lvl logLevel, msg string, skipframes int) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000+0000")
	_, file, line, ok := runtime.Caller(skipframes)
	if !ok {
		file = "???"
		line = 0
	}
	if n := strings.Index(file, "/memtracker/"); n >= 0 {
		// Strip the path to the repository root.
		file = file[n+len("/memtracker/"):]
	}
	for len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	logMsg := fmt.Sprintf("%s\t%s\t%s:%d\t%s\n", timestamp, lvl, file, line, msg)

	// Serialize writes to the log output.
	mu.Lock()
	fmt.Fprint(output, logMsg)
	mu.Unlock()

	switch lvl {
	case levelPanic:
		panic(errors.New(msg))
	case levelFatal:
		os.Exit(-1)
	}
}

var mu sync.Mutex
