package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/varlink/govarlink/internal/logging"
)

// stdLogger is a minimal logging.Logger backed by the standard library's
// log package: none of the example repos in the retrieval pack carry a
// structured logging dependency (the teacher's own Logger interface has
// no concrete non-noop implementation either), so this entry point gets
// one just capable enough to make "varlinkd" usable from a terminal.
type stdLogger struct {
	logger *log.Logger
	fields []any
}

func newStdLogger() logging.Logger {
	return &stdLogger{logger: log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *stdLogger) log(level, msg string, args ...any) {
	line := level + ": " + msg
	all := append(append([]any{}, l.fields...), args...)
	for i := 0; i+1 < len(all); i += 2 {
		line += fmt.Sprintf(" %v=%v", all[i], all[i+1])
	}
	l.logger.Println(line)
}

func (l *stdLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }
func (l *stdLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *stdLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *stdLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }

func (l *stdLogger) WithContext(_ context.Context) logging.Logger { return l }

func (l *stdLogger) WithField(key string, value any) logging.Logger {
	return &stdLogger{logger: l.logger, fields: append(append([]any{}, l.fields...), key, value)}
}
