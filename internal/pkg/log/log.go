package log

import (
	"context"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

type ctxKey struct{}

// WithRequestID adds request ID to context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID retrieves request ID from context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

func formatLog(requestID string, format string, a ...interface{}) string {
	msg := fmt.Sprintf(format, a...)
	if requestID != "" {
		return fmt.Sprintf("[req_id=%s] %s", requestID, msg)
	}
	return msg
}

var (
	infoTag  = color.New(color.FgWhite, color.BgGreen).SprintFunc()
	warnTag  = color.New(color.FgWhite, color.BgYellow).SprintFunc()
	errorTag = color.New(color.FgRed).SprintFunc()
	debugTag = color.New(color.FgCyan).SprintFunc()
)

// Info log information
func Info(format string, a ...interface{}) {
	fmt.Printf("%s %s\n", infoTag("[INFO] "), fmt.Sprintf(format, a...))
}

// InfoWithContext logs information with the request ID from ctx, if any
func InfoWithContext(ctx context.Context, format string, a ...interface{}) {
	fmt.Printf("%s %s\n", infoTag("[INFO] "), formatLog(RequestID(ctx), format, a...))
}

// Warn log warning
func Warn(format string, a ...interface{}) {
	fmt.Printf("%s %s\n", warnTag("[WARN] "), fmt.Sprintf(format, a...))
}

func WarnWithContext(ctx context.Context, format string, a ...interface{}) {
	fmt.Printf("%s %s\n", warnTag("[WARN] "), formatLog(RequestID(ctx), format, a...))
}

// Error log error
func Error(format string, a ...interface{}) {
	fmt.Printf("%s %s\n", errorTag("[Error]"), fmt.Sprintf(format, a...))
}

func ErrorWithContext(ctx context.Context, format string, a ...interface{}) {
	fmt.Printf("%s %s\n", errorTag("[Error]"), formatLog(RequestID(ctx), format, a...))
}

// DebugStruct dumps values with their types. Used for the startup config dump.
func DebugStruct(label string, a ...interface{}) {
	fmt.Printf("%s %s\n%s", debugTag("[DEBUG]"), label, spew.Sdump(a...))
}
