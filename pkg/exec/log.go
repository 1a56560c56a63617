package exec

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
)

// logc logs a message with the enclosing TinyC function and the Go call site.
func (c *Context) logc(ctx context.Context, level slog.Level, msg string, args ...any) {
	c.logcWithCallerDepth(ctx, level, 2, msg, args...)
}

// for internal use, call logc instead
func (c *Context) logcWithCallerDepth(ctx context.Context, level slog.Level, depth int, msg string, args ...any) {
	logger := c.run.logger
	if !logger.Enabled(ctx, level) {
		return
	}

	if _, file, line, ok := runtime.Caller(depth); ok {
		args = append([]any{slog.String("exec_pos", fmt.Sprintf("%s:%d", file, line))}, args...)
	}

	// Prepend the TinyC location so it appears first.
	contextArgs := []any{slog.String("in_func", c.functionName())}
	if c.Node != nil {
		contextArgs = append(contextArgs, slog.Int("block_pos", c.BlockPosition))
	}
	args = append(contextArgs, args...)

	// An *Error is flattened to its message.
	for i, arg := range args {
		if err, ok := arg.(*Error); ok {
			args[i] = slog.String("error", err.Error())
		}
	}

	logger.Log(ctx, level, msg, args...)
}
