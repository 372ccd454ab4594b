// Package wazero holds the host side of the guest WASM ABI: packed pointer
// helpers and the log_message host function.
package wazero

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tetratelabs/wazero/api"
)

type logContextKey string

const requestIDKey logContextKey = "request_id"

// LogMessage is the JSON payload a guest passes to log_message.
type LogMessage struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Attrs     []LogAttr `json:"attrs,omitempty"`
}

// LogAttr is one typed attribute. Value is always a string on the wire.
type LogAttr struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// RequestID returns the guest request id stored in ctx by log forwarding.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// NewLogHandler returns the log_message host function.
// It receives a packed uint64 (ptr+len) pointing to a JSON-encoded LogMessage
// and forwards it to logger with the guest name attached.
func NewLogHandler(logger *slog.Logger) api.GoModuleFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		logMsg, ok := readLogMessage(ctx, logger, mod, stack[0])
		if !ok {
			return
		}

		logCtx := ctx
		if logMsg.RequestID != "" {
			logCtx = context.WithValue(ctx, requestIDKey, logMsg.RequestID)
		}
		attrs := append(convertLogAttrs(logMsg.Attrs), slog.String("guest_module", mod.Name()))

		logger.LogAttrs(logCtx, parseLogLevel(logger, logMsg.Level), logMsg.Message, attrs...)
	}
}

// readLogMessage reads and unmarshals the log message from guest memory.
func readLogMessage(ctx context.Context, logger *slog.Logger, mod api.Module, packed uint64) (*LogMessage, bool) {
	data, err := ReadPacked(mod.Memory(), packed)
	if err != nil {
		logger.ErrorContext(ctx, "wazero: failed to read log message from guest memory", "error", err)
		return nil, false
	}

	var logMsg LogMessage
	if err := json.Unmarshal(data, &logMsg); err != nil {
		logger.ErrorContext(ctx, "wazero: failed to unmarshal log message", "error", err)
		return nil, false
	}
	return &logMsg, true
}

// parseLogLevel converts a string level to slog.Level.
func parseLogLevel(logger *slog.Logger, levelStr string) slog.Level {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		logger.Warn("wazero: unknown log level from guest", "level", levelStr)
		return slog.LevelInfo
	}
	return level
}

// convertLogAttrs converts wire attributes to slog.Attr slice.
func convertLogAttrs(wireAttrs []LogAttr) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(wireAttrs)+1)
	for _, attr := range wireAttrs {
		attrs = append(attrs, convertSingleAttr(attr))
	}
	return attrs
}

// convertSingleAttr converts a single wire attribute to slog.Attr.
func convertSingleAttr(attr LogAttr) slog.Attr {
	switch attr.Type {
	case "string":
		return slog.String(attr.Key, attr.Value)
	case "int64":
		if v, err := strconv.ParseInt(attr.Value, 10, 64); err == nil {
			return slog.Int64(attr.Key, v)
		}
	case "bool":
		if v, err := strconv.ParseBool(attr.Value); err == nil {
			return slog.Bool(attr.Key, v)
		}
	case "float64":
		if v, err := strconv.ParseFloat(attr.Value, 64); err == nil {
			return slog.Float64(attr.Key, v)
		}
	case "duration":
		if v, err := time.ParseDuration(attr.Value); err == nil {
			return slog.Duration(attr.Key, v)
		}
	case "time":
		if v, err := time.Parse(time.RFC3339Nano, attr.Value); err == nil {
			return slog.Time(attr.Key, v)
		}
	case "error":
		return slog.Any(attr.Key, fmt.Errorf("%s", attr.Value))
	}
	// Unknown types and parse failures keep the raw string.
	return slog.Any(attr.Key, attr.Value)
}
