package notify

import (
	"context"
	"log/slog"
)

// LogNotifier 把事件写入结构化日志
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) error {
	level := slog.LevelInfo
	if e.Type != EventUsed {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "许可证事件",
		"type", e.Type,
		"id", e.ID,
		"product", e.Product,
		"key", e.Key,
		"hwid", e.HWID,
		"uses", e.Uses,
	)
	return nil
}
