package sink

import (
	"context"
	"log/slog"

	"github.com/rickgao/kook-gateway/internal/model"
)

// LogHandler logs every event at info level.
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "event_log")

	return HandlerFunc(func(ctx context.Context, ev model.Event) error {
		logger.InfoContext(ctx, "event",
			"sn", ev.Sequence,
			"name", ev.Name(),
			"channel_type", ev.ChannelType,
			"target_id", ev.TargetID,
			"author_id", ev.AuthorID,
			"msg_id", ev.MsgID,
		)
		return nil
	})
}
