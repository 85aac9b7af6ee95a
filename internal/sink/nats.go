package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rickgao/kook-gateway/internal/config"
	"github.com/rickgao/kook-gateway/internal/model"
)

// DefaultSubjectPrefix is used when NATSConfig.SubjectPrefix is empty.
const DefaultSubjectPrefix = "kook.events"

// Header keys set on published messages.
const (
	HeaderSequence = "Kook-Sn"
	HeaderMsgID    = "Kook-Msg-Id"
)

// Publisher is the subset of *nats.Conn used for fan-out.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSHandler publishes each event's raw payload to
// <prefix>.<channel_type>.<name>.
type NATSHandler struct {
	pub    Publisher
	prefix string
}

// NewNATSHandler creates a handler publishing through pub.
func NewNATSHandler(pub Publisher, prefix string) *NATSHandler {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSHandler{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject ev is published on.
func (h *NATSHandler) Subject(ev model.Event) string {
	channel := strings.ToLower(string(ev.ChannelType))
	if channel == "" {
		channel = "unknown"
	}
	return h.prefix + "." + channel + "." + ev.Name()
}

func (h *NATSHandler) Handle(ctx context.Context, ev model.Event) error {
	msg := nats.NewMsg(h.Subject(ev))
	msg.Data = ev.Raw
	msg.Header.Set(HeaderSequence, strconv.Itoa(ev.Sequence))
	if ev.MsgID != "" {
		msg.Header.Set(HeaderMsgID, ev.MsgID)
	}

	if err := h.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// ConnectNATS dials the configured NATS servers with unlimited reconnects.
func ConnectNATS(cfg config.NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	opts := []nats.Option{
		nats.Name("kookgw"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}
