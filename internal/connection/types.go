package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/kook-gateway/internal/api"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrAlreadyStarted   = errors.New("connector already started")
	ErrNotRunning       = errors.New("connector not running")
	ErrHandshakeTimeout = errors.New("handshake timeout")
	ErrInvalidToken     = errors.New("invalid bot token")
	ErrSessionExpired   = errors.New("session token invalid or expired")
)

// HandshakeError is a fatal, unrecognized non-zero HELLO code.
type HandshakeError struct {
	Code int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with code %d", e.Code)
}

// IsFatal reports whether err must stop the connector instead of being
// retried.
func IsFatal(err error) bool {
	if errors.Is(err, ErrInvalidToken) {
		return true
	}
	var hsErr *HandshakeError
	return errors.As(err, &hsErr)
}

// Message is one raw transport message.
type Message struct {
	Data       []byte    // Raw message bytes from WebSocket
	Binary     bool      // Binary frames carry compressed payloads
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Gateway URL including query parameters
	HandshakeTimeout time.Duration // WebSocket upgrade timeout
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// ConnectorConfig configures the Connector.
type ConnectorConfig struct {
	Compress          bool          // Ask for compressed (binary) frames
	HandshakeTimeout  time.Duration // Wait for HELLO after dialing
	HandshakeAttempts int           // Local attempts per resolved URL
	ResumeAttempts    int           // Resume attempts before a full reconnect
	HeartbeatInterval time.Duration // PING period
	PongTimeout       time.Duration // Wait for PONG per PING
	PingRetries       int           // Extra PINGs before declaring a timeout
	ReconnectBaseWait time.Duration // First reconnect delay
	ReconnectMaxWait  time.Duration // Reconnect delay cap
	StableAfter       time.Duration // Connected this long resets the backoff
	SkipOfflineCheck  bool          // Do not clear a stale online presence before connecting
	Client            ClientConfig  // Transport settings (URL is set per dial)
}

// DefaultConnectorConfig returns the protocol defaults.
func DefaultConnectorConfig() ConnectorConfig {
	return ConnectorConfig{
		HandshakeTimeout:  6 * time.Second,
		HandshakeAttempts: 2,
		ResumeAttempts:    2,
		HeartbeatInterval: 30 * time.Second,
		PongTimeout:       6 * time.Second,
		PingRetries:       1,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		StableAfter:       5 * time.Minute,
		Client:            DefaultClientConfig(),
	}
}

// RestAPI is the subset of the REST client the connector needs.
type RestAPI interface {
	Gateway(ctx context.Context, compress bool) (string, error)
	Me(ctx context.Context) (*api.User, error)
	Offline(ctx context.Context) error
}

// Session is the frame sink and sequence source, implemented by
// *dispatch.Dispatcher.
type Session interface {
	HandleMessage(compressed bool, data []byte)
	Position() (sessionID string, sn int)
	Reset()
}

// Snapshot is a point-in-time view of the connector for health reporting.
type Snapshot struct {
	State          string    `json:"state"`
	Running        bool      `json:"running"`
	Online         bool      `json:"online"`
	ConnectedAt    time.Time `json:"connected_at,omitempty"`
	ReconnectQueue bool      `json:"reconnect_requested"`
}
