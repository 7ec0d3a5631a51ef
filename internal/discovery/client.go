package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Session is a host advertisement in the rendezvous directory.
type Session struct {
	ID         string `json:"session_id,omitempty"`
	Name       string `json:"name"`
	HostIP     string `json:"host_ip"`
	HostPort   int    `json:"host_port"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Wave       int    `json:"wave,omitempty"`
}

// JoinInfo is the rendezvous reply telling a joiner where the host lives.
type JoinInfo struct {
	HostIP   string `json:"host_ip"`
	HostPort int    `json:"host_port"`
}

// HeartbeatState is the periodic liveness report for a registered session.
type HeartbeatState struct {
	SessionID string `json:"session_id"`
	Players   int    `json:"players"`
	Wave      int    `json:"wave"`
}

type sessionRef struct {
	SessionID string `json:"session_id"`
}

// ServerError is a rendezvous-side rejection carried in an error frame.
type ServerError struct {
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("discovery: server rejected request: %s", e.Message)
}

// Client talks to the rendezvous service. Every call is one dial, one
// request frame, one reply frame. Errors are not retried here; retry policy
// belongs to the caller.
type Client struct {
	addr    string
	dialer  net.Dialer
	timeout time.Duration
}

// ClientOption tweaks a Client.
type ClientOption func(*Client)

// WithTimeout bounds a single request round trip.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(addr string, opts ...ClientOption) *Client {
	c := &Client{addr: addr, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register advertises a hosted session and returns its assigned id.
func (c *Client) Register(ctx context.Context, session Session) (string, error) {
	reply, payload, err := c.roundTrip(ctx, MsgRegisterHost, session)
	if err != nil {
		return "", err
	}
	if reply != MsgSessionCreated {
		return "", fmt.Errorf("discovery: unexpected reply type %d to register", reply)
	}
	var ref sessionRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return "", fmt.Errorf("discovery: decode session-created: %w", err)
	}
	if ref.SessionID == "" {
		return "", fmt.Errorf("discovery: session-created carried no id")
	}
	return ref.SessionID, nil
}

// Unregister withdraws the advertisement. The service sends no reply; the
// frame is fire-and-forget.
func (c *Client) Unregister(ctx context.Context, sessionID string) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	body, err := json.Marshal(sessionRef{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("discovery: encode unregister: %w", err)
	}
	return WriteFrame(conn, MsgUnregisterHost, body)
}

// List fetches the current session directory.
func (c *Client) List(ctx context.Context) ([]Session, error) {
	reply, payload, err := c.roundTrip(ctx, MsgListSessions, nil)
	if err != nil {
		return nil, err
	}
	if reply != MsgSessionList {
		return nil, fmt.Errorf("discovery: unexpected reply type %d to list", reply)
	}
	var sessions []Session
	if err := json.Unmarshal(payload, &sessions); err != nil {
		return nil, fmt.Errorf("discovery: decode session-list: %w", err)
	}
	return sessions, nil
}

// Join resolves a session id to the host's address.
func (c *Client) Join(ctx context.Context, sessionID string) (JoinInfo, error) {
	reply, payload, err := c.roundTrip(ctx, MsgJoinSession, sessionRef{SessionID: sessionID})
	if err != nil {
		return JoinInfo{}, err
	}
	if reply != MsgJoinInfo {
		return JoinInfo{}, fmt.Errorf("discovery: unexpected reply type %d to join", reply)
	}
	var info JoinInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return JoinInfo{}, fmt.Errorf("discovery: decode join-info: %w", err)
	}
	return info, nil
}

// Heartbeat reports liveness for a registered session.
func (c *Client) Heartbeat(ctx context.Context, state HeartbeatState) error {
	reply, _, err := c.roundTrip(ctx, MsgHeartbeat, state)
	if err != nil {
		return err
	}
	if reply != MsgHeartbeatAck {
		return fmt.Errorf("discovery: unexpected reply type %d to heartbeat", reply)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, typ MessageType, request any) (MessageType, []byte, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer conn.Close()

	var body []byte
	if request != nil {
		body, err = json.Marshal(request)
		if err != nil {
			return 0, nil, fmt.Errorf("discovery: encode request: %w", err)
		}
	}
	if err := WriteFrame(conn, typ, body); err != nil {
		return 0, nil, err
	}

	reply, payload, err := ReadFrame(conn)
	if err != nil {
		return 0, nil, err
	}
	if reply == MsgError {
		serverErr := &ServerError{}
		if err := json.Unmarshal(payload, serverErr); err != nil || serverErr.Message == "" {
			serverErr.Message = string(payload)
		}
		return 0, nil, serverErr
	}
	return reply, payload, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: dial %s: %w", c.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return conn, nil
}
