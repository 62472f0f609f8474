package livestatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTimeout     = errors.New("livestatus: query timeout")
	ErrBadResponse = errors.New("livestatus: bad response")
)

const (
	defaultQueryTimeout = 10 * time.Second
	fixed16HeaderLen    = 16
)

// Client dials the site's LiveStatus socket per request. Addresses follow
// the OMD convention: "unix:/omd/sites/x/tmp/run/live" or "tcp:host:port".
type Client struct {
	network string
	address string
	timeout time.Duration
}

func NewClient(address string, timeout time.Duration) (*Client, error) {
	address = strings.TrimSpace(address)
	network, target, ok := strings.Cut(address, ":")
	if !ok || strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("invalid livestatus address: %q", address)
	}
	switch network {
	case "unix", "tcp":
	default:
		return nil, fmt.Errorf("invalid livestatus address scheme: %q", network)
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Client{network: network, address: target, timeout: timeout}, nil
}

// Query sends a GET request and decodes the JSON row set. Expired
// deadlines surface as ErrTimeout so callers can treat them as a
// recoverable monitoring outage rather than a protocol fault.
func (c *Client) Query(ctx context.Context, q Query) ([][]any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil livestatus client")
	}
	request, err := q.Render()
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, request); err != nil {
		return nil, c.wrapIOError("write", err)
	}
	// Half-close tells the peer the request is complete on stream sockets.
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	header := make([]byte, fixed16HeaderLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, c.wrapIOError("read header", err)
	}
	status, bodyLen, err := parseFixed16Header(header)
	if err != nil {
		return nil, err
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, c.wrapIOError("read body", err)
	}
	if status != 200 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrBadResponse, status, strings.TrimSpace(string(body)))
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode rows: %v", ErrBadResponse, err)
	}
	return rows, nil
}

// Command submits an external command line (without the "COMMAND" keyword
// or timestamp, which are added here). LiveStatus sends no reply for
// commands; an error therefore only reflects transport failure.
func (c *Client) Command(ctx context.Context, command string) error {
	if c == nil {
		return fmt.Errorf("nil livestatus client")
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return fmt.Errorf("missing command")
	}
	if strings.ContainsAny(command, "\n\r") {
		return fmt.Errorf("command must be a single line")
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	line := fmt.Sprintf("COMMAND [%d] %s\n\n", time.Now().Unix(), command)
	if _, err := io.WriteString(conn, line); err != nil {
		return c.wrapIOError("write command", err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, c.wrapIOError("dial", err)
	}
	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("livestatus set deadline: %w", err)
	}
	return conn, nil
}

func (c *Client) wrapIOError(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s %s: %v", ErrTimeout, op, c.address, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s: %v", ErrTimeout, op, c.address, err)
	}
	return fmt.Errorf("livestatus %s %s: %w", op, c.address, err)
}

func parseFixed16Header(header []byte) (status int, bodyLen int, err error) {
	if len(header) != fixed16HeaderLen {
		return 0, 0, fmt.Errorf("%w: short header", ErrBadResponse)
	}
	status, err = strconv.Atoi(strings.TrimSpace(string(header[:3])))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: header status: %v", ErrBadResponse, err)
	}
	bodyLen, err = strconv.Atoi(strings.TrimSpace(string(header[4:15])))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: header length: %v", ErrBadResponse, err)
	}
	if bodyLen < 0 {
		return 0, 0, fmt.Errorf("%w: negative body length", ErrBadResponse)
	}
	return status, bodyLen, nil
}
