package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kradalby/ssh-agent-mux/internal/registry"
)

// DefaultClientTimeout bounds each control-plane read and write.
const DefaultClientTimeout = 5 * time.Second

// ClientErrorKind classifies control-client failures so callers can react
// to the phase that failed rather than parse message strings.
type ClientErrorKind int

const (
	// ErrConnect means the control socket could not be dialed.
	ErrConnect ClientErrorKind = iota
	// ErrEncode means the request could not be serialized.
	ErrEncode
	// ErrSend means writing the request failed.
	ErrSend
	// ErrReceive means reading the response failed.
	ErrReceive
	// ErrDecode means the response could not be deserialized, or had an
	// unexpected shape.
	ErrDecode
	// ErrTimeout means a read or write hit its deadline.
	ErrTimeout
	// ErrDaemon means the daemon answered with an Error response.
	ErrDaemon
)

// ClientError is the error type every Client method returns. Match on Kind
// with errors.As.
type ClientError struct {
	Kind ClientErrorKind
	Err  error
}

func (e *ClientError) Error() string {
	switch e.Kind {
	case ErrConnect:
		return fmt.Sprintf("failed to connect to control socket: %v", e.Err)
	case ErrEncode:
		return fmt.Sprintf("failed to serialize request: %v", e.Err)
	case ErrSend:
		return fmt.Sprintf("failed to send request: %v", e.Err)
	case ErrReceive:
		return fmt.Sprintf("failed to receive response: %v", e.Err)
	case ErrDecode:
		return fmt.Sprintf("failed to deserialize response: %v", e.Err)
	case ErrTimeout:
		return "connection timed out"
	case ErrDaemon:
		return fmt.Sprintf("daemon error: %v", e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

func clientErr(kind ClientErrorKind, err error) *ClientError {
	return &ClientError{Kind: kind, Err: err}
}

// ioErr maps an I/O failure to ErrTimeout when a deadline expired,
// otherwise to the given phase.
func ioErr(kind ClientErrorKind, err error) *ClientError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return clientErr(ErrTimeout, err)
	}
	return clientErr(kind, err)
}

// Client is a synchronous control-plane client: one Send per request, one
// newline-delimited JSON response back.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Connect dials the control socket with the default timeout.
func Connect(path string) (*Client, error) {
	return ConnectWithTimeout(path, DefaultClientTimeout)
}

// ConnectWithTimeout dials the control socket; timeout applies to the dial
// and to every subsequent read and write.
func ConnectWithTimeout(path string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, clientErr(ErrConnect, err)
	}
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes one request and reads one response. Errors are *ClientError.
func (c *Client) Send(req Request) (Response, error) {
	var resp Response

	payload, err := json.Marshal(req)
	if err != nil {
		return resp, clientErr(ErrEncode, err)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return resp, clientErr(ErrSend, err)
	}
	if _, err := c.conn.Write(append(payload, '\n')); err != nil {
		return resp, ioErr(ErrSend, err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return resp, clientErr(ErrReceive, err)
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return resp, ioErr(ErrReceive, err)
	}

	if err := json.Unmarshal(line, &resp); err != nil {
		return resp, clientErr(ErrDecode, err)
	}
	return resp, nil
}

// checkResponse turns a daemon Error response into an ErrDaemon client
// error. Callers check for an unexpected response shape themselves.
func checkResponse(resp Response) error {
	if err := resp.Err(); err != nil {
		return clientErr(ErrDaemon, err)
	}
	return nil
}

// Ping verifies the daemon is alive.
func (c *Client) Ping() error {
	resp, err := c.Send(NewRequest(RequestPing))
	if err != nil {
		return err
	}
	if err := checkResponse(resp); err != nil {
		return err
	}
	if resp.Type != ResponsePong {
		return clientErr(ErrDecode, fmt.Errorf("unexpected response to ping: %s", resp.Type))
	}
	return nil
}

// Status fetches daemon status.
func (c *Client) Status() (StatusInfo, error) {
	resp, err := c.Send(NewRequest(RequestStatus))
	if err != nil {
		return StatusInfo{}, err
	}
	if err := checkResponse(resp); err != nil {
		return StatusInfo{}, err
	}
	info, err := resp.StatusInfo()
	if err != nil {
		return StatusInfo{}, clientErr(ErrDecode, err)
	}
	return info, nil
}

// ListSockets fetches the ordered socket list.
func (c *Client) ListSockets() ([]registry.SocketInfo, error) {
	resp, err := c.Send(NewRequest(RequestListSockets))
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	sockets, err := resp.Sockets()
	if err != nil {
		return nil, clientErr(ErrDecode, err)
	}
	return sockets, nil
}

// ListKeys fetches every key offered by every upstream.
func (c *Client) ListKeys() ([]KeyInfo, error) {
	resp, err := c.Send(NewRequest(RequestListKeys))
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	keys, err := resp.Keys()
	if err != nil {
		return nil, clientErr(ErrDecode, err)
	}
	return keys, nil
}

// Reload asks the daemon to re-scan for forwarded agents.
func (c *Client) Reload() (string, error) {
	return c.messageRequest(NewRequest(RequestReload))
}

// Validate asks the daemon to drop stale watched sockets.
func (c *Client) Validate() (string, error) {
	return c.messageRequest(NewRequest(RequestValidateSockets))
}

// AddSocket adds a path to the watched list.
func (c *Client) AddSocket(path string) (string, error) {
	return c.messageRequest(NewPathRequest(RequestAddSocket, path))
}

// RemoveSocket removes a path from the watched list.
func (c *Client) RemoveSocket(path string) (string, error) {
	return c.messageRequest(NewPathRequest(RequestRemoveSocket, path))
}

// messageRequest is the shared path for requests answered with Success.
func (c *Client) messageRequest(req Request) (string, error) {
	resp, err := c.Send(req)
	if err != nil {
		return "", err
	}
	if err := checkResponse(resp); err != nil {
		return "", err
	}
	msg, err := resp.Message()
	if err != nil {
		return "", clientErr(ErrDecode, err)
	}
	return msg, nil
}

// HealthCheck runs the full per-socket probe.
func (c *Client) HealthCheck() (HealthCheckResult, error) {
	resp, err := c.Send(NewRequest(RequestHealthCheck))
	if err != nil {
		return HealthCheckResult{}, err
	}
	if err := checkResponse(resp); err != nil {
		return HealthCheckResult{}, err
	}
	result, err := resp.HealthCheckResult()
	if err != nil {
		return HealthCheckResult{}, clientErr(ErrDecode, err)
	}
	return result, nil
}
