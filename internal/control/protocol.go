// Package control implements the daemon's management plane: a
// newline-delimited JSON protocol over a second Unix socket, with a server
// embedded in the daemon and a synchronous client used by the CLI.
//
//	Client → Server: {"type":"Status"}\n
//	Server → Client: {"type":"Status","data":{...}}\n
package control

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kradalby/ssh-agent-mux/internal/registry"
)

// RequestType tags a control request.
type RequestType string

const (
	RequestPing            RequestType = "Ping"
	RequestStatus          RequestType = "Status"
	RequestListSockets     RequestType = "ListSockets"
	RequestListKeys        RequestType = "ListKeys"
	RequestReload          RequestType = "Reload"
	RequestValidateSockets RequestType = "ValidateSockets"
	RequestAddSocket       RequestType = "AddSocket"
	RequestRemoveSocket    RequestType = "RemoveSocket"
	RequestHealthCheck     RequestType = "HealthCheck"
)

// Request is a control request. Path-carrying requests put their argument in
// Data; the rest leave it nil.
type Request struct {
	Type RequestType  `json:"type"`
	Data *RequestData `json:"data,omitempty"`
}

// RequestData holds request arguments.
type RequestData struct {
	Path string `json:"path"`
}

// NewRequest builds an argument-less request.
func NewRequest(t RequestType) Request {
	return Request{Type: t}
}

// NewPathRequest builds an AddSocket/RemoveSocket request.
func NewPathRequest(t RequestType, path string) Request {
	return Request{Type: t, Data: &RequestData{Path: path}}
}

// ResponseType tags a control response.
type ResponseType string

const (
	ResponsePong        ResponseType = "Pong"
	ResponseStatus      ResponseType = "Status"
	ResponseSockets     ResponseType = "Sockets"
	ResponseKeys        ResponseType = "Keys"
	ResponseHealthCheck ResponseType = "HealthCheck"
	ResponseSuccess     ResponseType = "Success"
	ResponseError       ResponseType = "Error"
)

// Response is a control response envelope. Data holds the payload encoded
// per Type; Pong has none.
type Response struct {
	Type ResponseType    `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StatusInfo is the daemon status reported on the control plane.
type StatusInfo struct {
	Version       string        `json:"version"`
	GitCommit     string        `json:"git_commit"`
	UptimeSecs    uint64        `json:"uptime_secs"`
	PID           int           `json:"pid"`
	ListeningOn   string        `json:"listening_on"`
	ControlSocket string        `json:"control_socket"`
	WatchEnabled  bool          `json:"watch_enabled"`
	WatcherStatus WatcherStatus `json:"watcher_status"`
	SocketCount   int           `json:"socket_count"`
	KeyCount      *int          `json:"key_count"`
}

// WatcherState enumerates discovery modes.
type WatcherState string

const (
	WatcherActive          WatcherState = "Active"
	WatcherPollingFallback WatcherState = "PollingFallback"
	WatcherDisabled        WatcherState = "Disabled"
)

// WatcherStatus is the discovery tri-state surfaced to operators. Reason is
// only set for PollingFallback.
type WatcherStatus struct {
	Status WatcherState `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

func (w WatcherStatus) String() string {
	switch w.Status {
	case WatcherActive:
		return "active"
	case WatcherPollingFallback:
		return fmt.Sprintf("polling (%s)", w.Reason)
	case WatcherDisabled:
		return "disabled"
	default:
		return string(w.Status)
	}
}

// KeyInfo describes one key offered by an upstream agent.
type KeyInfo struct {
	Fingerprint  string `json:"fingerprint"`
	KeyType      string `json:"key_type"`
	Bits         *int   `json:"bits"`
	Comment      string `json:"comment"`
	SourceSocket string `json:"source_socket"`
}

// SocketHealthStatus classifies one probed socket.
type SocketHealthStatus string

const (
	HealthHealthy          SocketHealthStatus = "healthy"
	HealthMissing          SocketHealthStatus = "missing"
	HealthConnectionFailed SocketHealthStatus = "connection_failed"
	HealthProtocolError    SocketHealthStatus = "protocol_error"
	HealthQueryFailed      SocketHealthStatus = "query_failed"
)

// Display returns the human form ("connection failed", not
// "connection_failed").
func (s SocketHealthStatus) Display() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// SocketHealthInfo is the probe result for a single socket.
type SocketHealthInfo struct {
	Path     string             `json:"path"`
	Status   SocketHealthStatus `json:"status"`
	KeyCount *int               `json:"key_count"`
	Error    *string            `json:"error"`
}

// HealthCheckResult is the full result of a HealthCheck request.
type HealthCheckResult struct {
	Sockets        []SocketHealthInfo `json:"sockets"`
	HealthyCount   int                `json:"healthy_count"`
	UnhealthyCount int                `json:"unhealthy_count"`
	Removed        []string           `json:"removed"`
}

// SuccessData is the payload of a Success response.
type SuccessData struct {
	Message *string `json:"message"`
}

// ErrorData is the payload of an Error response.
type ErrorData struct {
	Error string `json:"error"`
}

// SocketsData is the payload of a Sockets response.
type SocketsData struct {
	Sockets []registry.SocketInfo `json:"sockets"`
}

// KeysData is the payload of a Keys response.
type KeysData struct {
	Keys []KeyInfo `json:"keys"`
}

func mustRaw(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// All payload types marshal cleanly; reaching this is a bug.
		panic(fmt.Sprintf("control: marshal response payload: %v", err))
	}
	return raw
}

// PongResponse replies to Ping.
func PongResponse() Response {
	return Response{Type: ResponsePong}
}

// StatusResponse wraps StatusInfo.
func StatusResponse(info StatusInfo) Response {
	return Response{Type: ResponseStatus, Data: mustRaw(info)}
}

// SocketsResponse wraps a socket list.
func SocketsResponse(sockets []registry.SocketInfo) Response {
	if sockets == nil {
		sockets = []registry.SocketInfo{}
	}
	return Response{Type: ResponseSockets, Data: mustRaw(SocketsData{Sockets: sockets})}
}

// KeysResponse wraps a key list.
func KeysResponse(keys []KeyInfo) Response {
	if keys == nil {
		keys = []KeyInfo{}
	}
	return Response{Type: ResponseKeys, Data: mustRaw(KeysData{Keys: keys})}
}

// HealthCheckResponse wraps a health check result.
func HealthCheckResponse(result HealthCheckResult) Response {
	return Response{Type: ResponseHealthCheck, Data: mustRaw(result)}
}

// SuccessResponse wraps an optional message.
func SuccessResponse(message string) Response {
	return Response{Type: ResponseSuccess, Data: mustRaw(SuccessData{Message: &message})}
}

// ErrorResponse wraps an error string.
func ErrorResponse(format string, v ...any) Response {
	return Response{Type: ResponseError, Data: mustRaw(ErrorData{Error: fmt.Sprintf(format, v...)})}
}

// Err converts an Error response into a Go error; nil for anything else.
func (r Response) Err() error {
	if r.Type != ResponseError {
		return nil
	}
	var data ErrorData
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return fmt.Errorf("malformed error response: %w", err)
	}
	return fmt.Errorf("%s", data.Error)
}

// StatusInfo decodes a Status response payload.
func (r Response) StatusInfo() (StatusInfo, error) {
	var info StatusInfo
	if r.Type != ResponseStatus {
		return info, unexpected(r, ResponseStatus)
	}
	err := json.Unmarshal(r.Data, &info)
	return info, err
}

// Sockets decodes a Sockets response payload.
func (r Response) Sockets() ([]registry.SocketInfo, error) {
	if r.Type != ResponseSockets {
		return nil, unexpected(r, ResponseSockets)
	}
	var data SocketsData
	err := json.Unmarshal(r.Data, &data)
	return data.Sockets, err
}

// Keys decodes a Keys response payload.
func (r Response) Keys() ([]KeyInfo, error) {
	if r.Type != ResponseKeys {
		return nil, unexpected(r, ResponseKeys)
	}
	var data KeysData
	err := json.Unmarshal(r.Data, &data)
	return data.Keys, err
}

// HealthCheckResult decodes a HealthCheck response payload.
func (r Response) HealthCheckResult() (HealthCheckResult, error) {
	var result HealthCheckResult
	if r.Type != ResponseHealthCheck {
		return result, unexpected(r, ResponseHealthCheck)
	}
	err := json.Unmarshal(r.Data, &result)
	return result, err
}

// Message decodes a Success response payload.
func (r Response) Message() (string, error) {
	if r.Type != ResponseSuccess {
		return "", unexpected(r, ResponseSuccess)
	}
	var data SuccessData
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return "", err
	}
	if data.Message == nil {
		return "", nil
	}
	return *data.Message, nil
}

func unexpected(r Response, want ResponseType) error {
	if err := r.Err(); err != nil {
		return err
	}
	return fmt.Errorf("unexpected response %q (want %q)", r.Type, want)
}

// DefaultControlPath derives the control socket path from the agent listen
// path: a trailing ".sock" is replaced by ".ctl", otherwise ".ctl" is
// appended.
func DefaultControlPath(listenPath string) string {
	if strings.HasSuffix(listenPath, ".sock") {
		return strings.TrimSuffix(listenPath, ".sock") + ".ctl"
	}
	return listenPath + ".ctl"
}
