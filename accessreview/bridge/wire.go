package bridge

// Wire types for the registry protocol. Field names are fixed by the
// registry server; every tag here is load-bearing.

// RegisterRequest is the unary registration call payload.
type RegisterRequest struct {
	APIKey   string   `json:"api_key"`
	Address  string   `json:"address"`
	Services []string `json:"services"`
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Frame is the bidirectional stream message. Exactly one branch is set
// per frame.
type Frame struct {
	Register  *RegisterFrame  `json:"register,omitempty"`
	Heartbeat *HeartbeatFrame `json:"heartbeat,omitempty"`
	Request   *RequestFrame   `json:"request,omitempty"`
	Response  *ResponseFrame  `json:"response,omitempty"`
	Status    *StatusFrame    `json:"status,omitempty"`
}

// RegisterFrame opens the reverse connection.
type RegisterFrame struct {
	APIKey       string   `json:"api_key"`
	Services     []string `json:"services"`
	ConnectionID string   `json:"connection_id"`
}

// HeartbeatFrame flows in both directions; timestamps are epoch
// milliseconds.
type HeartbeatFrame struct {
	Timestamp    int64  `json:"timestamp"`
	ConnectionID string `json:"connection_id"`
}

// RequestFrame is an inbound RPC forwarded by the registry.
type RequestFrame struct {
	RequestID  string `json:"request_id"`
	MethodPath string `json:"method_path"`
	Payload    []byte `json:"payload"`
}

// ResponseFrame answers a RequestFrame by id.
type ResponseFrame struct {
	RequestID    string            `json:"request_id"`
	StatusCode   int               `json:"status_code"`
	Headers      map[string]string `json:"headers"`
	Payload      []byte            `json:"payload"`
	ErrorMessage string            `json:"error_message"`
}

// StatusFrame carries the registry's view of the connection.
type StatusFrame struct {
	Status string `json:"status"`
}

const (
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
	StatusError        = "ERROR"
)
