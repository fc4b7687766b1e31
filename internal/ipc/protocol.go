package ipc

// Commands understood by the daemon.
const (
	CommandTrigger = "trigger"
	CommandExport  = "export"
	CommandStatus  = "status"
	CommandStop    = "stop"
)

type Request struct {
	Command string `json:"command"`
	Seconds uint16 `json:"seconds,omitempty"`
	Path    string `json:"path,omitempty"`
}

type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	Message   string `json:"message,omitempty"`
	Path      string `json:"path,omitempty"`
	Pending   int    `json:"pending,omitempty"`
	Forwarded int64  `json:"forwarded,omitempty"`
	Dropped   int64  `json:"dropped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrorResponse reports err as a failed response.
func ErrorResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}
