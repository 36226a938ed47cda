// Package ipc is the control channel between the chatterbox CLI and a
// running daemon: one JSON line each way per unix-socket connection.
package ipc

// Request names a daemon command such as status, exit, music or say.
type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Response reports the outcome plus a session snapshot. State is the
// session state name. Code is the last error code, empty when none is set.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Code    string `json:"code,omitempty"`
	Music   bool   `json:"music,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
