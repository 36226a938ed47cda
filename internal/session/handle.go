package session

import (
	"context"
	"fmt"

	"github.com/rbright/chatterbox/internal/fsm"
	"github.com/rbright/chatterbox/internal/ipc"
	"github.com/rbright/chatterbox/internal/notify"
)

// Handle serves IPC commands for the running engine.
func (e *Engine) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		return e.response("status")
	case "exit":
		e.PressExitButton()
		return e.response("exit requested")
	case "music":
		return e.handleMusic(req.Args)
	case "say":
		return e.handleSay(req.Args)
	default:
		return e.failure("unknown command: %s", req.Command)
	}
}

func (e *Engine) handleMusic(args []string) ipc.Response {
	if len(args) != 1 {
		return e.failure("usage: music on|off")
	}
	switch args[0] {
	case "on":
		e.SetMusicPlaying(true)
	case "off":
		e.SetMusicPlaying(false)
	default:
		return e.failure("usage: music on|off")
	}
	return e.response("music " + args[0])
}

func (e *Engine) handleSay(args []string) ipc.Response {
	if len(args) != 1 {
		return e.failure("usage: say <prompt>")
	}
	kind, err := notify.ParseKind(args[0])
	if err != nil {
		return e.failure("%v", err)
	}
	if err := e.Say(kind); err != nil {
		return e.failure("say %s: %v", kind, err)
	}
	return e.response("say " + kind.String())
}

func (e *Engine) response(message string) ipc.Response {
	resp := ipc.Response{
		OK:      true,
		State:   e.Status().String(),
		Music:   e.IsMusicPlaying(),
		Message: message,
	}
	if code := e.Error(); code != fsm.ErrorNone {
		resp.Code = code.String()
	}
	return resp
}

func (e *Engine) failure(format string, args ...any) ipc.Response {
	return ipc.Response{OK: false, State: e.Status().String(), Error: fmt.Sprintf(format, args...)}
}
