package cli

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandStatus  Command = "status"
	CommandExit    Command = "exit"
	CommandMusic   Command = "music"
	CommandSay     Command = "say"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// commandArity is the number of positional arguments each command takes.
var commandArity = map[Command]int{
	CommandRun:     0,
	CommandStatus:  0,
	CommandExit:    0,
	CommandMusic:   1,
	CommandSay:     1,
	CommandDevices: 0,
	CommandDoctor:  0,
	CommandVersion: 0,
	CommandHelp:    0,
}

// argChoices restricts positional values for commands with a fixed vocabulary.
var argChoices = map[Command][]string{
	CommandMusic: {"on", "off"},
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if value, ok := strings.CutPrefix(arg, "--config="); ok {
				if value == "" {
					return Parsed{}, errors.New("--config requires a path")
				}
				parsed.ConfigPath = value
				continue
			}
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			arity, ok := commandArity[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			if len(rest) > arity {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			if len(rest) < arity {
				return Parsed{}, fmt.Errorf("command %q requires %d argument(s)", arg, arity)
			}

			if err := checkChoices(cmd, rest); err != nil {
				return Parsed{}, err
			}

			parsed.Command = cmd
			if arity > 0 {
				parsed.Args = rest
			}
			parsed.ShowHelp = cmd == CommandHelp
			return parsed, nil
		}
	}

	return parsed, nil
}

func checkChoices(cmd Command, args []string) error {
	choices, ok := argChoices[cmd]
	if !ok {
		return nil
	}
	for _, arg := range args {
		if !slices.Contains(choices, arg) {
			return fmt.Errorf("command %q expects one of %s, got %q", cmd, strings.Join(choices, "|"), arg)
		}
	}
	return nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  run            Start the conversation daemon
  status         Print session status, last error, and music flag
  exit           Press the exit button: leave the current conversation
  music on|off   Mark music playback so voice activity is ignored
  say PROMPT     Play a notification prompt (e.g. startup, chat_exit)
  devices        List available playback sinks and serial ports
  doctor         Run configuration and environment checks
  version        Print version information
  help           Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/chatterbox/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
