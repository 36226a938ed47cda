package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNoArgsShowsHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Parsed{Command: CommandHelp, ShowHelp: true}, parsed)
}

func TestParseDaemonAndClientCommands(t *testing.T) {
	tests := []struct {
		args []string
		want Parsed
	}{
		{args: []string{"run"}, want: Parsed{Command: CommandRun}},
		{args: []string{"--config", "/etc/chatterbox.jsonc", "run"}, want: Parsed{Command: CommandRun, ConfigPath: "/etc/chatterbox.jsonc"}},
		{args: []string{"--config=/etc/chatterbox.jsonc", "status"}, want: Parsed{Command: CommandStatus, ConfigPath: "/etc/chatterbox.jsonc"}},
		{args: []string{"exit"}, want: Parsed{Command: CommandExit}},
		{args: []string{"music", "on"}, want: Parsed{Command: CommandMusic, Args: []string{"on"}}},
		{args: []string{"music", "off"}, want: Parsed{Command: CommandMusic, Args: []string{"off"}}},
		{args: []string{"say", "chat_exit"}, want: Parsed{Command: CommandSay, Args: []string{"chat_exit"}}},
		{args: []string{"devices"}, want: Parsed{Command: CommandDevices}},
		{args: []string{"doctor"}, want: Parsed{Command: CommandDoctor}},
		{args: []string{"--version"}, want: Parsed{Command: CommandVersion}},
		{args: []string{"version"}, want: Parsed{Command: CommandVersion}},
		{args: []string{"-h"}, want: Parsed{Command: CommandHelp, ShowHelp: true}},
		{args: []string{"help"}, want: Parsed{Command: CommandHelp, ShowHelp: true}},
	}
	for _, tc := range tests {
		parsed, err := Parse(tc.args)
		require.NoError(t, err, "args %q", tc.args)
		require.Equal(t, tc.want, parsed, "args %q", tc.args)
	}
}

func TestParseRejects(t *testing.T) {
	tests := map[string]struct {
		args    []string
		wantErr string
	}{
		"dangling config":     {args: []string{"--config"}, wantErr: "--config requires a path"},
		"empty config value":  {args: []string{"--config=", "run"}, wantErr: "--config requires a path"},
		"flag after command":  {args: []string{"status", "--config", "/tmp/cfg"}, wantErr: "unexpected arguments after command"},
		"unknown flag":        {args: []string{"--daemon"}, wantErr: "unknown flag: --daemon"},
		"unknown command":     {args: []string{"wake"}, wantErr: "unknown command: wake"},
		"exit with argument":  {args: []string{"exit", "now"}, wantErr: "unexpected arguments"},
		"music missing state": {args: []string{"music"}, wantErr: `command "music" requires 1 argument(s)`},
		"music bad state":     {args: []string{"music", "loud"}, wantErr: `expects one of on|off, got "loud"`},
		"say two prompts":     {args: []string{"say", "startup", "chat_exit"}, wantErr: "unexpected arguments"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(tc.args)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestHelpTextListsEveryCommand(t *testing.T) {
	text := HelpText("chatterbox")
	require.Contains(t, text, "chatterbox [--config PATH]")
	for cmd := range commandArity {
		require.Contains(t, text, "  "+string(cmd), "help is missing %s", cmd)
	}
	require.Contains(t, text, "music on|off")
	require.Contains(t, text, "say PROMPT")
}
