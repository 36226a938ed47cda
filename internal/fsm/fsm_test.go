package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StatusNotStarted
	events := []Event{
		EventWakeup,
		EventAudioStart,
		EventAudioFinish,
		EventAsrText,
		EventAsrFinish,
		EventAnswerText,
		EventAnswerAudio,
		EventTTSFinish,
		EventFinish,
	}
	want := []Status{
		StatusRunning,
		StatusAudioStart,
		StatusAudioFinish,
		StatusAsrValid,
		StatusAsrFinish,
		StatusAnswerTextValid,
		StatusAnswerMp3Valid,
		StatusTTSFinish,
		StatusFinished,
	}

	for i, event := range events {
		next, err := Transition(s, event)
		require.NoError(t, err)
		require.Equal(t, want[i], next)
		require.GreaterOrEqual(t, next, s)
		s = next
	}
}

func TestTransitionFailAndUserExitFromAnyState(t *testing.T) {
	for s := StatusNotStarted; s <= StatusUserExit; s++ {
		next, err := Transition(s, EventUserExit)
		require.NoError(t, err)
		require.Equal(t, StatusUserExit, next)

		next, err = Transition(s, EventFail)
		require.NoError(t, err)
		if s == StatusUserExit {
			require.Equal(t, StatusUserExit, next)
			continue
		}
		require.Equal(t, StatusError, next)
	}
}

func TestTransitionNeverRegressesWithinCycle(t *testing.T) {
	progress := []Event{EventAudioStart, EventAudioFinish, EventAsrText}
	for _, event := range progress {
		next, err := Transition(StatusAsrFinish, event)
		require.Error(t, err)
		require.Contains(t, err.Error(), "status regression")
		require.Equal(t, StatusAsrFinish, next)
	}

	next, err := Transition(StatusFinished, EventWakeup)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, next)

	next, err = Transition(StatusFinished, EventReset)
	require.NoError(t, err)
	require.Equal(t, StatusNotStarted, next)
}

func TestTransitionRepeatedProgressIsNoop(t *testing.T) {
	next, err := Transition(StatusAsrValid, EventAsrText)
	require.NoError(t, err)
	require.Equal(t, StatusAsrValid, next)
}

func TestTransitionTerminalRejectsProgress(t *testing.T) {
	tests := []struct {
		name  string
		state Status
		event Event
	}{
		{name: "error audio start", state: StatusError, event: EventAudioStart},
		{name: "error finish", state: StatusError, event: EventFinish},
		{name: "user exit asr text", state: StatusUserExit, event: EventAsrText},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
			require.Equal(t, tc.state, next)
		})
	}
}

func TestTransitionUnknownInputs(t *testing.T) {
	next, err := Transition(Status(42), EventWakeup)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown status")
	require.Equal(t, Status(42), next)

	next, err = Transition(StatusRunning, Event("mystery"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown event")
	require.Equal(t, StatusRunning, next)
}

func TestStatusPhases(t *testing.T) {
	require.True(t, StatusAudioStart.Question())
	require.False(t, StatusAsrFinish.Question())
	require.True(t, StatusAsrFinish.Answer())
	require.True(t, StatusFinished.Answer())
	require.False(t, StatusError.Answer())
	require.True(t, StatusError.Terminal())
	require.Greater(t, StatusError, StatusFinished)
	require.Greater(t, StatusUserExit, StatusError)
	require.Equal(t, "asr_finish", StatusAsrFinish.String())
	require.Equal(t, "status(99)", Status(99).String())
}

func TestErrorCodeStringAndExit(t *testing.T) {
	require.Equal(t, "http_error", ErrorHTTP.String())
	require.Equal(t, "no_money", ErrorNoMoney.String())
	require.Equal(t, "error(-9)", ErrorCode(-9).String())

	require.True(t, ErrorUserExit.ExitsChat())
	require.True(t, ErrorNoMoney.ExitsChat())
	require.False(t, ErrorASR.ExitsChat())
	require.False(t, ErrorNone.ExitsChat())
}
