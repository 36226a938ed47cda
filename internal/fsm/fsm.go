// Package fsm models conversation session status as an ordered progress enumeration.
package fsm

import "fmt"

// Status is the progress of the current conversation turn. Values increase along
// the happy path so callers may compare them with < and <=. Error and UserExit
// are terminal and outrank every progress value.
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusAudioStart
	StatusAudioFinish
	StatusAsrValid
	StatusAsrFinish
	StatusAnswerTextValid
	StatusAnswerMp3Valid
	StatusTTSFinish
	StatusFinished
	StatusError
	StatusUserExit
)

var statusNames = map[Status]string{
	StatusNotStarted:      "not_started",
	StatusRunning:         "running",
	StatusAudioStart:      "audio_start",
	StatusAudioFinish:     "audio_finish",
	StatusAsrValid:        "asr_valid",
	StatusAsrFinish:       "asr_finish",
	StatusAnswerTextValid: "answer_text_valid",
	StatusAnswerMp3Valid:  "answer_mp3_valid",
	StatusTTSFinish:       "tts_finish",
	StatusFinished:        "finished",
	StatusError:           "error",
	StatusUserExit:        "user_exit",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether s is one of the sentinel end states.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusUserExit
}

// Question reports whether the turn is still collecting the user's utterance.
func (s Status) Question() bool {
	return s < StatusAsrFinish
}

// Answer reports whether the turn is playing back or preparing the reply.
func (s Status) Answer() bool {
	return s >= StatusAsrFinish && s <= StatusFinished
}

type Event string

const (
	EventWakeup      Event = "wakeup"
	EventAudioStart  Event = "audio_start"
	EventAudioFinish Event = "audio_finish"
	EventAsrText     Event = "asr_text"
	EventAsrFinish   Event = "asr_finish"
	EventAnswerText  Event = "answer_text"
	EventAnswerAudio Event = "answer_audio"
	EventTTSFinish   Event = "tts_finish"
	EventFinish      Event = "finish"
	EventFail        Event = "fail"
	EventUserExit    Event = "user_exit"
	EventReset       Event = "reset"
)

var progressTargets = map[Event]Status{
	EventAudioStart:  StatusAudioStart,
	EventAudioFinish: StatusAudioFinish,
	EventAsrText:     StatusAsrValid,
	EventAsrFinish:   StatusAsrFinish,
	EventAnswerText:  StatusAnswerTextValid,
	EventAnswerAudio: StatusAnswerMp3Valid,
	EventTTSFinish:   StatusTTSFinish,
	EventFinish:      StatusFinished,
}

// Transition applies one event to current and returns the next status.
//
// Progress events only move forward; a repeated event is a no-op. Fail and
// UserExit are accepted from any state, Wakeup and Reset start a new cycle.
func Transition(current Status, event Event) (Status, error) {
	if _, ok := statusNames[current]; !ok {
		return current, fmt.Errorf("unknown status %d", int(current))
	}

	switch event {
	case EventFail:
		if current == StatusUserExit {
			return current, nil
		}
		return StatusError, nil
	case EventUserExit:
		return StatusUserExit, nil
	case EventWakeup:
		return StatusRunning, nil
	case EventReset:
		return StatusNotStarted, nil
	}

	target, ok := progressTargets[event]
	if !ok {
		return current, fmt.Errorf("unknown event %q", event)
	}
	if current.Terminal() {
		return current, invalidTransition(current, event)
	}
	if target < current {
		return current, fmt.Errorf("status regression: %s --(%s)--> %s", current, event, target)
	}
	return target, nil
}

func invalidTransition(status Status, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", status, event)
}
