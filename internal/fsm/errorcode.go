package fsm

import "fmt"

// ErrorCode is the session error taxonomy. Values match the cloud wire codes.
type ErrorCode int

const (
	ErrorNone       ErrorCode = 0
	ErrorHTTP       ErrorCode = -1
	ErrorAudioWrite ErrorCode = -2
	ErrorASR        ErrorCode = -3
	ErrorTTS        ErrorCode = -4
	ErrorUserExit   ErrorCode = -5
	ErrorNoMoney    ErrorCode = -6
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorHTTP:
		return "http_error"
	case ErrorAudioWrite:
		return "audio_write_error"
	case ErrorASR:
		return "asr_error"
	case ErrorTTS:
		return "tts_error"
	case ErrorUserExit:
		return "user_exit"
	case ErrorNoMoney:
		return "no_money"
	default:
		return fmt.Sprintf("error(%d)", int(c))
	}
}

// ExitsChat reports whether the code ends the conversation rather than one turn.
func (c ErrorCode) ExitsChat() bool {
	return c == ErrorUserExit || c == ErrorNoMoney
}
