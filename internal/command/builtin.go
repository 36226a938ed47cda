package command

import "fmt"

const (
	volumeStep = 10
	volumeMax  = 100
	volumeMin  = 10

	exitAnswer = "和你聊天很开心, 下次见"
)

// Volume is the device volume the built-in volume command adjusts.
type Volume interface {
	SetVolume(v int)
	Volume() int
}

// RegisterBuiltins installs the volume and exit commands. exit must only
// schedule the user-exit handling.
func RegisterBuiltins(i *Interceptor, vol Volume, exit func()) error {
	if err := i.Register(Registration{
		ID:         "vol",
		Keywords:   []string{"音量", "声音"},
		DownPhrase: "响",
		Rule:       RuleValueExtract,
		Handler:    volumeHandler(vol),
	}); err != nil {
		return err
	}
	return i.Register(Registration{
		ID:       "quit",
		Keywords: []string{"退出", "不要再说", "闭嘴", "退下"},
		Rule:     RulePartial,
		Handler: func(string, Match) (string, bool) {
			exit()
			// The exit prompt comes from the user-exit path, not from TTS.
			return exitAnswer, false
		},
	})
}

func volumeHandler(vol Volume) Handler {
	return func(_ string, m Match) (string, bool) {
		switch m.Direction {
		case DirExactValue:
			vol.SetVolume(clamp(m.Value))
		case DirModifyValue:
			vol.SetVolume(clamp(vol.Volume() + m.Value))
		case DirMax:
			vol.SetVolume(volumeMax)
		case DirMin:
			vol.SetVolume(volumeMin)
		case DirUp:
			vol.SetVolume(clamp(vol.Volume() + volumeStep))
		case DirDown:
			vol.SetVolume(clamp(vol.Volume() - volumeStep))
		default:
			return "", false
		}
		return fmt.Sprintf("音量已设置为 %d", vol.Volume()), true
	}
}

func clamp(v int) int {
	return min(max(v, 0), volumeMax)
}
