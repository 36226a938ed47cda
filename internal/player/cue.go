package player

import (
	"math"
	"time"
)

// Cue is a synthesized tone sequence played when no prompt file is usable.
type Cue int

const (
	CueListening Cue = iota + 1
	CueError
)

// CueSampleRate is the rate of synthesized cue PCM.
const CueSampleRate = 16000

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var (
	listeningCuePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 880, duration: 70 * time.Millisecond, volume: 0.18},
		{frequencyHz: 1175, duration: 70 * time.Millisecond, volume: 0.18},
	})
	errorCuePCM = synthesizeCue([]toneSpec{
		{frequencyHz: 480, duration: 90 * time.Millisecond, volume: 0.2},
		{frequencyHz: 360, duration: 90 * time.Millisecond, volume: 0.2},
		{frequencyHz: 240, duration: 140 * time.Millisecond, volume: 0.2},
	})
)

// PlayCue plays one synthesized cue.
func (p *Player) PlayCue(cue Cue) error {
	samples := cueSamples(cue)
	if len(samples) == 0 {
		return nil
	}
	return p.PlayPCM(samples, CueSampleRate)
}

func cueSamples(cue Cue) []int16 {
	switch cue {
	case CueListening:
		return listeningCuePCM
	case CueError:
		return errorCuePCM
	default:
		return nil
	}
}

func synthesizeCue(parts []toneSpec) []int16 {
	gap := samplesForDuration(22 * time.Millisecond)
	var pcm []int16
	for i, part := range parts {
		pcm = append(pcm, synthesizeTone(part)...)
		if i < len(parts)-1 {
			pcm = append(pcm, make([]int16, gap)...)
		}
	}
	return pcm
}

// synthesizeTone renders a sine tone with a short linear attack and release.
func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	ramp := min(max(n/10, 1), CueSampleRate/200)
	pcm := make([]int16, n)
	for i := range n {
		envelope := min(1.0, float64(i)/float64(ramp), float64(n-i-1)/float64(ramp))
		t := float64(i) / CueSampleRate
		sample := math.Sin(2 * math.Pi * spec.frequencyHz * t)
		pcm[i] = int16(math.Round(sample * spec.volume * envelope * math.MaxInt16))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * CueSampleRate))
}
