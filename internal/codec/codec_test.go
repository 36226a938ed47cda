package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type slicePackets struct {
	packets [][]byte
}

func (s *slicePackets) Next() ([]byte, bool) {
	if len(s.packets) == 0 {
		return nil, false
	}
	p := s.packets[0]
	s.packets = s.packets[1:]
	return p, true
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		raw     string
		want    Format
		wantErr bool
	}{
		{raw: "mp3", want: FormatMP3},
		{raw: " OPUS ", want: FormatOpus},
		{raw: "raw", want: FormatPCM},
		{raw: "pcm", want: FormatPCM},
		{raw: "speex", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseFormat(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(FormatPCM, Options{})
	require.NoError(t, err)
	require.Equal(t, "pcm", c.Name())
	require.Equal(t, defaultSampleRate, c.SampleRate())
	require.Equal(t, defaultChannels, c.Channels())

	c, err = New(FormatMP3, Options{SampleRate: 24000})
	require.NoError(t, err)
	require.Equal(t, "mp3", c.Name())
	require.Equal(t, 24000, c.SampleRate())

	_, err = New(Format("flac"), Options{})
	require.Error(t, err)
}

func TestPCMDecodeCarriesOddBytes(t *testing.T) {
	src := &slicePackets{packets: [][]byte{{0x01, 0x00, 0x02}, {0x00}, {0xFF, 0xFF}}}

	var got []int16
	err := PCM{Rate: 16000, Chans: 1}.Decode(src, func(pcm []int16) error {
		got = append(got, pcm...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int16{1, 2, -1}, got)
}

func TestDownmixStereo(t *testing.T) {
	b := []byte{
		0x64, 0x00, 0xC8, 0x00, // 100, 200
		0x9C, 0xFF, 0x9C, 0xFF, // -100, -100
	}
	require.Equal(t, []int16{150, -100}, downmixStereo(b))
}
