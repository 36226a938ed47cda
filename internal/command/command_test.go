package command

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var volumeKeywords = []string{"音量", "声音"}

func TestMatchTextValueExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Match
	}{
		{name: "exact value", text: "音量调到50", want: Match{Result: ResultWithValue, Value: 50, Direction: DirExactValue}},
		{name: "full width digits", text: "音量调到３０。", want: Match{Result: ResultWithValue, Value: 30, Direction: DirExactValue}},
		{name: "increase by", text: "音量增加20", want: Match{Result: ResultWithValue, Value: 20, Direction: DirModifyValue}},
		{name: "decrease by", text: "声音减10", want: Match{Result: ResultWithValue, Value: -10, Direction: DirModifyValue}},
		{name: "up", text: "声音大一点", want: Match{Result: ResultKeywordOnly, Direction: DirUp}},
		{name: "down phrase", text: "声音太响了", want: Match{Result: ResultKeywordOnly, Direction: DirDown}},
		{name: "down word", text: "音量小一点", want: Match{Result: ResultKeywordOnly, Direction: DirDown}},
		{name: "max", text: "音量调到最大", want: Match{Result: ResultKeywordOnly, Direction: DirMax}},
		{name: "min", text: "把声音调到最小", want: Match{Result: ResultKeywordOnly, Direction: DirMin}},
		{name: "keyword only", text: "音量", want: Match{Result: ResultKeywordOnly}},
		{name: "unmatched", text: "今天天气", want: Match{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, MatchText(tc.text, volumeKeywords, "", "响", RuleValueExtract))
		})
	}
}

func TestMatchTextExactAndPartial(t *testing.T) {
	keywords := []string{"退出", "闭嘴"}

	require.Equal(t, ResultKeywordOnly, MatchText("退出。", keywords, "", "", RuleExact).Result)
	require.Equal(t, ResultNone, MatchText("我要退出", keywords, "", "", RuleExact).Result)
	require.Equal(t, ResultKeywordOnly, MatchText("我要退出", keywords, "", "", RulePartial).Result)
	require.Equal(t, ResultNone, MatchText("讲个故事", keywords, "", "", RulePartial).Result)
	require.Equal(t, ResultNone, MatchText("  ", keywords, "", "", RulePartial).Result)
	require.Equal(t, ResultNone, MatchText("退出", keywords, "", "", Rule(9)).Result)
}

func TestRegisterValidation(t *testing.T) {
	i := NewInterceptor(nil)
	handler := func(string, Match) (string, bool) { return "", true }

	require.Error(t, i.Register(Registration{Keywords: []string{"a"}, Handler: handler}))
	require.Error(t, i.Register(Registration{ID: "none", Handler: handler}))
	require.Error(t, i.Register(Registration{ID: "many", Keywords: make([]string, MaxKeywords+1), Handler: handler}))
	require.Error(t, i.Register(Registration{ID: "nohandler", Keywords: []string{"a"}}))
	require.Error(t, i.Register(Registration{ID: "rule", Keywords: []string{"a"}, Rule: Rule(7), Handler: handler}))
	require.NoError(t, i.Register(Registration{ID: "ok", Keywords: []string{"a"}, Handler: handler}))
}

func TestDealWithTextFirstMatchWins(t *testing.T) {
	i := NewInterceptor(nil)
	var calls []string
	require.NoError(t, i.Register(Registration{
		ID: "first", Keywords: []string{"灯"}, Rule: RulePartial,
		Handler: func(id string, _ Match) (string, bool) {
			calls = append(calls, id)
			return "开灯了", true
		},
	}))
	require.NoError(t, i.Register(Registration{
		ID: "second", Keywords: []string{"灯"}, Rule: RulePartial,
		Handler: func(id string, _ Match) (string, bool) {
			calls = append(calls, id)
			return "", true
		},
	}))

	answer, fired := i.DealWithText("打开灯", MaxAnswerBytes)
	require.True(t, fired)
	require.Equal(t, "开灯了", answer)
	require.Equal(t, []string{"first"}, calls)

	answer, fired = i.DealWithText("今天天气", MaxAnswerBytes)
	require.False(t, fired)
	require.Empty(t, answer)
}

func TestDealWithTextTruncatesOnRuneBoundary(t *testing.T) {
	i := NewInterceptor(nil)
	require.NoError(t, i.Register(Registration{
		ID: "long", Keywords: []string{"长"}, Rule: RulePartial,
		Handler: func(string, Match) (string, bool) { return strings.Repeat("音", 10), true },
	}))

	answer, fired := i.DealWithText("长", 7)
	require.True(t, fired)
	require.Equal(t, "音音", answer)
}

type fakeVolume struct{ v int }

func (f *fakeVolume) SetVolume(v int) { f.v = v }
func (f *fakeVolume) Volume() int     { return f.v }

func TestBuiltinVolumeCommand(t *testing.T) {
	tests := []struct {
		text  string
		start int
		want  int
	}{
		{text: "音量调到50", start: 60, want: 50},
		{text: "音量调到500", start: 60, want: 100},
		{text: "音量增加20", start: 60, want: 80},
		{text: "声音减10", start: 5, want: 0},
		{text: "声音大一点", start: 60, want: 70},
		{text: "声音太响了", start: 60, want: 50},
		{text: "音量调到最大", start: 60, want: 100},
		{text: "音量调到最小", start: 60, want: 10},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			vol := &fakeVolume{v: tc.start}
			i := NewInterceptor(nil)
			require.NoError(t, RegisterBuiltins(i, vol, func() {}))

			answer, fired := i.DealWithText(tc.text, MaxAnswerBytes)
			require.True(t, fired)
			require.Equal(t, tc.want, vol.v)
			require.Contains(t, answer, "音量已设置为")
		})
	}
}

func TestBuiltinVolumeWithoutDirectionDoesNotFire(t *testing.T) {
	vol := &fakeVolume{v: 60}
	i := NewInterceptor(nil)
	require.NoError(t, RegisterBuiltins(i, vol, func() {}))

	_, fired := i.DealWithText("音量", MaxAnswerBytes)
	require.False(t, fired)
	require.Equal(t, 60, vol.v)
}

func TestBuiltinExitCommand(t *testing.T) {
	var exits atomic.Int32
	i := NewInterceptor(nil)
	require.NoError(t, RegisterBuiltins(i, &fakeVolume{}, func() { exits.Add(1) }))

	answer, fired := i.DealWithText("你退下吧", MaxAnswerBytes)
	require.False(t, fired)
	require.Equal(t, exitAnswer, answer)
	require.EqualValues(t, 1, exits.Load())
}

func TestDirectionString(t *testing.T) {
	require.Equal(t, "exact_value", DirExactValue.String())
	require.Equal(t, "none", Direction(42).String())
}
