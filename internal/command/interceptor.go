package command

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"
)

const (
	// MaxKeywords bounds the keyword set of one registration.
	MaxKeywords = 10
	// MaxAnswerBytes bounds a callback answer.
	MaxAnswerBytes = 256
)

// Handler applies a matched command. It returns the spoken answer and
// whether the command fired; it must not block.
type Handler func(id string, m Match) (answer string, fired bool)

// Registration describes one locally handled command.
type Registration struct {
	ID         string
	Keywords   []string
	UpPhrase   string
	DownPhrase string
	Rule       Rule
	Handler    Handler
}

// Interceptor holds registrations in registration order.
type Interceptor struct {
	logger *slog.Logger

	mu       sync.RWMutex
	commands []Registration
}

// NewInterceptor returns an empty interceptor.
func NewInterceptor(logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Interceptor{logger: logger}
}

// Register appends reg.
func (i *Interceptor) Register(reg Registration) error {
	if reg.ID == "" {
		return errors.New("command id is required")
	}
	if len(reg.Keywords) == 0 || len(reg.Keywords) > MaxKeywords {
		return fmt.Errorf("command %q: keyword count must be 1..%d, got %d", reg.ID, MaxKeywords, len(reg.Keywords))
	}
	if reg.Handler == nil {
		return fmt.Errorf("command %q: handler is required", reg.ID)
	}
	if reg.Rule < RuleExact || reg.Rule > RuleValueExtract {
		return fmt.Errorf("command %q: unknown rule %d", reg.ID, reg.Rule)
	}

	reg.Keywords = append([]string(nil), reg.Keywords...)
	i.mu.Lock()
	defer i.mu.Unlock()
	i.commands = append(i.commands, reg)
	return nil
}

// DealWithText runs the first registration whose keywords match text. The
// answer is truncated to maxLen bytes on a rune boundary. fired is false when
// nothing matched or the handler declined, so the caller falls back to the
// cloud answer.
func (i *Interceptor) DealWithText(text string, maxLen int) (answer string, fired bool) {
	i.mu.RLock()
	commands := i.commands
	i.mu.RUnlock()

	for _, reg := range commands {
		m := MatchText(text, reg.Keywords, reg.UpPhrase, reg.DownPhrase, reg.Rule)
		if m.Result == ResultNone {
			continue
		}
		answer, fired = reg.Handler(reg.ID, m)
		answer = truncate(answer, maxLen)
		i.logger.Info("local command matched",
			"command", reg.ID,
			"direction", m.Direction.String(),
			"value", m.Value,
			"fired", fired,
		)
		return answer, fired
	}
	return "", false
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
