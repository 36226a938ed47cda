package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// normalizeJSONC turns JSONC into plain JSON by blanking comments and
// trailing commas with spaces. Newlines and byte offsets are preserved, so
// decoder offsets map straight back to the user's file.
func normalizeJSONC(content string) (string, error) {
	out := []byte(content)
	for i := 0; i < len(out); {
		switch {
		case out[i] == '"':
			i = skipString(out, i)
		case strings.HasPrefix(content[i:], "//"):
			i = blank(out, i, lineEnd(out, i))
		case strings.HasPrefix(content[i:], "/*"):
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				line, col := position(content, int64(i)+1)
				return "", fmt.Errorf("line %d column %d: unterminated block comment", line, col)
			}
			i = blank(out, i, i+2+end+2)
		case out[i] == ',' && closesNext(out, i+1):
			out[i] = ' '
			i++
		default:
			i++
		}
	}
	return string(out), nil
}

// skipString returns the index just past the string literal opening at i.
func skipString(b []byte, i int) int {
	for j := i + 1; j < len(b); j++ {
		switch b[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(b)
}

func lineEnd(b []byte, i int) int {
	for j := i; j < len(b); j++ {
		if b[j] == '\n' || b[j] == '\r' {
			return j
		}
	}
	return len(b)
}

// blank overwrites b[from:to] with spaces, keeping line breaks.
func blank(b []byte, from, to int) int {
	for j := from; j < to; j++ {
		if b[j] != '\n' && b[j] != '\r' {
			b[j] = ' '
		}
	}
	return to
}

// closesNext reports whether the next token after whitespace and comments
// closes an object or array.
func closesNext(b []byte, j int) bool {
	for j < len(b) {
		switch {
		case b[j] == ' ' || b[j] == '\t' || b[j] == '\n' || b[j] == '\r':
			j++
		case j+1 < len(b) && b[j] == '/' && b[j+1] == '/':
			j = lineEnd(b, j)
		case j+1 < len(b) && b[j] == '/' && b[j+1] == '*':
			end := strings.Index(string(b[j+2:]), "*/")
			if end < 0 {
				return false
			}
			j += 2 + end + 2
		default:
			return b[j] == '}' || b[j] == ']'
		}
	}
	return false
}

// position converts a decoder offset (bytes read when the error was seen)
// into a 1-based line and column.
func position(content string, offset int64) (line, col int) {
	if len(content) == 0 || offset <= 1 {
		return 1, 1
	}
	idx := min(int(offset)-1, len(content)-1)
	prefix := content[:idx]
	line = strings.Count(prefix, "\n") + 1
	col = idx - strings.LastIndexByte(prefix, '\n')
	return line, col
}

// locate prefixes decoder errors that carry an offset with line and column.
func locate(content string, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	line, col := position(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}
