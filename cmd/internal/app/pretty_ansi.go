package app

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const (
	minPrettyWidth     = 40
	defaultPrettyWidth = 100
	truncationMarker   = "…"
)

// stripANSI removes CSI color sequences so width math sees only glyphs.
func stripANSI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func visualLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// truncateVisual caps a segment at max visible runes, keeping escape
// sequences intact and closing color state after the marker.
func truncateVisual(s string, max int) string {
	if visualLen(s) <= max {
		return s
	}
	var b strings.Builder
	count := 0
	for i := 0; i < len(s); {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			if j < len(s) {
				j++
			}
			b.WriteString(s[i:j])
			i = j
			continue
		}
		if count >= max-1 {
			break
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		b.WriteString(s[i : i+size])
		count++
		i += size
	}
	b.WriteString(truncationMarker)
	b.WriteString(ansiReset)
	return b.String()
}

// wrapSegments packs segments greedily into lines no wider than width.
// Continuation lines carry contPrefix; a segment that alone exceeds the
// width is truncated with a marker.
func wrapSegments(segments []string, sep string, width int, contPrefix string) []string {
	var lines []string
	current := ""

	flush := func() {
		if current != "" {
			lines = append(lines, current)
			current = ""
		}
	}

	for _, seg := range segments {
		if seg == "" {
			continue
		}

		candidate := seg
		if current != "" {
			candidate = current + sep + seg
		} else if len(lines) > 0 {
			candidate = contPrefix + seg
		}

		if visualLen(candidate) <= width {
			current = candidate
			continue
		}

		flush()
		candidate = seg
		if len(lines) > 0 {
			candidate = contPrefix + seg
		}
		if visualLen(candidate) > width {
			candidate = truncateVisual(candidate, width)
		}
		current = candidate
	}
	flush()
	return lines
}

// terminalWidth resolves the wrap width: explicit override, then COLUMNS,
// then a fixed default. Widths below the minimum are ignored.
func (h *prettyHandler) terminalWidth() int {
	if v := strings.TrimSpace(os.Getenv("PARLEY_LOG_WIDTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= minPrettyWidth {
			return n
		}
	}
	if v := strings.TrimSpace(os.Getenv("COLUMNS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= minPrettyWidth {
			return n
		}
	}
	return defaultPrettyWidth
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func colorizeHTTPMethod(method string, color bool) string {
	if !color {
		return method
	}
	switch method {
	case "GET":
		return ansiGreen + method + ansiReset
	case "POST":
		return ansiBlue + method + ansiReset
	case "PUT", "PATCH":
		return ansiYellow + method + ansiReset
	case "DELETE":
		return ansiRed + method + ansiReset
	default:
		return ansiCyan + method + ansiReset
	}
}

func colorizeStatusCode(status int, color bool) string {
	s := strconv.Itoa(status)
	if !color {
		return s
	}
	switch {
	case status >= 500:
		return ansiRed + s + ansiReset
	case status >= 400:
		return ansiYellow + s + ansiReset
	case status >= 300:
		return ansiCyan + s + ansiReset
	default:
		return ansiGreen + s + ansiReset
	}
}

func colorizeStatusClass(class string, color bool) string {
	if !color {
		return class
	}
	switch class {
	case "5xx":
		return ansiRed + class + ansiReset
	case "4xx":
		return ansiYellow + class + ansiReset
	case "3xx":
		return ansiCyan + class + ansiReset
	default:
		return ansiGreen + class + ansiReset
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 200:
		return ansiYellow + s + ansiReset
	default:
		return ansiDim + s + ansiReset
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "server_error":
		return ansiRed + result + ansiReset
	case "client_error":
		return ansiYellow + result + ansiReset
	default:
		return ansiGreen + result + ansiReset
	}
}
