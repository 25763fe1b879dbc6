package metrics

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/torosent/rttbench/internal/bus"
	"github.com/torosent/rttbench/internal/probe"
)

// typeLabels maps %T names of well-known failures to report labels.
var typeLabels = map[string]string{
	"bus.TransportError":            "Transport error",
	"bus.DecodeError":               "Undecodable frame",
	"probe.CorruptionError":         "Payload corrupted",
	"samples.DataIntegrityError":    "Artifact integrity error",
	"fs.PathError":                  "File system error",
	"net.OpError":                   "Network error",
	"context.deadlineExceededError": "Context deadline exceeded",
}

// ErrorLabel returns the breakdown label for a failed probe. Wrapped errors
// are matched by their innermost known cause.
func ErrorLabel(err error) string {
	if err == nil {
		return ""
	}
	var transport *bus.TransportError
	var corruption *probe.CorruptionError
	switch {
	case errors.Is(err, probe.ErrTimeout):
		return "Timeout"
	case errors.As(err, &corruption):
		return typeLabels["probe.CorruptionError"]
	case errors.As(err, &transport):
		return typeLabels["bus.TransportError"]
	}
	return FriendlyErrorName(fmt.Sprintf("%T", err))
}

// FriendlyErrorName turns a %T error type name such as
// "*runner.SetupError" into a label such as "Setup Error (runner)".
func FriendlyErrorName(typeName string) string {
	name := strings.TrimPrefix(strings.TrimSpace(typeName), "*")
	if name == "" {
		return "Unknown error"
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if label, ok := typeLabels[name]; ok {
		return label
	}

	pkg, typ, found := strings.Cut(name, ".")
	if !found {
		pkg, typ = "", name
	}
	switch pkg {
	case "errors", "fmt":
		return "Error"
	case "", "main":
		return splitWords(typ)
	}
	return fmt.Sprintf("%s (%s)", splitWords(typ), pkg)
}

// splitWords breaks a Go identifier at case and digit boundaries, keeping
// acronyms intact: "HTTPTimeoutError" becomes "HTTP Timeout Error".
func splitWords(ident string) string {
	runes := []rune(ident)
	var b strings.Builder
	start := 0
	flush := func(end int) {
		if end <= start {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(titleWord(string(runes[start:end])))
		start = end
	}
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		switch {
		case unicode.IsUpper(cur) && unicode.IsLower(prev):
			flush(i)
		case unicode.IsUpper(cur) && unicode.IsUpper(prev) && nextLower:
			flush(i)
		case unicode.IsDigit(cur) && !unicode.IsDigit(prev):
			flush(i)
		}
	}
	flush(len(runes))
	return b.String()
}

func titleWord(w string) string {
	if w == strings.ToUpper(w) {
		return w
	}
	r := []rune(strings.ToLower(w))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
