package execengine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// entryPoint is the generated function wrapping every fragment. The
// fragment's trailing return expression becomes the unit's output; a
// fragment without one falls through to the nil return.
const entryPoint = "__bridgeEval"

// wrapperHeaderLines is how many lines the wrapper prepends before the
// fragment's first line. Diagnostics are shifted back by this amount so
// they point into the caller's source.
const wrapperHeaderLines = 1

// wrapFragment builds the entry-point unit around a fragment.
func wrapFragment(source string) string {
	var b strings.Builder
	b.WriteString("func " + entryPoint + "() interface{} {\n")
	b.WriteString(source)
	if !strings.HasSuffix(source, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("return nil\n}")
	return b.String()
}

// positionRe matches compiler positions of the form "12:34: message",
// optionally prefixed by a file path.
var positionRe = regexp.MustCompile(`(?m)(?:^|[\s:])(\d+):(\d+):\s*(.+)$`)

// fragmentLines counts the lines of the caller's fragment. A trailing
// newline does not open a new line.
func fragmentLines(source string) int {
	n := strings.Count(strings.TrimSuffix(source, "\n"), "\n") + 1
	return n
}

// diagnostic rewrites one compiler error line into the caller-facing
// "Line N: message" form, compensating for the wrapper offset. The line is
// clamped to [1, sourceLines]: a syntax error that spills into the appended
// wrapper lines still belongs to the fragment's last line. Lines that carry
// no position come back verbatim.
func diagnostic(errLine string, headerLines, sourceLines int) string {
	m := positionRe.FindStringSubmatch(errLine)
	if m == nil {
		return strings.TrimSpace(errLine)
	}

	line, err := strconv.Atoi(m[1])
	if err != nil {
		return strings.TrimSpace(errLine)
	}

	line -= headerLines
	if line < 1 {
		line = 1
	}
	if sourceLines > 0 && line > sourceLines {
		line = sourceLines
	}
	return fmt.Sprintf("Line %d: %s", line, strings.TrimSpace(m[3]))
}

// diagnostics converts raw compiler output into the per-line form, dropping
// noise that carries no information for the caller.
func diagnostics(raw string, headerLines, sourceLines int) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "go: ") {
			continue
		}
		out = append(out, diagnostic(line, headerLines, sourceLines))
	}
	if len(out) == 0 {
		out = []string{diagnostic(strings.TrimSpace(raw), headerLines, sourceLines)}
	}
	return out
}
