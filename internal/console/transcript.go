package console

import (
	"regexp"
	"strings"
)

// The PythonAnywhere bash prompt renders as
//
//	\x1b[0;0m19:34 ~\x1b[0;33m \x1b[1;32m$ \x1b[0;0m<command>
//
// i.e. a dim HH:MM + cwd, a green "$ ", then the reset sequence and whatever
// the user typed. The green-dollar/reset pair is the only stable anchor; the
// text after it on the same line is the echoed command (empty at an idle
// prompt).
var (
	promptRe = regexp.MustCompile("\x1b\\[1;32m\\$ \x1b\\[0;0m(.*)$")
	ansiRe   = regexp.MustCompile("\x1b\\[[0-9;?]*[A-Za-z]")
)

// Transcript is one raw capture of a console's scrollback, broken into lines.
// Carriage returns act as line breaks too: the console redraws the prompt
// line with a bare \r, and treating the redraw as a separate line keeps one
// prompt per line.
type Transcript struct {
	Raw   string
	Lines []string
}

func ParseTranscript(raw string) *Transcript {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return &Transcript{Raw: raw, Lines: strings.Split(normalized, "\n")}
}

// LastPromptLine returns the index of the most recent prompt line. With a
// non-empty expectedCommand it returns the most recent prompt whose echoed
// command matches it exactly. ok is false when no such line exists.
func (t *Transcript) LastPromptLine(expectedCommand string) (idx int, ok bool) {
	for i := len(t.Lines) - 1; i >= 0; i-- {
		m := promptRe.FindStringSubmatch(t.Lines[i])
		if m == nil {
			continue
		}
		if expectedCommand == "" {
			return i, true
		}
		if cleanCommand(m[1]) == expectedCommand {
			return i, true
		}
	}
	return 0, false
}

// Idle reports whether the console is sitting at a fresh prompt, meaning the
// previously submitted command has finished. A transcript with no prompt at
// all is not idle: the console may still be booting.
func (t *Transcript) Idle() bool {
	idx, ok := t.LastPromptLine("")
	if !ok {
		return false
	}
	m := promptRe.FindStringSubmatch(t.Lines[idx])
	return cleanCommand(m[1]) == ""
}

// CommandOutput extracts the cleaned output of the most recent run of
// command: the lines between its echo and the next prompt, ANSI noise
// stripped and blank edges trimmed. ok is false when the command never
// appears in the transcript.
func (t *Transcript) CommandOutput(command string) (output string, ok bool) {
	idx, ok := t.LastPromptLine(command)
	if !ok {
		return "", false
	}
	var lines []string
	for i := idx + 1; i < len(t.Lines); i++ {
		if promptRe.MatchString(t.Lines[i]) {
			break
		}
		lines = append(lines, ansiRe.ReplaceAllString(t.Lines[i], ""))
	}
	return trimBlankEdges(lines), true
}

// cleanCommand normalizes the echoed-command tail of a prompt line for
// comparison. Output lines keep their internal whitespace; only ANSI noise
// is stripped from them.
func cleanCommand(s string) string {
	return strings.TrimSpace(ansiRe.ReplaceAllString(s, ""))
}

func trimBlankEdges(lines []string) string {
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	end := len(lines)
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
