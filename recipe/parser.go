package recipe

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/wharfd/wharf/internal/apierr"
)

// Parse reads a build recipe and returns the validated Instruction list plus
// aggregated per-keyword state (spec §4.3). Parsing is deterministic: the
// same bytes always produce the same instruction list, including line
// numbers (spec §8).
func Parse(r io.Reader) (*Recipe, error) {
	rec := &Recipe{Labels: map[string]string{}}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pending string
	pendingLine := 0

	flush := func(line int, text string) error {
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "#") {
			return nil
		}
		return rec.apply(line, text)
	}

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Text()

		trimmed := strings.TrimRight(raw, " \t")
		if strings.HasSuffix(trimmed, "\\") && !strings.HasPrefix(strings.TrimSpace(trimmed), "#") {
			cont := strings.TrimSuffix(trimmed, "\\")
			if pending == "" {
				pendingLine = line
			}
			pending += cont + " "
			continue
		}

		if pending != "" {
			trimmedRaw := strings.TrimSpace(raw)
			if trimmedRaw == "" || strings.HasPrefix(trimmedRaw, "#") {
				// Blank and comment lines inside a continuation are skipped,
				// not absorbed into the pending instruction; the next
				// non-empty line is what gets concatenated (spec §4.3).
				continue
			}
			if err := flush(pendingLine, pending+raw); err != nil {
				return nil, err
			}
			pending = ""
			continue
		}

		if err := flush(line, raw); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apierr.Wrap(apierr.IO, "read recipe", err)
	}
	if pending != "" {
		// Trailing continuation with nothing to join to; treat what we have
		// as the final line rather than silently dropping it.
		if err := flush(pendingLine, pending); err != nil {
			return nil, err
		}
	}

	if err := rec.validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// apply tokenizes one logical (continuation-joined) line into its keyword
// and argument, dispatches to keyword-specific handling, and appends the
// Instruction.
func (rec *Recipe) apply(line int, text string) error {
	fields := strings.SplitN(strings.TrimSpace(text), " ", 2)
	kw := Keyword(strings.ToUpper(fields[0]))
	arg := ""
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}

	if !knownKeywords[kw] {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("line %d: unknown instruction %q, ignored", line, fields[0]))
		return nil
	}

	inst := Instruction{Keyword: kw, Raw: arg, Line: line}

	switch kw {
	case From:
		if rec.Base != "" {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("line %d: FROM redefines base image, using %q", line, arg))
		}
		rec.Base = arg
	case Run:
		// no aggregate state; executor replays Instructions in order
	case Cmd:
		rec.Cmd = splitExecForm(arg)
	case Entrypoint:
		rec.Entrypoint = splitExecForm(arg)
	case Label:
		k, v, ok := splitKV(arg)
		if ok {
			rec.Labels[k] = v
		} else {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("line %d: malformed LABEL %q, ignored", line, arg))
		}
	case Env:
		if _, _, ok := splitKV(arg); !ok {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("line %d: malformed ENV %q, ignored", line, arg))
		} else {
			rec.Env = append(rec.Env, arg)
		}
	case Expose:
		rec.Exposed = append(rec.Exposed, arg)
	case Volume:
		rec.Volumes = append(rec.Volumes, arg)
		inst.Dest = arg
	case User:
		rec.User = arg
	case Workdir:
		rec.WorkDir = arg
		inst.Dest = arg
	case Shell:
		rec.Shell = splitExecForm(arg)
	case Add, Copy:
		src, dest, ok := splitPair(arg)
		if !ok {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("line %d: %s requires \"src dest\", got %q", line, kw, arg))
		} else {
			inst.Src, inst.Dest = src, dest
		}
	case Arg, Onbuild, Stopsignal, Healthcheck:
		// accepted, recorded in Instructions, no aggregate state consumed
		// by the executor beyond what's in Raw.
	}

	rec.Instructions = append(rec.Instructions, inst)
	return nil
}

// validate enforces spec §4.3's closed-set structural rules.
func (rec *Recipe) validate() error {
	if len(rec.Instructions) == 0 {
		return apierr.InvalidArgumentf("recipe is empty")
	}
	if rec.Instructions[0].Keyword != From {
		return apierr.InvalidArgumentf("first instruction must be FROM, got %s at line %d",
			rec.Instructions[0].Keyword, rec.Instructions[0].Line)
	}
	if len(rec.Entrypoint) > 0 && len(rec.Cmd) > 0 {
		rec.Warnings = append(rec.Warnings, "ENTRYPOINT and CMD both set: CMD is the container's default command and ENTRYPOINT is not used")
	}
	return nil
}

// splitExecForm parses CMD/ENTRYPOINT/SHELL's JSON-array exec form
// (["a","b"]) when present, otherwise falls back to whitespace splitting
// of the shell form.
func splitExecForm(arg string) []string {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "[") && strings.HasSuffix(arg, "]") {
		inner := strings.TrimSuffix(strings.TrimPrefix(arg, "["), "]")
		parts := strings.Split(inner, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			p = strings.Trim(p, `"`)
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	if arg == "" {
		return nil
	}
	return strings.Fields(arg)
}

func splitKV(arg string) (key, val string, ok bool) {
	fields := strings.SplitN(arg, "=", 2)
	if len(fields) != 2 || strings.TrimSpace(fields[0]) == "" {
		// ENV/LABEL also permit "KEY VALUE" with no '='.
		sp := strings.SplitN(arg, " ", 2)
		if len(sp) == 2 && strings.TrimSpace(sp[0]) != "" {
			return strings.TrimSpace(sp[0]), strings.TrimSpace(sp[1]), true
		}
		return "", "", false
	}
	return strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1]), true
}

func splitPair(arg string) (src, dest string, ok bool) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}
