package mogdevice

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Line is a single command from a device script, tagged with its
// 1-based position in the source file.
type Line struct {
	Num int
	Cmd string
}

// LoadScript reads a device command script, stripping "#" comments and
// blank lines.
func LoadScript(r io.Reader) ([]Line, error) {
	var lines []Line

	scanner := bufio.NewScanner(r)
	num := 0
	for scanner.Scan() {
		num++
		text, _, _ := strings.Cut(scanner.Text(), "#")
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		lines = append(lines, Line{Num: num, Cmd: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return lines, nil
}

// LoadScriptFile reads a device command script from a file.
func LoadScriptFile(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()

	return LoadScript(f)
}

// ScriptOptions controls script execution.
type ScriptOptions struct {
	// ContinueOnError keeps executing after a command is rejected,
	// instead of stopping at the first failure.
	ContinueOnError bool
}

// LineResult records the outcome of one script line.
type LineResult struct {
	Line  Line
	Reply string
	Err   error
}

// ScriptResult collects the outcomes of a script run.
type ScriptResult struct {
	Results []LineResult
	Failed  int
}

// RunScript executes each script line as a command, collecting per-line
// replies. Context cancellation stops the run between lines.
func (d *Device) RunScript(ctx context.Context, lines []Line, opts ScriptOptions) (*ScriptResult, error) {
	result := &ScriptResult{Results: make([]LineResult, 0, len(lines))}

	for _, line := range lines {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		reply, err := d.Cmd(ctx, line.Cmd)
		result.Results = append(result.Results, LineResult{Line: line, Reply: reply, Err: err})
		if err != nil {
			result.Failed++
			if !opts.ContinueOnError {
				return result, fmt.Errorf("script line %d (%q): %w", line.Num, line.Cmd, err)
			}
		}
	}
	return result, nil
}
