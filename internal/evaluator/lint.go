package evaluator

import (
	"bufio"
	"bytes"
	"context"
	"strings"
)

// lintHandler is a static, dependency-free stand-in for a real linter: it
// scans artifact text line by line for lines carrying an "error" or
// "warning" marker (the convention most CLI linters already print in their
// own output) and turns the count into a score. Errors cost 10 points each,
// warnings 2; the score floors at 0 and ceilings at 100. Empty input is a
// vacuous pass.
func lintHandler(_ context.Context, artifact []byte, _ map[string]interface{}) (TestResult, error) {
	if len(bytes.TrimSpace(artifact)) == 0 {
		return TestResult{Score: 100}, nil
	}

	var errorCount, warningCount int
	scanner := bufio.NewScanner(bytes.NewReader(artifact))
	for scanner.Scan() {
		line := strings.ToLower(scanner.Text())
		switch {
		case strings.Contains(line, "error"):
			errorCount++
		case strings.Contains(line, "warning"):
			warningCount++
		}
	}

	score := 100.0 - float64(errorCount)*10 - float64(warningCount)*2
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return TestResult{Score: score}, nil
}
