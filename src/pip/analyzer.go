package pip

import (
	"bufio"
	"bytes"
	"strings"
)

// AnalyzeErrors scans captured pip output for its ERROR lines and returns them
// joined together, continuation-indented lines included. pip's exit statuses
// carry no detail at all, so this scrape is the only source of a useful message.
func AnalyzeErrors(output []byte) string {
	var errs []string
	collecting := false
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ERROR:") {
			errs = append(errs, strings.TrimSpace(strings.TrimPrefix(line, "ERROR:")))
			collecting = true
		} else if collecting && strings.HasPrefix(line, " ") {
			// Continuation of the previous error message.
			errs[len(errs)-1] += "\n" + line
		} else {
			collecting = false
		}
	}
	return strings.Join(errs, "\n")
}
