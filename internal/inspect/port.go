package inspect

import (
	"regexp"
	"strconv"
)

// portPatterns are tried in order; the first parseable capture wins.
var portPatterns = []*regexp.Regexp{
	regexp.MustCompile(`--server\.port\s+(\d+)`),
	regexp.MustCompile(`--port\s+(\d+)`),
	regexp.MustCompile(`--server\.port=(\d+)`),
	regexp.MustCompile(`--port=(\d+)`),
}

// ExtractPort parses the listening port from a command line.
func ExtractPort(cmdline string) (int, bool) {
	for _, re := range portPatterns {
		m := re.FindStringSubmatch(cmdline)
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil || port <= 0 || port > 65535 {
			continue
		}
		return port, true
	}
	return 0, false
}
