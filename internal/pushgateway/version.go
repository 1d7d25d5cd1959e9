// Package pushgateway knows workload-specific trivia about the managed
// pushgateway binary.
package pushgateway

import (
	"fmt"
	"regexp"
	"strings"
)

// Output of `pushgateway --version` looks like this:
//
//	pushgateway, version 1.5.1 (branch: HEAD, revision: 7afc96cfc3b20e56968ff30eea22b70e)
//	  build user:       root@fc81889ee1a6
//	  build date:       20221129-16:30:38
//	  go version:       go1.19.3
//	  platform:         linux/amd64
var versionPattern = regexp.MustCompile(`^pushgateway, version (\S+)`)

// ParseVersion extracts the workload version from the binary's --version
// output.
func ParseVersion(output string) (string, error) {
	match := versionPattern.FindStringSubmatch(strings.TrimSpace(output))
	if match == nil {
		return "", fmt.Errorf("unrecognized version output: %q", firstLine(output))
	}
	return match[1], nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}
