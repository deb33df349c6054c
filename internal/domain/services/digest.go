package services

import (
	"fmt"
	"strings"
)

// FormatDigestLine renders the checksum-tool line "<hex>  <filename>\n"
func FormatDigestLine(sum, filename string) string {
	return fmt.Sprintf("%s  %s\n", sum, filename)
}

// ParseDigestLine reads a checksum-tool line back.
// A leading "*" on the filename (binary mode marker) is dropped.
func ParseDigestLine(line string) (sum, filename string, err error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 || fields[0] == "" {
		return "", "", fmt.Errorf("malformed digest line: %q", line)
	}

	sum = fields[0]
	filename = strings.TrimPrefix(strings.TrimLeft(fields[1], " "), "*")
	if filename == "" {
		return "", "", fmt.Errorf("digest line has no filename: %q", line)
	}
	for _, r := range sum {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return "", "", fmt.Errorf("digest %q is not lowercase hex", sum)
		}
	}
	return sum, filename, nil
}
