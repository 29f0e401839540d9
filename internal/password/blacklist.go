package password

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadBlacklist reads a newline-delimited set of forbidden passwords from
// path. Empty lines and leading/trailing whitespace are ignored.
func LoadBlacklist(path string) (map[string]struct{}, error) {
	if path == "" {
		return map[string]struct{}{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("password: open blacklist %s: %w", path, err)
	}
	defer f.Close()

	set := map[string]struct{}{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		set[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("password: read blacklist %s: %w", path, err)
	}
	return set, nil
}
