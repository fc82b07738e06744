package filter

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads rules from a file, one per line:
//
//	+ glob   include
//	- glob   exclude
//	glob     exclude
//	# text   comment
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var addErr error
		if glob, ok := strings.CutPrefix(line, "+ "); ok {
			addErr = c.AddInclude(strings.TrimSpace(glob))
		} else {
			glob, _ = strings.CutPrefix(line, "- ")
			addErr = c.AddExclude(strings.TrimSpace(glob))
		}
		if addErr != nil {
			return fmt.Errorf("filter file %s line %d: %w", path, lineNum, addErr)
		}
	}

	return scanner.Err()
}
