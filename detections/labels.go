package detections

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Labels maps class ids to display names.
type Labels []string

// Name returns the label for id, or a generic class name when the id is
// outside the table.
func (l Labels) Name(id int) string {
	if id >= 0 && id < len(l) && l[id] != "" {
		return l[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// LoadLabels reads one class name per line. Blank lines and lines starting
// with '#' are skipped. An empty path yields an empty table.
func LoadLabels(path string) (Labels, error) {
	if path == "" {
		return Labels{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var labels Labels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}
