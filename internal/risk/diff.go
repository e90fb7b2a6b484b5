package risk

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// DiffStats summarizes a unified diff.
type DiffStats struct {
	Files   int `json:"files"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Changed is the total number of added and removed lines.
func (s DiffStats) Changed() int {
	return s.Added + s.Removed
}

// ParseDiffStats counts the lines touched by a unified diff.
func ParseDiffStats(patch string) (DiffStats, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return DiffStats{}, fmt.Errorf("parse diff: %w", err)
	}
	if len(fileDiffs) == 0 {
		return DiffStats{}, fmt.Errorf("parse diff: no file sections")
	}

	stats := DiffStats{Files: len(fileDiffs)}
	hunks := 0
	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			hunks++
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
					stats.Added++
				} else if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
					stats.Removed++
				}
			}
		}
	}
	if hunks == 0 {
		return DiffStats{}, fmt.Errorf("parse diff: no hunks")
	}
	return stats, nil
}
