// Package inputs provides the data plumbing for training and evaluation:
// label maps, example record files, and batched dataset iteration.
package inputs

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// LabelMap maps class ids to display names.
type LabelMap map[int]string

// IDs returns the map's class ids in ascending order.
func (m LabelMap) IDs() []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// LoadLabelMap parses a label map file in the item-block text format:
//
//	item {
//	  id: 1
//	  name: 'cat'
//	}
//
// Both name and display_name keys are accepted; display_name wins when both
// appear in one item.
func LoadLabelMap(path string) (LabelMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	labels := make(LabelMap)
	var id int
	var name, displayName string
	inItem := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "item"):
			inItem = true
			id, name, displayName = 0, "", ""
		case line == "}":
			if !inItem {
				return nil, fmt.Errorf("unexpected %q outside an item block", "}")
			}
			if id == 0 {
				return nil, fmt.Errorf("label map item missing id")
			}
			label := name
			if displayName != "" {
				label = displayName
			}
			if label == "" {
				return nil, fmt.Errorf("label map item %d missing name", id)
			}
			labels[id] = label
			inItem = false
		case strings.HasPrefix(line, "id:"):
			v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "id:")))
			if err != nil {
				return nil, fmt.Errorf("invalid label map id in %q: %v", line, err)
			}
			id = v
		case strings.HasPrefix(line, "display_name:"):
			displayName = unquote(strings.TrimPrefix(line, "display_name:"))
		case strings.HasPrefix(line, "name:"):
			name = unquote(strings.TrimPrefix(line, "name:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if inItem {
		return nil, fmt.Errorf("label map ends inside an item block")
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label map %s contains no items", path)
	}
	return labels, nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return s
}
