package bigquery

import (
	"fmt"
	"strings"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Level is the kind of resource a BigQuery handle points at.
type Level int

const (
	LevelProject Level = iota
	LevelDataset
	LevelTable
)

func (l Level) String() string {
	switch l {
	case LevelProject:
		return "project"
	case LevelDataset:
		return "dataset"
	case LevelTable:
		return "table"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Path is a parsed "project.dataset.table" reference.
type Path struct {
	Project string
	Dataset string
	Table   string
}

// Level reports how deep the path goes.
func (p Path) Level() Level {
	switch {
	case p.Table != "":
		return LevelTable
	case p.Dataset != "":
		return LevelDataset
	}
	return LevelProject
}

// String renders the dotted form, omitting empty parts.
func (p Path) String() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Project, p.Dataset, p.Table} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

// SQLName is the backticked table reference used in queries.
func (p Path) SQLName() string {
	return "`" + p.Project + "." + p.Dataset + "." + p.Table + "`"
}

// ParsePath reads "project.dataset.table", "dataset.table" or "dataset".
// Backticks are stripped. defaultProject fills a missing project; dataset
// and table override what the path names.
func ParsePath(raw, defaultProject, dataset, table string) (Path, error) {
	clean := strings.TrimSpace(strings.ReplaceAll(raw, "`", ""))
	clean = strings.TrimPrefix(clean, "bq://")

	var p Path
	parts := gcp.SplitPath(clean, ".")
	switch len(parts) {
	case 0:
	case 1:
		p.Dataset = parts[0]
	case 2:
		p.Dataset, p.Table = parts[0], parts[1]
	case 3:
		p.Project, p.Dataset, p.Table = parts[0], parts[1], parts[2]
	default:
		return Path{}, fmt.Errorf("%w: %q has more than three parts", gcp.ErrInvalidPath, raw)
	}
	if p.Project == "" {
		p.Project = defaultProject
	}
	if dataset != "" {
		p.Dataset = dataset
	}
	if table != "" {
		p.Table = table
	}
	if p.Table != "" && p.Dataset == "" {
		return Path{}, fmt.Errorf("%w: table %q has no dataset", gcp.ErrInvalidPath, p.Table)
	}
	return p, nil
}
