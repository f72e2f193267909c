package bigquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcpal/pkg/gcp"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		dataset string
		table   string
		want    Path
		level   Level
		wantErr bool
	}{
		{name: "empty", raw: "", want: Path{Project: "def"}, level: LevelProject},
		{name: "dataset", raw: "ds", want: Path{Project: "def", Dataset: "ds"}, level: LevelDataset},
		{name: "dataset.table", raw: "ds.t", want: Path{Project: "def", Dataset: "ds", Table: "t"}, level: LevelTable},
		{name: "full", raw: "p.ds.t", want: Path{Project: "p", Dataset: "ds", Table: "t"}, level: LevelTable},
		{name: "backticks", raw: "`p.ds.t`", want: Path{Project: "p", Dataset: "ds", Table: "t"}, level: LevelTable},
		{name: "bq scheme", raw: "bq://p.ds", want: Path{Project: "def", Dataset: "p", Table: "ds"}, level: LevelTable},
		{name: "dataset override", raw: "old.t", dataset: "new", want: Path{Project: "def", Dataset: "new", Table: "t"}, level: LevelTable},
		{name: "table override", raw: "ds", table: "t2", want: Path{Project: "def", Dataset: "ds", Table: "t2"}, level: LevelTable},
		{name: "table without dataset", raw: "", table: "t", wantErr: true},
		{name: "too many parts", raw: "a.b.c.d", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePath(tt.raw, "def", tt.dataset, tt.table)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, gcp.IsInvalidPath(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.level, got.Level())
		})
	}
}

func TestPath_Strings(t *testing.T) {
	p := Path{Project: "p", Dataset: "ds", Table: "t"}
	assert.Equal(t, "p.ds.t", p.String())
	assert.Equal(t, "`p.ds.t`", p.SQLName())
	assert.Equal(t, "p.ds", Path{Project: "p", Dataset: "ds"}.String())
	assert.Equal(t, "table", LevelTable.String())
}
