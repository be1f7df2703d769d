package postgresql

import (
	"testing"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name     string
		filter   persistence.ExecutionFilter
		contains []string
		args     []any
		wantErr  bool
	}{
		{
			name:     "company only",
			filter:   persistence.ExecutionFilter{CompanyID: "company-1"},
			contains: []string{"WHERE company_id = $1", "ORDER BY created_at DESC"},
			args:     []any{"company-1"},
		},
		{
			name: "workflow statuses and limit",
			filter: persistence.ExecutionFilter{
				CompanyID:  "company-1",
				WorkflowID: "wf-1",
				Statuses:   []models.ExecutionStatus{models.ExecutionRunning, models.ExecutionWaitingDelay},
				Limit:      20,
			},
			contains: []string{"workflow_id = $2", "status IN ($3,$4)", "LIMIT 20"},
			args:     []any{"company-1", "wf-1", "running", "waiting_delay"},
		},
		{
			name:    "missing company",
			filter:  persistence.ExecutionFilter{WorkflowID: "wf-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := buildListQuery(tt.filter)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)

			for _, fragment := range tt.contains {
				assert.Contains(t, query, fragment)
			}

			assert.Equal(t, tt.args, args)
		})
	}
}
