package memory

import "github.com/hashicorp/go-memdb"

const (
	tableWorkflows  = "workflows"
	tableExecutions = "executions"
	tableMarkers    = "markers"

	indexID        = "id"
	indexCompany   = "company"
	indexWorkflow  = "workflow"
	indexStatus    = "status"
	indexTrigger   = "trigger"
	indexExecution = "execution"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableWorkflows: {
				Name: tableWorkflows,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "CompanyID"},
								&memdb.StringFieldIndex{Field: "ID"},
							},
						},
					},
					indexCompany: {
						Name:    indexCompany,
						Indexer: &memdb.StringFieldIndex{Field: "CompanyID"},
					},
				},
			},
			tableExecutions: {
				Name: tableExecutions,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "CompanyID"},
								&memdb.StringFieldIndex{Field: "ID"},
							},
						},
					},
					indexCompany: {
						Name:    indexCompany,
						Indexer: &memdb.StringFieldIndex{Field: "CompanyID"},
					},
					indexWorkflow: {
						Name: indexWorkflow,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "CompanyID"},
								&memdb.StringFieldIndex{Field: "WorkflowID"},
							},
						},
					},
					indexStatus: {
						Name:    indexStatus,
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
					// executions without a trigger event id are left out of this index
					indexTrigger: {
						Name:         indexTrigger,
						AllowMissing: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "WorkflowID"},
								&memdb.StringFieldIndex{Field: "TriggerEventID"},
							},
						},
					},
				},
			},
			tableMarkers: {
				Name: tableMarkers,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "ExecutionID"},
								&memdb.StringFieldIndex{Field: "NodeID"},
							},
						},
					},
					indexExecution: {
						Name:    indexExecution,
						Indexer: &memdb.StringFieldIndex{Field: "ExecutionID"},
					},
				},
			},
		},
	}
}
