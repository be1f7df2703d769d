package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflows table
			CREATE TABLE workflows (
				company_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL DEFAULT '[]',
				connections JSONB NOT NULL DEFAULT '[]',
				is_active BOOLEAN NOT NULL DEFAULT false,
				total_runs BIGINT NOT NULL DEFAULT 0,
				successful_runs BIGINT NOT NULL DEFAULT 0,
				failed_runs BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (company_id, id)
			);

			CREATE INDEX idx_workflows_active ON workflows(company_id, is_active);
		`,
		2: `
			-- Create workflow executions table
			CREATE TABLE workflow_executions (
				company_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				trigger_event_id VARCHAR(255) NOT NULL DEFAULT '',
				contact_id VARCHAR(255) NOT NULL DEFAULT '',
				current_node_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'waiting_delay', 'completed', 'failed', 'cancelled')),
				context JSONB NOT NULL DEFAULT '{}',
				visits INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				resume_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT NOT NULL DEFAULT '',
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (company_id, id)
			);

			CREATE INDEX idx_workflow_executions_workflow ON workflow_executions(company_id, workflow_id);
			CREATE INDEX idx_workflow_executions_due ON workflow_executions(status, resume_at);
			CREATE INDEX idx_workflow_executions_completed ON workflow_executions(status, completed_at);
			CREATE UNIQUE INDEX idx_workflow_executions_trigger
				ON workflow_executions(workflow_id, trigger_event_id)
				WHERE trigger_event_id <> '';
		`,
		3: `
			-- Create action markers table
			CREATE TABLE action_markers (
				execution_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				output JSONB NOT NULL DEFAULT '{}',
				completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (execution_id, node_id)
			);
		`,
		4: `
			-- Index the recovery scan for executions that stopped moving
			CREATE INDEX idx_workflow_executions_stalled ON workflow_executions(status, updated_at);
		`,
	}
}
