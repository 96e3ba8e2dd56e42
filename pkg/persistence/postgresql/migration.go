package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				name VARCHAR(255) PRIMARY KEY,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE workflow_runs (
				id VARCHAR(255) PRIMARY KEY,
				workflow_name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL
					CHECK (status IN ('completed', 'failed', 'canceled')),
				run JSONB NOT NULL,
				tasks JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE,
				archived_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_workflow_runs_workflow_name ON workflow_runs(workflow_name);
			CREATE INDEX idx_workflow_runs_status ON workflow_runs(status);
			CREATE INDEX idx_workflow_runs_started_at ON workflow_runs(started_at);
		`,
	}
}
