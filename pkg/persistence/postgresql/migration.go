package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE users (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				external_id VARCHAR(255) NOT NULL,
				account_id UUID,
				email VARCHAR(255) NOT NULL,
				name VARCHAR(255),
				snapshot JSONB NOT NULL,
				lifecycle_state VARCHAR(50) NOT NULL,
				churn_score INT NOT NULL DEFAULT 0,
				expansion_score INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (organization_id, external_id)
			);

			CREATE INDEX idx_users_org_state ON users(organization_id, lifecycle_state);

			CREATE TABLE accounts (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				external_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				snapshot JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (organization_id, external_id)
			);

			CREATE TABLE flows (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				version INT NOT NULL DEFAULT 1,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flows_org_status ON flows(organization_id, status);

			CREATE TABLE enrollments (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				flow_id UUID NOT NULL,
				user_id UUID NOT NULL,
				status VARCHAR(50) NOT NULL,
				next_process_at TIMESTAMP WITH TIME ZONE,
				state JSONB NOT NULL,
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_enrollments_user ON enrollments(organization_id, user_id);
			CREATE INDEX idx_enrollments_due ON enrollments(status, next_process_at)
				WHERE next_process_at IS NOT NULL;

			CREATE TABLE segments (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE segment_memberships (
				organization_id VARCHAR(255) NOT NULL,
				segment_id UUID NOT NULL,
				user_id UUID NOT NULL,
				joined_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (organization_id, segment_id, user_id)
			);

			CREATE TABLE expansion_opportunities (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				account_id VARCHAR(255) NOT NULL,
				signal VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				detail JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_opportunities_account ON expansion_opportunities(organization_id, account_id, status);

			CREATE TABLE webhook_subscriptions (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				url TEXT NOT NULL,
				secret TEXT NOT NULL,
				event_types JSONB NOT NULL DEFAULT '[]',
				status VARCHAR(50) NOT NULL,
				success_count BIGINT NOT NULL DEFAULT 0,
				failure_count BIGINT NOT NULL DEFAULT 0,
				description TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE activity_log (
				id UUID PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255),
				kind VARCHAR(100) NOT NULL,
				message TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_activity_org_created ON activity_log(organization_id, created_at);
		`,
	}
}
