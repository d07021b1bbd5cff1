package viztrail

// Schema is the DDL for the store's Postgres layout. It is exposed as a
// constant rather than applied automatically; migrations run out of band,
// the store itself only ever issues DML.
const Schema = `
CREATE TABLE IF NOT EXISTS viztrails (
	id              TEXT PRIMARY KEY,
	properties      JSONB NOT NULL DEFAULT '[]',
	default_branch  TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS branches (
	id                TEXT PRIMARY KEY,
	viztrail_id       TEXT NOT NULL REFERENCES viztrails(id) ON DELETE CASCADE,
	properties        JSONB NOT NULL DEFAULT '[]',
	head_workflow_id  TEXT NOT NULL DEFAULT '',
	workflow_history  JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS branches_viztrail_id_idx ON branches (viztrail_id);

CREATE TABLE IF NOT EXISTS workflows (
	id                TEXT PRIMARY KEY,
	branch_id         TEXT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
	action            TEXT NOT NULL,
	action_module_id  TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	module_ids        JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS workflows_branch_id_idx ON workflows (branch_id);

CREATE TABLE IF NOT EXISTS modules (
	id       TEXT PRIMARY KEY,
	payload  JSONB NOT NULL
);
`
