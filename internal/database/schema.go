package database

const schema = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	list_id       TEXT NOT NULL,
	started_at    TIMESTAMP NOT NULL,
	completed_at  TIMESTAMP,
	profile_count INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'running'
);

CREATE TABLE IF NOT EXISTS profiles (
	username            TEXT PRIMARY KEY,
	current_price       REAL,
	subscription_status TEXT NOT NULL,
	first_seen          TIMESTAMP NOT NULL,
	last_seen           TIMESTAMP NOT NULL,
	last_run_id         INTEGER NOT NULL,
	FOREIGN KEY (last_run_id) REFERENCES scrape_runs(id)
);

CREATE TABLE IF NOT EXISTS observations (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	username            TEXT NOT NULL,
	price               REAL,
	offer_kind          TEXT NOT NULL,
	subscription_status TEXT NOT NULL,
	lists               TEXT NOT NULL DEFAULT '[]',
	scraped_at          TIMESTAMP NOT NULL,
	run_id              INTEGER NOT NULL,
	FOREIGN KEY (username) REFERENCES profiles(username),
	FOREIGN KEY (run_id) REFERENCES scrape_runs(id)
);

CREATE TABLE IF NOT EXISTS list_memberships (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT NOT NULL,
	list_name  TEXT NOT NULL,
	added_at   TIMESTAMP NOT NULL,
	removed_at TIMESTAMP,
	run_id     INTEGER NOT NULL,
	FOREIGN KEY (username) REFERENCES profiles(username),
	FOREIGN KEY (run_id) REFERENCES scrape_runs(id)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id            TEXT PRIMARY KEY,
	aggregate_id  TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	payload       TEXT NOT NULL,
	target_stream TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at    TIMESTAMP NOT NULL,
	processed_at  TIMESTAMP,
	next_retry_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_username ON observations(username);
CREATE INDEX IF NOT EXISTS idx_observations_scraped_at ON observations(scraped_at);
CREATE INDEX IF NOT EXISTS idx_memberships_username ON list_memberships(username);
CREATE INDEX IF NOT EXISTS idx_memberships_list_name ON list_memberships(list_name);
CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_events(status, next_retry_at);
`
