package journal

// Q_000_Base creates the journal tables.
const Q_000_Base = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	port        TEXT NOT NULL,
	seed        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS wear (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	iteration   INTEGER NOT NULL,
	cycles      INTEGER NOT NULL,
	sampled_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS wear_run_idx ON wear(run_id, iteration);

CREATE TABLE IF NOT EXISTS mismatches (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	iteration    INTEGER NOT NULL,
	name         TEXT NOT NULL,
	written      TEXT NOT NULL,
	observed     TEXT NOT NULL,
	written_sum  BLOB NOT NULL,
	observed_sum BLOB NOT NULL,
	evicted      INTEGER NOT NULL DEFAULT 0,
	at           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS mismatches_run_idx ON mismatches(run_id);
`
