package setdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE detection_set(
			id INTEGER PRIMARY KEY,
			hash TEXT NOT NULL,
			source TEXT NOT NULL,
			conf REAL NOT NULL,
			every_n INT NOT NULL,
			max_frames INT NOT NULL,
			created INT NOT NULL,
			frames INT NOT NULL,
			detections TEXT NOT NULL
		);

		CREATE INDEX idx_detection_set_key ON detection_set (hash, conf, every_n, max_frames);
	`))

	return migs
}
