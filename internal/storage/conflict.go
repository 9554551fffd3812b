package storage

import "gorm.io/gorm/clause"

// onConflictUpdateAll builds an ON CONFLICT(...) DO UPDATE clause over the
// given composite-key columns, updating every other column. Used by
// UpsertMod since the mod index rewrites a row wholesale on every rescan.
func onConflictUpdateAll(keyColumns ...string) clause.OnConflict {
	cols := make([]clause.Column, len(keyColumns))
	for i, c := range keyColumns {
		cols[i] = clause.Column{Name: c}
	}
	return clause.OnConflict{Columns: cols, UpdateAll: true}
}
