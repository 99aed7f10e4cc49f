package db

import "gorm.io/gorm"

// GreatestFn returns the SQL function that picks the larger of two values.
// SQLite spells it MAX; postgres and mysql use GREATEST.
func GreatestFn(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return "GREATEST"
	}
	if conn.Dialector.Name() == "sqlite" {
		return "MAX"
	}
	return "GREATEST"
}
