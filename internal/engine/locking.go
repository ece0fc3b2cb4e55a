package engine

import "gorm.io/gorm/clause"

// lockingClause requests a row lock for the duration of the enclosing
// transaction, serializing read-modify-write sequences against the local
// author row and entry slots.
func lockingClause() clause.Expression {
	return clause.Locking{Strength: "UPDATE"}
}
