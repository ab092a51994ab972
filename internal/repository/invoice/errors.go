package invoice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	pgForeignKeyViolation  = "23503"
	mysqlNoReferencedRow   = 1452
	sqliteForeignKeyFailed = "FOREIGN KEY constraint failed"
)

// ErrNotFound is returned when an invoice is missing.
var ErrNotFound = errors.New("invoice not found")

// PersistenceError reports a failed write or read against the invoices table.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("invoices %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ForeignKeyViolation reports whether the failure was a rejected reference,
// e.g. an unknown customer_id.
func (e *PersistenceError) ForeignKeyViolation() bool {
	var pgErr pgdriver.Error
	if errors.As(e.Err, &pgErr) {
		return pgErr.Field('C') == pgForeignKeyViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(e.Err, &myErr) {
		return myErr.Number == mysqlNoReferencedRow
	}
	// Both sqlite drivers report SQLITE_CONSTRAINT_FOREIGNKEY with this text.
	return e.Err != nil && strings.Contains(e.Err.Error(), sqliteForeignKeyFailed)
}
