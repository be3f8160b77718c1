package db

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// ConnectionError reports that the store could not be opened.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("db: connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// OperationFailedError is returned when an operation still fails after every
// retry attempt.
type OperationFailedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("db: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *OperationFailedError) Unwrap() error { return e.Err }

// MySQL server error numbers worth retrying.
const (
	mysqlTooManyConnections = 1040
	mysqlLockWaitTimeout    = 1205
	mysqlDeadlock           = 1213
	mysqlDuplicateEntry     = 1062
	mysqlServerGone         = 2006
	mysqlLostConnection     = 2013
)

// IsTransient reports whether err is a store error that may succeed on retry:
// dropped or busy connections, lock contention and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, gomysql.ErrInvalidConn) {
		return true
	}

	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlTooManyConnections, mysqlLockWaitTimeout, mysqlDeadlock,
			mysqlServerGone, mysqlLostConnection:
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// IsDuplicateKey reports whether err is a unique or primary key violation.
func IsDuplicateKey(err error) bool {
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
