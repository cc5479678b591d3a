package mariadb

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers.
const (
	errDupKeyName = 1061 // ER_DUP_KEYNAME
	errNoRefRow   = 1452 // ER_NO_REFERENCED_ROW_2
)

func isDuplicateIndex(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDupKeyName
}

func isMissingReference(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errNoRefRow
}
