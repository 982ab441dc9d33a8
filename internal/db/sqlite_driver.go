package db

import (
	"database/sql"
	"fmt"
	"strings"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver with custom SQL functions.
	SQLiteDriverName = "sqlite3_tickr"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("fold", sqliteFold, true); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register fold SQL function: %w", err)
			}
			return nil
		},
	})
}

// sqliteFold lowercases text with full Unicode rules. COLLATE NOCASE only
// folds ASCII, so "Éclair" would otherwise sort before "éa".
func sqliteFold(input any) (string, error) {
	switch x := input.(type) {
	case nil:
		return "", nil
	case string:
		return strings.ToLower(x), nil
	case []byte:
		return strings.ToLower(string(x)), nil
	default:
		return "", fmt.Errorf("unsupported fold input type: %T", input)
	}
}
