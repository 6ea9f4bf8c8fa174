// Package dolt is an alternate Store backend over a Dolt database: the
// same fact-log schema as internal/storage/sqlite, expressed in Dolt's
// MySQL-compatible dialect. Each applied changeset is one SQL
// transaction; the backend does not create Dolt commits itself.
package dolt

import (
	"fmt"
	"os"
	"strings"
)

const defaultDatabase = "factdb"

// Config describes how to reach a Dolt database, either an embedded
// directory or a remote dolt sql-server.
type Config struct {
	// Path is the embedded database directory (embedded mode) or
	// ignored (server mode).
	Path string

	ServerMode     bool
	ServerHost     string
	ServerPort     int
	ServerUser     string
	ServerPassword string
	Database       string

	CommitterName  string
	CommitterEmail string
}

// ParseConnString turns a "dolt://" connection string into a Config.
// "dolt:///path/to/dir" selects embedded mode; "dolt://user@host:port/db"
// selects server mode.
func ParseConnString(conn string) (Config, error) {
	rest := strings.TrimPrefix(conn, "dolt://")
	cfg := Config{
		Database:       defaultDatabase,
		CommitterName:  "factdb",
		CommitterEmail: "factdb@localhost",
	}

	if strings.HasPrefix(rest, "/") {
		cfg.Path = rest
		return cfg, nil
	}

	userHost, db, hasDB := strings.Cut(rest, "/")
	if hasDB && db != "" {
		cfg.Database = db
	}
	userPart, hostPort := userHost, userHost
	if at := strings.IndexByte(userHost, '@'); at >= 0 {
		userPart = userHost[:at]
		hostPort = userHost[at+1:]
	} else {
		userPart = "root"
	}
	cfg.ServerMode = true
	cfg.ServerUser = userPart
	cfg.ServerHost = hostPort
	cfg.ServerPort = 3306
	if host, port, ok := strings.Cut(hostPort, ":"); ok {
		cfg.ServerHost = host
		fmt.Sscanf(port, "%d", &cfg.ServerPort)
	}
	if pw := os.Getenv("FACTDB_DOLT_PASSWORD"); pw != "" {
		cfg.ServerPassword = pw
	}
	return cfg, nil
}

// dsn renders the driver-specific data source name: the dolthub/driver
// "file://" form for embedded mode, the go-sql-driver/mysql DSN form for
// server mode.
func (c Config) dsn() string {
	if c.ServerMode {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.ServerUser, c.ServerPassword, c.ServerHost, c.ServerPort, c.Database)
	}
	return fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s",
		c.Path, c.CommitterName, c.CommitterEmail, c.Database)
}
