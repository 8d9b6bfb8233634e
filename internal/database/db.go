package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/labstack/gommon/log"
)

// DSN builds the MySQL data source name.  Times are parsed into time.Time
// in UTC, which the hold store relies on for expiry comparisons.
func DSN(user, pass, host, port, name string) string {
	c := mysql.NewConfig()
	c.User = user
	c.Passwd = pass
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, port)
	c.DBName = name
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// pingAttempts bounds how long Open waits for a starting database.
const pingAttempts = 5

// Open connects to MySQL and waits until it answers, retrying with
// exponential backoff.
func Open(ctx context.Context, dsn string, logger *log.Logger) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	backoff := time.Second
	for attempt := 1; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pctx)
		cancel()
		if err == nil {
			return db, nil
		}
		if attempt == pingAttempts {
			_ = db.Close()
			return nil, fmt.Errorf("ping mysql after %d attempts: %w", attempt, err)
		}
		logger.Warnf("mysql not ready (attempt %d): %v; retrying in %s", attempt, err, backoff)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			_ = db.Close()
			return nil, ctx.Err()
		case <-t.C:
		}
		backoff *= 2
	}
}
