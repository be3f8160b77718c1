package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/lifeline/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN for the configured database.
func DSN(c config.DatabaseConfig) string {
	return mysqlConfig(c, c.Name).FormatDSN()
}

func mysqlConfig(c config.DatabaseConfig, database string) *gomysql.Config {
	mc := gomysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = database
	mc.ParseTime = true
	return mc
}

// SQLitePath returns the sqlite file DSN with foreign keys enforced and a busy
// timeout so concurrent writers wait instead of failing immediately.
func SQLitePath(path string) string {
	q := url.Values{}
	q.Set("_foreign_keys", "1")
	q.Set("_busy_timeout", "5000")
	return "file:" + path + "?" + q.Encode()
}

// Dialector returns the gorm dialector for the configured driver.
func Dialector(c config.DatabaseConfig) (gorm.Dialector, error) {
	switch c.Driver {
	case config.DriverMySQL:
		return mysql.Open(DSN(c)), nil
	case config.DriverSQLite:
		return sqlite.Open(SQLitePath(c.Path)), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", c.Driver)
	}
}

// Open opens and pings a connection to the configured database.
func Open(ctx context.Context, c config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(c)
	if err != nil {
		return nil, err
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", describe(c), err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", describe(c), err)
	}
	if c.Driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: ping %s: %w", describe(c), err)
	}
	return conn, nil
}

// Opener returns an OpenFunc bound to c, for use with NewGateway.
func Opener(c config.DatabaseConfig) OpenFunc {
	return func(ctx context.Context) (*gorm.DB, error) {
		return Open(ctx, c)
	}
}

// ConnectAdmin opens a MySQL connection without selecting a database, used
// for CREATE DATABASE.
func ConnectAdmin(c config.DatabaseConfig) (*gorm.DB, error) {
	conn, err := gorm.Open(mysql.Open(mysqlConfig(c, "").FormatDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", c.Host, c.Port, err)
	}
	return conn, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// Close closes the pool behind conn.
func Close(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return sqlDB.Close()
}

func describe(c config.DatabaseConfig) string {
	if c.Driver == config.DriverSQLite {
		return "sqlite:" + c.Path
	}
	return fmt.Sprintf("%s:%d/%s", c.Host, c.Port, c.Name)
}
