package datasource

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/repository"
)

var databaseRequired = []string{"host+username+password+database", "database (sqlite)"}

var databaseSchemes = []string{"postgres://", "postgresql://", "mysql://", "sqlite://"}

// tableNamePattern guards identifiers spliced into queries.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)

// DatabaseConfig is the typed credential bundle of the database variant.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string
}

func parseDatabaseConfig(creds domain.Credentials) DatabaseConfig {
	return DatabaseConfig{
		Driver:   normalizeDriver(creds.Get("driver", "type", "database_type")),
		Host:     creds.Get("host", "hostname", "server"),
		Port:     creds.Get("port"),
		Username: creds.Get("username", "user"),
		Password: creds.Get("password"),
		Database: creds.Get("database", "dbname", "db"),
		SSLMode:  creds.Get("sslmode", "ssl_mode"),
	}
}

func normalizeDriver(d string) string {
	switch strings.ToLower(d) {
	case "postgresql", "postgres", "pg":
		return "postgres"
	case "sqlite3", "sqlite":
		return "sqlite"
	case "mysql", "mariadb":
		return "mysql"
	}
	return strings.ToLower(d)
}

// DSN renders the driver-specific connection string.
func (c DatabaseConfig) DSN() string {
	switch c.Driver {
	case "mysql":
		port := c.Port
		if port == "" {
			port = "3306"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", c.Username, c.Password, c.Host, port, c.Database)
	case "sqlite":
		return c.Database
	default:
		port := c.Port
		if port == "" {
			port = "5432"
		}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "prefer"
		}
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.Host, port, c.Username, c.Password, c.Database, sslMode)
	}
}

// DatabaseSource treats the tables of a relational database as entries.
type DatabaseSource struct {
	cfg        DatabaseConfig
	creds      domain.Credentials
	sampleRows int

	db *gorm.DB
}

// NewDatabaseSource is the database Constructor.
func NewDatabaseSource(creds domain.Credentials, opts Options) DataSource {
	rows := opts.SampleRows
	if rows <= 0 {
		rows = DefaultOptions().SampleRows
	}
	return &DatabaseSource{cfg: parseDatabaseConfig(creds), creds: creds, sampleRows: rows}
}

func (d *DatabaseSource) SourceType() string { return TypeDatabase }

func (d *DatabaseSource) CanHandle(path string) bool {
	p := strings.ToLower(path)
	for _, scheme := range databaseSchemes {
		if strings.HasPrefix(p, scheme) {
			return true
		}
	}
	return false
}

// AdoptPath fills connection fields that are still empty from a database URL.
func (d *DatabaseSource) AdoptPath(path string) {
	if !d.CanHandle(path) {
		return
	}
	scheme, rest, _ := strings.Cut(path, "://")
	if d.cfg.Driver == "" {
		d.cfg.Driver = normalizeDriver(scheme)
	}
	if d.cfg.Driver == "sqlite" {
		if d.cfg.Database == "" {
			d.cfg.Database = rest
		}
		return
	}
	u, err := url.Parse(path)
	if err != nil {
		return
	}
	if d.cfg.Host == "" {
		d.cfg.Host = u.Hostname()
	}
	if d.cfg.Port == "" {
		d.cfg.Port = u.Port()
	}
	if d.cfg.Username == "" && u.User != nil {
		d.cfg.Username = u.User.Username()
	}
	if d.cfg.Password == "" && u.User != nil {
		d.cfg.Password, _ = u.User.Password()
	}
	if d.cfg.Database == "" {
		d.cfg.Database = strings.Trim(u.Path, "/")
	}
	if d.cfg.SSLMode == "" {
		d.cfg.SSLMode = u.Query().Get("sslmode")
	}
}

func (d *DatabaseSource) ValidateCredentials() bool {
	if d.cfg.Driver == "sqlite" {
		return d.cfg.Database != ""
	}
	return d.cfg.Host != "" && d.cfg.Username != "" && d.cfg.Password != "" && d.cfg.Database != ""
}

func (d *DatabaseSource) MaskedCredentials() domain.Credentials {
	return d.creds.Mask()
}

// Connect opens and pings the database through gorm.
func (d *DatabaseSource) Connect(ctx context.Context) error {
	if d.db != nil {
		return nil
	}
	driver := d.cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	dialector, err := repository.Dialector(driver, d.cfg.DSN())
	if err != nil {
		return domain.NewConnectionError(TypeDatabase, err)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return domain.NewConnectionError(TypeDatabase, errors.Wrapf(err, "open %s", driver))
	}
	sqlDB, err := db.DB()
	if err != nil {
		return domain.NewConnectionError(TypeDatabase, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return domain.NewConnectionError(TypeDatabase, errors.Wrap(err, "ping"))
	}
	d.db = db
	return nil
}

func (d *DatabaseSource) Disconnect(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	d.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ListEntries returns the table names of the database.
func (d *DatabaseSource) ListEntries(ctx context.Context, _ string) []string {
	if d.db == nil {
		return []string{}
	}
	tables, err := d.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return []string{}
	}
	return tables
}

// EntrySize returns the row count of table.
func (d *DatabaseSource) EntrySize(ctx context.Context, table string) int64 {
	if d.db == nil || !tableNamePattern.MatchString(table) {
		return 0
	}
	var n int64
	if err := d.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
		return 0
	}
	return n
}

// ReadSample renders the first rows of table as CSV.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - table: table name, optionally schema-qualified; other identifiers are refused.
//   - maxBytes: cap on the returned sample.
//
// Returns:
//   - []byte: CSV with a header row.
//   - error: non-nil if the table cannot be read.
func (d *DatabaseSource) ReadSample(ctx context.Context, table string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return []byte{}, nil
	}
	if d.db == nil {
		return nil, errors.New("database source is not connected")
	}
	if !tableNamePattern.MatchString(table) {
		return nil, errors.Errorf("invalid table name %q", table)
	}

	rows, err := d.db.WithContext(ctx).Table(table).Limit(d.sampleRows).Rows()
	if err != nil {
		return nil, errors.Wrapf(err, "select from %s", table)
	}
	defer rows.Close()

	var buf bytes.Buffer
	if err := writeRowsCSV(&buf, rows, maxBytes); err != nil {
		return nil, errors.Wrapf(err, "read %s", table)
	}
	return truncate(buf.Bytes(), maxBytes), nil
}

func writeRowsCSV(buf *bytes.Buffer, rows *sql.Rows, maxBytes int64) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	w := csv.NewWriter(buf)
	if err := w.Write(cols); err != nil {
		return err
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	record := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range values {
			record[i] = formatCell(v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
		w.Flush()
		if int64(buf.Len()) >= maxBytes {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return rows.Err()
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func (d *DatabaseSource) TestConnection(ctx context.Context) ConnectionStatus {
	if d.db == nil {
		return failed(TypeDatabase, errors.New("not connected"))
	}
	var one int
	if err := d.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return failed(TypeDatabase, err)
	}
	return connected(TypeDatabase, fmt.Sprintf("%s database %s reachable", d.cfg.Driver, d.cfg.Database))
}
