package database

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xelth-com/arkikgo/internal/config"
	"github.com/xelth-com/arkikgo/internal/models"
)

const embeddedPassword = "postgres"

// DB wraps gorm.DB and includes a reference to an embedded process if active
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
	logger   logrus.FieldLogger
}

// IsEmbedded reports whether the configuration selects the embedded postgres:
// localhost and no password
func IsEmbedded(cfg config.DatabaseConfig) bool {
	return cfg.Host == "localhost" && cfg.Password == ""
}

// cleanupStaleEmbeddedPostgres cleans up leftover processes from a previous crash
func cleanupStaleEmbeddedPostgres(dataPath string, log logrus.FieldLogger) {
	pidFile := filepath.Join(dataPath, "postmaster.pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		// No pid file = clean state
		return
	}

	// First line of postmaster.pid is the PID
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	if !scanner.Scan() {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		log.WithError(err).Warn("⚠️  Could not parse PID from postmaster.pid")
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		log.WithField("pid", pid).Info("🧹 Cleaning up stale postmaster.pid (process not found)")
		_ = os.Remove(pidFile)
		return
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0 to check
	if err := process.Signal(syscall.Signal(0)); err != nil {
		log.WithField("pid", pid).Info("🧹 Cleaning up stale postmaster.pid (process not running)")
		_ = os.Remove(pidFile)
		return
	}

	log.WithField("pid", pid).Warn("⚠️  Found orphaned PostgreSQL process, attempting to stop...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		log.WithField("pid", pid).WithError(err).Warn("⚠️  Could not send SIGTERM")
	}

	// Wait up to 5 seconds for process to stop
	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if err := process.Signal(syscall.Signal(0)); err != nil {
			log.Info("✅ Orphaned PostgreSQL process stopped")
			_ = os.Remove(pidFile)
			return
		}
	}

	log.Warn("⚠️  Process did not stop gracefully, sending SIGKILL...")
	_ = process.Kill()
	time.Sleep(500 * time.Millisecond)
	_ = os.Remove(pidFile)
}

// isPortInUse checks if a port is already in use
func isPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// startEmbedded launches the embedded postgres and points cfg at it
func startEmbedded(cfg *config.DatabaseConfig, log logrus.FieldLogger) (*embeddedpostgres.EmbeddedPostgres, error) {
	log.Info("📦 Mode: [Embedded PostgreSQL] - Initializing internal database...")

	cleanupStaleEmbeddedPostgres(cfg.EmbeddedDataPath, log)

	if isPortInUse(cfg.EmbeddedPort) {
		log.WithField("port", cfg.EmbeddedPort).Warn("⚠️  Port still in use, waiting for release...")
		for i := 0; i < 6; i++ {
			time.Sleep(500 * time.Millisecond)
			if !isPortInUse(cfg.EmbeddedPort) {
				break
			}
		}
		if isPortInUse(cfg.EmbeddedPort) {
			return nil, fmt.Errorf("port %d is still in use by another process", cfg.EmbeddedPort)
		}
	}

	embeddedCfg := embeddedpostgres.DefaultConfig().
		DataPath(cfg.EmbeddedDataPath).
		Port(uint32(cfg.EmbeddedPort)).
		Database(cfg.Database).
		Username(cfg.Username).
		Password(embeddedPassword)

	embedded := embeddedpostgres.NewDatabase(embeddedCfg)
	if err := embedded.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded database: %w", err)
	}

	cfg.Port = strconv.Itoa(cfg.EmbeddedPort)
	cfg.Password = embeddedPassword
	log.WithField("port", cfg.EmbeddedPort).Info("✅ Embedded PostgreSQL process started")
	return embedded, nil
}

// Connect establishes a connection to a PostgreSQL database (external or embedded)
func Connect(cfg config.DatabaseConfig, log logrus.FieldLogger) (*DB, error) {
	var embedded *embeddedpostgres.EmbeddedPostgres

	if IsEmbedded(cfg) {
		var err error
		if embedded, err = startEmbedded(&cfg, log); err != nil {
			return nil, err
		}
	} else {
		log.WithFields(logrus.Fields{"host": cfg.Host, "port": cfg.Port}).Info("🌐 Mode: [External PostgreSQL]")
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
	)

	// SQL statements are only echoed while altering the schema
	logLevel := logger.Warn
	if cfg.Alter {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		// Clean up embedded process if GORM connection fails
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("✅ Database connection established")

	return &DB{
		DB:       db,
		embedded: embedded,
		logger:   log,
	}, nil
}

// Close ensures the database connection and embedded process are shut down
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if db.embedded != nil {
		db.logger.Info("🛑 Stopping Embedded PostgreSQL process...")
		if stopErr := db.embedded.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

// Migrate synchronizes the schema of every persisted model
func (db *DB) Migrate() error {
	if err := db.DB.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
