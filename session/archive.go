package session

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/browsergrid/handoff/types"
)

// ArchiveConfig configures the durable session archive.
type ArchiveConfig struct {
	// Driver selects the database: sqlite, postgres, or mysql.
	Driver   string `yaml:"driver" json:"driver" env:"DRIVER"`
	Host     string `yaml:"host" json:"host" env:"HOST"`
	Port     int    `yaml:"port" json:"port" env:"PORT"`
	User     string `yaml:"user" json:"user" env:"USER"`
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// Name is the database name, or the file path for sqlite.
	Name    string `yaml:"name" json:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`
}

// DSN returns the database connection string for the configured driver.
func (c *ArchiveConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Name,
		)
	case "sqlite":
		return c.Name
	default:
		return ""
	}
}

// archivedSession is the database row for a terminal session.
type archivedSession struct {
	ID            string `gorm:"primaryKey;size:64"`
	RunID         string `gorm:"index;size:64"`
	Status        string `gorm:"size:16"`
	Category      string `gorm:"size:32"`
	Reason        string
	Instructions  string
	Resolution    []byte
	CancelReason  string
	HasScreenshot bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	TimeoutAt     *time.Time
}

func (archivedSession) TableName() string {
	return "intervention_sessions"
}

// Archive retains terminal intervention sessions in a relational database
// for audit. It is write-behind: the coordinator appends a record when a
// session reaches a terminal state, so archive failures never block the
// lifecycle itself.
type Archive struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewArchive opens the archive database and migrates its schema.
func NewArchive(config ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch config.Driver {
	case "sqlite":
		dialector = sqlite.Open(config.DSN())
	case "postgres":
		dialector = postgres.Open(config.DSN())
	case "mysql":
		dialector = mysql.Open(config.DSN())
	default:
		return nil, fmt.Errorf("unsupported archive driver: %s", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	if err := db.AutoMigrate(&archivedSession{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive schema: %w", err)
	}

	logger.Info("session archive ready", zap.String("driver", config.Driver))

	return &Archive{
		db:     db,
		logger: logger.With(zap.String("component", "session_archive")),
	}, nil
}

// Append records a terminal session. Non-terminal sessions are rejected.
func (a *Archive) Append(ctx context.Context, sess *types.Session) error {
	if !sess.Status.Terminal() {
		return types.NewError(types.ErrInvalidState, "only terminal sessions are archived").
			WithSessionID(sess.ID)
	}

	row := &archivedSession{
		ID:            sess.ID,
		RunID:         sess.RunID,
		Status:        string(sess.Status),
		Category:      string(sess.Category),
		Reason:        sess.Reason,
		Instructions:  sess.Instructions,
		Resolution:    sess.Resolution,
		CancelReason:  sess.CancelReason,
		HasScreenshot: sess.HasScreenshot,
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
		TimeoutAt:     sess.TimeoutAt,
	}

	if err := a.db.WithContext(ctx).Create(row).Error; err != nil {
		return types.NewError(types.ErrStoreUnavailable, "archive append failed").WithCause(err)
	}
	return nil
}

// ListByRun returns archived sessions for a run, oldest first.
func (a *Archive) ListByRun(ctx context.Context, runID string) ([]*types.Session, error) {
	var rows []archivedSession
	q := a.db.WithContext(ctx).Order("created_at asc")
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "archive list failed").WithCause(err)
	}

	results := make([]*types.Session, 0, len(rows))
	for i := range rows {
		results = append(results, rows[i].toSession())
	}
	return results, nil
}

// Ping checks the archive database connection.
func (a *Archive) Ping(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the archive database.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *archivedSession) toSession() *types.Session {
	return &types.Session{
		ID:            r.ID,
		RunID:         r.RunID,
		Status:        types.Status(r.Status),
		Category:      types.Category(r.Category),
		Reason:        r.Reason,
		Instructions:  r.Instructions,
		Resolution:    r.Resolution,
		CancelReason:  r.CancelReason,
		HasScreenshot: r.HasScreenshot,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		TimeoutAt:     r.TimeoutAt,
	}
}
