package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-logr/logr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// PolicyDocument is the persisted form of a Document.
type PolicyDocument struct {
	Collection string `gorm:"primaryKey"`
	ID         string `gorm:"primaryKey"`
	Text       string `gorm:"not null"`
	Topic      string `gorm:"index"`
	CreatedAt  time.Time
}

// TableName implements gorm's tabler interface.
func (PolicyDocument) TableName() string { return "policy_documents" }

// Repository persists policy documents.
type Repository struct {
	db  *gorm.DB
	log logr.Logger
}

// OpenRepository connects to the database and migrates the schema.
func OpenRepository(driver, dsn string, log logr.Logger) (*Repository, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := db.AutoMigrate(&PolicyDocument{}); err != nil {
		return nil, fmt.Errorf("failed to migrate policy documents: %w", err)
	}

	return &Repository{db: db, log: log}, nil
}

// Close releases the database connection.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ingest replaces the contents of collection with docs in one transaction.
// Running it twice with the same input leaves the same state.
func (r *Repository) Ingest(ctx context.Context, collection string, docs []Document) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ?", collection).Delete(&PolicyDocument{}).Error; err != nil {
			return fmt.Errorf("failed to clear collection: %w", err)
		}
		if len(docs) == 0 {
			return nil
		}
		rows := make([]PolicyDocument, len(docs))
		for i, d := range docs {
			rows[i] = PolicyDocument{Collection: collection, ID: d.ID, Text: d.Text, Topic: d.Topic}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to store documents: %w", err)
		}
		return nil
	})
	if err != nil {
		return adkerrors.New(adkerrors.ErrCodeKnowledgeIngest, fmt.Sprintf("ingest into %q failed", collection), err)
	}
	r.log.Info("Ingested policy documents", "collection", collection, "count", len(docs))
	return nil
}

// Documents returns every document of collection ordered by ID.
func (r *Repository) Documents(ctx context.Context, collection string) ([]Document, error) {
	var rows []PolicyDocument
	if err := r.db.WithContext(ctx).Where("collection = ?", collection).Order("id").Find(&rows).Error; err != nil {
		return nil, &adkerrors.StoreUnavailableError{Cause: err}
	}
	docs := make([]Document, len(rows))
	for i, row := range rows {
		docs[i] = Document{ID: row.ID, Text: row.Text, Topic: row.Topic}
	}
	return docs, nil
}

// Count returns the number of documents in collection.
func (r *Repository) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&PolicyDocument{}).Where("collection = ?", collection).Count(&n).Error
	return n, err
}

// LoadIndex builds an in-memory index from the stored collection.
func LoadIndex(ctx context.Context, repo *Repository, collection string) (*Index, error) {
	docs, err := repo.Documents(ctx, collection)
	if err != nil {
		return nil, err
	}
	return NewIndex(docs...), nil
}
