package certauthority

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// leafCertificateModel is the sqlite-backed row tracking what has been
// minted, so the authority never has to scan its PEM directory to
// answer "do I already have a leaf for example.com" (spec §4.1, storage
// note in SPEC_FULL.md). This is the only persistence in the system and
// holds no conversation content.
type leafCertificateModel struct {
	Domain    string `gorm:"primaryKey;size:255"`
	Serial    string `gorm:"size:64"`
	NotBefore time.Time
	NotAfter  time.Time
	CertPath  string `gorm:"size:512"`
	KeyPath   string `gorm:"size:512"`
}

func (leafCertificateModel) TableName() string {
	return "leaf_certificates"
}

// LeafRow is the store-agnostic shape the authority works with.
type LeafRow struct {
	Domain    string
	Serial    string
	NotBefore time.Time
	NotAfter  time.Time
	CertPath  string
	KeyPath   string
}

// Index is the gorm+sqlite-backed leaf certificate ledger.
type Index struct {
	db *gorm.DB
}

// OpenIndex opens (creating if absent) the sqlite leaf index at dsn,
// following the teacher's NewDBConnection pattern generalized from the
// agent/message models to a single leaf_certificates table.
func OpenIndex(dsn string) (*Index, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("certauthority: open leaf index: %w", err)
	}
	if err := db.AutoMigrate(&leafCertificateModel{}); err != nil {
		return nil, fmt.Errorf("certauthority: migrate leaf index: %w", err)
	}
	return &Index{db: db}, nil
}

// Lookup returns the stored row for domain, if any.
func (i *Index) Lookup(domain string) (LeafRow, bool) {
	var m leafCertificateModel
	if err := i.db.First(&m, "domain = ?", domain).Error; err != nil {
		return LeafRow{}, false
	}
	return LeafRow{
		Domain:    m.Domain,
		Serial:    m.Serial,
		NotBefore: m.NotBefore,
		NotAfter:  m.NotAfter,
		CertPath:  m.CertPath,
		KeyPath:   m.KeyPath,
	}, true
}

// Upsert inserts or replaces the row for row.Domain.
func (i *Index) Upsert(row LeafRow) error {
	m := leafCertificateModel{
		Domain:    row.Domain,
		Serial:    row.Serial,
		NotBefore: row.NotBefore,
		NotAfter:  row.NotAfter,
		CertPath:  row.CertPath,
		KeyPath:   row.KeyPath,
	}
	return i.db.Save(&m).Error
}

// List returns every tracked leaf, for `gateway cert list`.
func (i *Index) List() ([]LeafRow, error) {
	var rows []leafCertificateModel
	if err := i.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("certauthority: list leaves: %w", err)
	}
	out := make([]LeafRow, 0, len(rows))
	for _, m := range rows {
		out = append(out, LeafRow{
			Domain:    m.Domain,
			Serial:    m.Serial,
			NotBefore: m.NotBefore,
			NotAfter:  m.NotAfter,
			CertPath:  m.CertPath,
			KeyPath:   m.KeyPath,
		})
	}
	return out, nil
}

// Close releases the underlying sqlite connection.
func (i *Index) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
