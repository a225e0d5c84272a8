//go:build !js && !wasm
// +build !js,!wasm

package reference

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/Tartil/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "tartil.sqlite3"
const errDBClientNil = "db client is nil"

// Reference is one stored spectrogram. Ayah and Word are zero for levels
// that do not carry them.
type Reference struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Level     string `gorm:"type:varchar(8);uniqueIndex:idx_ref_key,priority:1"`
	Surah     int    `gorm:"uniqueIndex:idx_ref_key,priority:2"`
	Ayah      int    `gorm:"uniqueIndex:idx_ref_key,priority:3"`
	Word      int    `gorm:"uniqueIndex:idx_ref_key,priority:4"`
	Bands     int
	Frames    int
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SQLiteStore keeps references in a SQLite catalog with msgpack payloads.
type SQLiteStore struct {
	DB *gorm.DB
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Reference{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SQLiteStore{DB: db, db: sqlDB}, nil
}

func (c *SQLiteStore) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteStore) Ping(ctx context.Context) error {
	if c == nil || c.db == nil {
		return errors.New(errDBClientNil)
	}
	return c.db.PingContext(ctx)
}

func keyColumns(key models.ReferenceKey) (level string, surah, ayah, word int) {
	ayah, _ = key.Ayah()
	word, _ = key.Word()
	return string(key.Level()), key.Surah(), ayah, word
}

func (c *SQLiteStore) Get(ctx context.Context, key models.ReferenceKey) (*models.Spectrogram, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	level, surah, ayah, word := keyColumns(key)

	var row Reference
	err := c.DB.WithContext(ctx).
		Where("level = ? AND surah = ? AND ayah = ? AND word = ?", level, surah, ayah, word).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NotFound("no reference for %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("querying reference: %w", err)
	}

	spec, err := Decode(row.Payload)
	if err != nil {
		return nil, err
	}
	if spec.Bands() != row.Bands || spec.Frames() != row.Frames {
		return nil, fmt.Errorf("reference %s: payload is %d×%d, catalog says %d×%d",
			key, spec.Bands(), spec.Frames(), row.Bands, row.Frames)
	}
	return spec, nil
}

// Put inserts or replaces the reference for key.
func (c *SQLiteStore) Put(ctx context.Context, key models.ReferenceKey, spec *models.Spectrogram) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if err := key.Validate(); err != nil {
		return err
	}
	payload, err := Encode(spec)
	if err != nil {
		return err
	}
	level, surah, ayah, word := keyColumns(key)

	row := Reference{
		Level:   level,
		Surah:   surah,
		Ayah:    ayah,
		Word:    word,
		Bands:   spec.Bands(),
		Frames:  spec.Frames(),
		Payload: payload,
	}
	err = c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "level"}, {Name: "surah"}, {Name: "ayah"}, {Name: "word"}},
		DoUpdates: clause.AssignmentColumns([]string{"bands", "frames", "payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storing reference %s: %w", key, err)
	}
	return nil
}

// List returns stored keys in coordinate order.
func (c *SQLiteStore) List(ctx context.Context, level models.Level) ([]models.ReferenceKey, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	q := c.DB.WithContext(ctx).Model(&Reference{}).Select("id", "level", "surah", "ayah", "word")
	if level != "" {
		q = q.Where("level = ?", string(level))
	}
	var rows []Reference
	if err := q.Order("level, surah, ayah, word").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}

	keys := make([]models.ReferenceKey, 0, len(rows))
	for _, r := range rows {
		ayah, word := r.Ayah, r.Word
		key, err := models.KeyFor(models.Level(r.Level), r.Surah, &ayah, &word)
		if err != nil {
			return nil, fmt.Errorf("corrupt catalog row %d: %w", r.ID, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Count returns the number of stored references per level.
func (c *SQLiteStore) Count(ctx context.Context) (map[models.Level]int64, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rows []struct {
		Level string
		N     int64
	}
	err := c.DB.WithContext(ctx).Model(&Reference{}).
		Select("level, count(*) as n").
		Group("level").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting references: %w", err)
	}
	out := make(map[models.Level]int64, len(rows))
	for _, r := range rows {
		out[models.Level(r.Level)] = r.N
	}
	return out, nil
}
