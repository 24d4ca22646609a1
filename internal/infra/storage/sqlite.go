package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"market_go/internal/domain"
)

// Meta keys for the KV table.
const (
	metaTick    = "tick"
	metaSeed    = "seed"
	metaSavedAt = "saved_at"
)

// AssetStateRow persists one asset's runtime state as a JSON payload.
// Histories are bounded ring buffers, so the payload size is bounded too.
type AssetStateRow struct {
	Symbol    string `gorm:"primaryKey"`
	Market    string `gorm:"index"`
	Payload   []byte
	UpdatedAt time.Time
}

// AnalysisRow persists one market type's analysis.
type AnalysisRow struct {
	Market    string `gorm:"primaryKey"`
	Payload   []byte
	UpdatedAt time.Time
}

// OrderRow persists one order. Seq preserves placement/retirement order
// across the round-trip; Pending separates the live book from history.
type OrderRow struct {
	Seq     int64  `gorm:"primaryKey;autoIncrement"`
	OrderID string `gorm:"index"`
	Status  string `gorm:"index"`
	Pending bool   `gorm:"index"`
	Payload []byte
}

// MetaRow is the engine metadata KV table (tick, seed, save time).
type MetaRow struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

// Storage persists simulator snapshots in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path and migrates the schema.
func NewStorage(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&AssetStateRow{}, &AnalysisRow{}, &OrderRow{}, &MetaRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// SaveSnapshot replaces the persisted state with the given snapshot,
// atomically. A partial save never survives: the whole write happens in
// one transaction.
func (s *Storage) SaveSnapshot(snap *domain.SimSnapshot) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		if err := tx.Where("1 = 1").Delete(&AssetStateRow{}).Error; err != nil {
			return err
		}
		for _, a := range snap.Assets {
			payload, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("marshal asset %s: %w", a.Symbol, err)
			}
			row := AssetStateRow{Symbol: a.Symbol, Market: string(a.Market), Payload: payload, UpdatedAt: now}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("1 = 1").Delete(&AnalysisRow{}).Error; err != nil {
			return err
		}
		for _, an := range snap.Analyses {
			payload, err := json.Marshal(an)
			if err != nil {
				return fmt.Errorf("marshal analysis %s: %w", an.Market, err)
			}
			row := AnalysisRow{Market: string(an.Market), Payload: payload, UpdatedAt: now}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("1 = 1").Delete(&OrderRow{}).Error; err != nil {
			return err
		}
		// History first so its Seq range precedes pending; each group
		// round-trips oldest first.
		if err := insertOrders(tx, snap.History, false); err != nil {
			return err
		}
		if err := insertOrders(tx, snap.Pending, true); err != nil {
			return err
		}

		metas := []MetaRow{
			{Key: metaTick, Value: strconv.FormatInt(snap.Tick, 10), UpdatedAt: now},
			{Key: metaSeed, Value: strconv.FormatInt(snap.Seed, 10), UpdatedAt: now},
			{Key: metaSavedAt, Value: strconv.FormatInt(snap.SavedAtUnix, 10), UpdatedAt: now},
		}
		for i := range metas {
			if err := tx.Save(&metas[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func insertOrders(tx *gorm.DB, orders []domain.LimitOrder, pending bool) error {
	for i := range orders {
		payload, err := json.Marshal(&orders[i])
		if err != nil {
			return fmt.Errorf("marshal order %s: %w", orders[i].ID, err)
		}
		row := OrderRow{
			OrderID: orders[i].ID,
			Status:  string(orders[i].Status),
			Pending: pending,
			Payload: payload,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// LoadSnapshot reads the persisted state. Returns (nil, nil) when
// nothing has been saved yet.
func (s *Storage) LoadSnapshot() (*domain.SimSnapshot, error) {
	var tickRow MetaRow
	err := s.db.First(&tickRow, "key = ?", metaTick).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Fresh database, nothing saved yet
	}
	if err != nil {
		return nil, err
	}

	snap := &domain.SimSnapshot{}
	if snap.Tick, err = strconv.ParseInt(tickRow.Value, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt tick meta: %w", err)
	}
	if snap.Seed, err = s.metaInt(metaSeed); err != nil {
		return nil, err
	}
	if snap.SavedAtUnix, err = s.metaInt(metaSavedAt); err != nil {
		return nil, err
	}

	var assetRows []AssetStateRow
	if err := s.db.Order("symbol").Find(&assetRows).Error; err != nil {
		return nil, err
	}
	for _, row := range assetRows {
		var a domain.AssetStateSnapshot
		if err := json.Unmarshal(row.Payload, &a); err != nil {
			return nil, fmt.Errorf("corrupt asset row %s: %w", row.Symbol, err)
		}
		snap.Assets = append(snap.Assets, a)
	}

	var analysisRows []AnalysisRow
	if err := s.db.Order("market").Find(&analysisRows).Error; err != nil {
		return nil, err
	}
	for _, row := range analysisRows {
		var an domain.MarketAnalysis
		if err := json.Unmarshal(row.Payload, &an); err != nil {
			return nil, fmt.Errorf("corrupt analysis row %s: %w", row.Market, err)
		}
		snap.Analyses = append(snap.Analyses, an)
	}

	var orderRows []OrderRow
	if err := s.db.Order("seq").Find(&orderRows).Error; err != nil {
		return nil, err
	}
	for _, row := range orderRows {
		var o domain.LimitOrder
		if err := json.Unmarshal(row.Payload, &o); err != nil {
			return nil, fmt.Errorf("corrupt order row %s: %w", row.OrderID, err)
		}
		if row.Pending {
			snap.Pending = append(snap.Pending, o)
		} else {
			snap.History = append(snap.History, o)
		}
	}

	return snap, nil
}

func (s *Storage) metaInt(key string) (int64, error) {
	var row MetaRow
	err := s.db.First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(row.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt %s meta: %w", key, err)
	}
	return v, nil
}
