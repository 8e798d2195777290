package predictive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

// ModelsBucket holds one JSON encoded ARModel per metric
const ModelsBucket = "models"

// ModelStore persists trained models between restarts
type ModelStore interface {
	Save(model *ARModel) error
	Load(metric Metric) (*ARModel, error)
}

// BoltModelStore is a ModelStore backed by a bbolt file
type BoltModelStore struct {
	db     *bolt.DB
	logger *logx.Logger
}

// NewBoltModelStore opens (or creates) the model database at path
func NewBoltModelStore(path string, logger *logx.Logger) (*BoltModelStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open model database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ModelsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create models bucket: %w", err)
	}

	logger.Info("Model store opened", "path", path)
	return &BoltModelStore{db: db, logger: logger}, nil
}

// Save writes model under its metric name
func (s *BoltModelStore) Save(model *ARModel) error {
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ModelsBucket)).Put([]byte(model.Metric), data)
	})
}

// Load returns the stored model for metric, or nil when none was saved
func (s *BoltModelStore) Load(metric Metric) (*ARModel, error) {
	var model *ARModel
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(ModelsBucket)).Get([]byte(metric))
		if data == nil {
			return nil
		}
		model = &ARModel{}
		if err := json.Unmarshal(data, model); err != nil {
			return fmt.Errorf("failed to decode %s model: %w", metric, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if model != nil && len(model.Coefficients) != model.Order+1 {
		return nil, fmt.Errorf("stored %s model is malformed", metric)
	}
	return model, nil
}

// Close closes the database
func (s *BoltModelStore) Close() error {
	return s.db.Close()
}

// Restore loads every persisted model into cache. Malformed entries are
// skipped so that they get retrained.
func Restore(cache *ModelCache, store ModelStore, logger *logx.Logger) int {
	restored := 0
	for _, metric := range cache.Metrics() {
		model, err := store.Load(metric)
		if err != nil {
			logger.Warn("Failed to restore model", "metric", metric, "error", err)
			continue
		}
		if model == nil {
			continue
		}
		cache.Put(model)
		restored++
	}
	return restored
}
