// Package setdb caches detection sets, so that the same video is never sent
// to the inference service twice with the same options.
package setdb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/icevision/overlay/pkg/detections"
	"github.com/icevision/overlay/pkg/inference"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("Detection set not found")

type SetDB struct {
	Log logs.Log
	DB  *gorm.DB
}

// Open or create the cache database
func Open(log logs.Log, dbc dbh.DBConfig) (*SetDB, error) {
	if dbc.Driver == dbh.DriverSqlite {
		os.MkdirAll(filepath.Dir(dbc.Database), 0770)
	}
	db, err := dbh.OpenDB(log, dbc, Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open detection set database %v: %w", dbc.LogSafeDescription(), err)
	}
	return &SetDB{
		Log: log,
		DB:  db,
	}, nil
}

func (s *SetDB) Close() {
	if raw, err := s.DB.DB(); err == nil {
		raw.Close()
	}
}

// Find the most recent detection set for the given video and options.
// Returns ErrNotFound if the video has not been processed with these options.
func (s *SetDB) Find(hash string, opts inference.Options) (*DetectionSet, error) {
	opts = opts.WithDefaults()
	row := DetectionSet{}
	err := s.DB.Where("hash = ? AND conf = ? AND every_n = ? AND max_frames = ?", hash, opts.Conf, opts.EveryN, opts.MaxFrames).Order("id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &row, nil
}

// Save a detection set, replacing any previous set with the same key
func (s *SetDB) Save(hash, source string, opts inference.Options, set *detections.Set) (*DetectionSet, error) {
	opts = opts.WithDefaults()
	row := &DetectionSet{
		Hash:       hash,
		Source:     source,
		Conf:       opts.Conf,
		EveryN:     opts.EveryN,
		MaxFrames:  opts.MaxFrames,
		Created:    dbh.MakeIntTime(time.Now()),
		Frames:     len(set.Frames),
		Detections: &dbh.JSONField[detections.Set]{Data: *set},
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("hash = ? AND conf = ? AND every_n = ? AND max_frames = ?", hash, opts.Conf, opts.EveryN, opts.MaxFrames).Delete(&DetectionSet{}).Error; err != nil {
			return err
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	s.Log.Infof("Cached %v detection frames for %v (%v)", row.Frames, source, hash[:min(12, len(hash))])
	return row, nil
}

// Index validates the cached set, and wraps it in a detections.Index
func (d *DetectionSet) Index() (*detections.Index, error) {
	if d.Detections == nil {
		return nil, fmt.Errorf("Detection set %v has no detections", d.ID)
	}
	return detections.NewIndex(&d.Detections.Data)
}

// HashFile returns the hex SHA256 of a file's contents
func HashFile(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
