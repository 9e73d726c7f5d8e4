// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gormkv stores blob records in a single SQL table through gorm. It
// backs the sqlite, postgres and mysql blob plugins.
package gormkv

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/blinklabs-io/landregistry/database/types"
)

type Record struct {
	UpdatedAt time.Time
	Key       string `gorm:"primaryKey;size:255"`
	Value     []byte
}

func (Record) TableName() string {
	return "kv_records"
}

// Migrate creates or updates the record table
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// Get returns types.ErrBlobKeyNotFound when no row has the key
func Get(ctx context.Context, db *gorm.DB, key string) ([]byte, error) {
	var rec Record
	result := db.WithContext(ctx).Where(&Record{Key: key}).Limit(1).Find(&rec)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, types.ErrBlobKeyNotFound
	}
	if rec.Value == nil {
		return []byte{}, nil
	}
	return rec.Value, nil
}

// Set inserts or replaces the row for key
func Set(ctx context.Context, db *gorm.DB, key string, val []byte) error {
	rec := Record{
		Key:       key,
		Value:     val,
		UpdatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}

func Delete(ctx context.Context, db *gorm.DB, key string) error {
	result := db.WithContext(ctx).Where(&Record{Key: key}).Delete(&Record{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrBlobKeyNotFound
	}
	return nil
}
