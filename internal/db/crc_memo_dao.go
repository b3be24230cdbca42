package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
)

const crcMemoTableName = "file_crc_memo_tab"

var CRCMemoDao = newCRCMemoDao(Default)

// CRCMemo is the remembered checksum state of one file or archive entry.
type CRCMemo struct {
	ModTime int64
	Size    int64
	CRC32   string
	// HeaderChecked is set once header detection ran, found or not.
	HeaderChecked   bool
	HeaderName      string
	HeaderlessSize  int64
	HeaderlessCRC32 string
}

type crcMemoDao struct {
	dbGetter DatabaseGetter
}

func newCRCMemoDao(getter DatabaseGetter) *crcMemoDao {
	return &crcMemoDao{dbGetter: getter}
}

// NewCRCMemoDao builds a dao bound to a specific handle.
func NewCRCMemoDao(db *sql.DB) *crcMemoDao {
	return newCRCMemoDao(func() *sql.DB { return db })
}

// Lookup returns the memo for location when modification time and size still match.
func (dao *crcMemoDao) Lookup(ctx context.Context, location string, modTime, size int64) (*CRCMemo, bool, error) {
	db := dao.dbGetter()
	if db == nil {
		return nil, false, nil
	}
	query, args, err := builder.BuildSelect(crcMemoTableName,
		map[string]interface{}{"location": location, "_limit": []uint{0, 1}},
		[]string{"file_modtime", "file_size", "crc32", "header_checked", "header_name", "headerless_size", "headerless_crc32"},
	)
	if err != nil {
		return nil, false, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query crc memo: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		m := &CRCMemo{}
		if err := rows.Scan(&m.ModTime, &m.Size, &m.CRC32, &m.HeaderChecked, &m.HeaderName, &m.HeaderlessSize, &m.HeaderlessCRC32); err != nil {
			return nil, false, fmt.Errorf("scan crc memo: %w", err)
		}
		if m.ModTime == modTime && m.Size == size {
			return m, true, nil
		}
		return nil, false, nil
	}
	return nil, false, rows.Err()
}

// Upsert stores or replaces the memo for location.
func (dao *crcMemoDao) Upsert(ctx context.Context, location string, m *CRCMemo) error {
	db := dao.dbGetter()
	if db == nil {
		return fmt.Errorf("crc memo dao not initialised")
	}
	fields := map[string]interface{}{
		"file_modtime":     m.ModTime,
		"file_size":        m.Size,
		"crc32":            m.CRC32,
		"header_checked":   m.HeaderChecked,
		"header_name":      m.HeaderName,
		"headerless_size":  m.HeaderlessSize,
		"headerless_crc32": m.HeaderlessCRC32,
	}
	row := map[string]interface{}{"location": location, "create_time": time.Now().Unix()}
	for k, v := range fields {
		row[k] = v
	}
	insertSQL, insertArgs, err := builder.BuildInsert(crcMemoTableName, []map[string]interface{}{row})
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, insertSQL, insertArgs...); err != nil {
		if !isUniqueConstraintError(err) {
			return fmt.Errorf("insert crc memo: %w", err)
		}
		updateSQL, updateArgs, err := builder.BuildUpdate(crcMemoTableName,
			map[string]interface{}{"location": location}, fields)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, updateSQL, updateArgs...); err != nil {
			return fmt.Errorf("update crc memo: %w", err)
		}
	}
	return nil
}
