package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Compile-time interface check.
var _ VolumeStore = (*ParquetVolumeStore)(nil)

// ParquetVolumeStore implements VolumeStore using Parquet files on disk, one
// file per symbol and day.
type ParquetVolumeStore struct {
	DataDir string
}

// NewParquetVolumeStore creates a ParquetVolumeStore rooted at the given
// data directory.
func NewParquetVolumeStore(dataDir string) *ParquetVolumeStore {
	return &ParquetVolumeStore{DataDir: dataDir}
}

// VolumeRecord is the Parquet schema for intraday volume observations.
type VolumeRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Volume    float64 `parquet:"volume"`
}

// WriteCurve writes the volume curve for a symbol on a day, merging with any
// records already present for that file.
//
// Layout: <DataDir>/us/volume/<SYMBOL>/<YYYY-MM-DD>.parquet
func (s *ParquetVolumeStore) WriteCurve(_ context.Context, symbol string, day time.Time, points []VolumePoint) error {
	if len(points) == 0 {
		return nil
	}

	records := make([]VolumeRecord, 0, len(points))
	for _, p := range points {
		records = append(records, VolumeRecord{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: p.Timestamp.UnixMilli(),
			Volume:    p.Volume,
		})
	}

	path := s.curvePath(symbol, day)
	existing, _ := readParquetFile[VolumeRecord](path)
	merged := mergeVolumeRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing volume curve for %s/%s: %w",
			symbol, day.Format("2006-01-02"), err)
	}
	return nil
}

// ReadCurve reads the volume curve for a symbol on a day, oldest first.
func (s *ParquetVolumeStore) ReadCurve(_ context.Context, symbol string, day time.Time) ([]VolumePoint, error) {
	records, err := readParquetFile[VolumeRecord](s.curvePath(symbol, day))
	if err != nil {
		// Missing file means no curve for that day.
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	points := make([]VolumePoint, 0, len(records))
	for _, r := range records {
		points = append(points, VolumePoint{
			Timestamp: time.UnixMilli(r.Timestamp),
			Volume:    r.Volume,
		})
	}
	return points, nil
}

// curvePath returns the filesystem path for a volume-curve Parquet file.
func (s *ParquetVolumeStore) curvePath(symbol string, day time.Time) string {
	date := day.Format("2006-01-02")
	return filepath.Join(s.DataDir, "us", "volume", strings.ToUpper(symbol), date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeVolumeRecords deduplicates volume records by (symbol, timestamp),
// preferring new records over existing ones. Results are sorted by
// timestamp.
func mergeVolumeRecords(existing, incoming []VolumeRecord) []VolumeRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]VolumeRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]VolumeRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
