package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/period"
)

type deltaParquetRecord struct {
	TargetDate       string   `parquet:"name=target_date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mode             string   `parquet:"name=mode, type=BYTE_ARRAY, convertedtype=UTF8"`
	PreviousPublish  int64    `parquet:"name=previous_publish, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	LatestPublish    int64    `parquet:"name=latest_publish, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	SettlementPeriod int32    `parquet:"name=settlement_period, type=INT32"`
	PreviousMW       *float64 `parquet:"name=previous_mw, type=DOUBLE, repetitiontype=OPTIONAL"`
	NewMW            *float64 `parquet:"name=new_mw, type=DOUBLE, repetitiontype=OPTIONAL"`
	DeltaMW          *float64 `parquet:"name=delta_mw, type=DOUBLE, repetitiontype=OPTIONAL"`
	Direction        string   `parquet:"name=direction, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, errors.New("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// DiffParquet encodes the delta view as a single Parquet file.
func DiffParquet(w io.Writer, v delta.View, compression string) error {
	if len(v.Records) == 0 {
		return ErrNothingToRender
	}

	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(deltaParquetRecord), 1)
	if err != nil {
		return fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(compression) {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	target := v.LatestTarget.Format(period.DateLayout)
	for _, r := range v.Records {
		rec := deltaParquetRecord{
			TargetDate:       target,
			Mode:             v.Mode.String(),
			PreviousPublish:  v.PreviousPublish.UnixMilli(),
			LatestPublish:    v.LatestPublish.UnixMilli(),
			SettlementPeriod: int32(r.Period),
			PreviousMW:       optionalFloat(r.Previous.Valid, r.Previous.Decimal.InexactFloat64()),
			NewMW:            optionalFloat(r.New.Valid, r.New.Decimal.InexactFloat64()),
			DeltaMW:          optionalFloat(r.Delta.Valid, r.Delta.Decimal.InexactFloat64()),
			Direction:        string(r.Direction),
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return fmt.Errorf("write delta record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize delta parquet: %w", err)
	}

	_, err = w.Write(mem.Bytes())
	return err
}

func optionalFloat(valid bool, v float64) *float64 {
	if !valid {
		return nil
	}
	return &v
}
