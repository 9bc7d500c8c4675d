package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

// Checkpoint summarises the snapshot stored for one target date.
type Checkpoint struct {
	TargetDate    time.Time
	LatestPublish time.Time
	Periods       int
	UpdatedAt     time.Time
}

// recordRow is the persisted form of a reconciled record.
type recordRow struct {
	SettlementDate   time.Time
	SettlementPeriod int
	StartTime        time.Time
	PublishTime      time.Time
	ImbalanceMW      string
}

func rowFromRecord(rec snapshot.Record) recordRow {
	return recordRow{
		SettlementDate:   rec.Key.Date,
		SettlementPeriod: rec.Key.Period,
		StartTime:        rec.StartTime.UTC(),
		PublishTime:      rec.PublishTime.UTC(),
		ImbalanceMW:      rec.Value.Decimal.String(),
	}
}

func (r recordRow) record() (snapshot.Record, error) {
	value, err := decimal.NewFromString(r.ImbalanceMW)
	if err != nil {
		return snapshot.Record{}, err
	}
	return snapshot.Record{
		Key:         period.NewKey(r.SettlementDate, r.SettlementPeriod),
		StartTime:   r.StartTime.UTC(),
		PublishTime: r.PublishTime.UTC(),
		Value:       decimal.NewNullDecimal(value),
	}, nil
}

// LockKey derives the advisory lock key guarding the watcher of target.
func LockKey(target time.Time) int64 {
	d := period.Day(target)
	return int64(0x696d62)<<32 | int64(d.Year()*10000+int(d.Month())*100+d.Day())
}
