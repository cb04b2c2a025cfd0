package utils

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

var TimeTo = timeTo{}

type timeTo struct{}

func (t2 timeTo) PGTimestamptz(t time.Time) (pgtype.Timestamptz, error) {
	var tsz pgtype.Timestamptz
	if err := tsz.Scan(t); err != nil {
		return pgtype.Timestamptz{}, err
	}
	tsz.Valid = true
	return tsz, nil
}
