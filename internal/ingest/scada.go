package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/genioCE/WellApp/internal/model"
)

// RequiredColumns must all appear in a SCADA header. Extra columns are ignored.
var RequiredColumns = []string{"timestamp", "flow_rate", "pressure", "temperature", "volume"}

// timestampLayouts are tried in order. Values without a zone are UTC.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04",
}

// ParseSCADA reads a SCADA CSV export. Every required column must be present,
// every value must parse, and timestamps must advance by exactly one hour.
func ParseSCADA(wellID, sourceFile string, data []byte) ([]model.DataUnit, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, invalid("empty csv")
	}
	if err != nil {
		return nil, invalid("read header: %v", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	var missing []string
	for _, name := range RequiredColumns {
		if _, ok := col[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, invalid("missing columns: %s", strings.Join(missing, ", "))
	}

	var units []model.DataUnit
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalid("line %d: %v", line, err)
		}
		ts, err := parseTimestamp(rec[col["timestamp"]])
		if err != nil {
			return nil, invalid("line %d: %v", line, err)
		}
		u := model.DataUnit{
			WellID:     wellID,
			Source:     model.SourceSCADA,
			Timestamp:  ts,
			SourceFile: sourceFile,
		}
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"flow_rate", &u.FlowRate},
			{"pressure", &u.Pressure},
			{"temperature", &u.Temperature},
			{"volume", &u.Volume},
		} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col[f.name]]), 64)
			if err != nil {
				return nil, invalid("line %d: %s %q is not a number", line, f.name, rec[col[f.name]])
			}
			*f.dst = v
		}
		units = append(units, u)
	}

	if err := ValidateHourly(units); err != nil {
		return nil, err
	}
	return units, nil
}

// ValidateHourly checks that consecutive timestamps are exactly one hour apart.
func ValidateHourly(units []model.DataUnit) error {
	for i := 1; i < len(units); i++ {
		if d := units[i].Timestamp.Sub(units[i-1].Timestamp); d != time.Hour {
			return invalid("timestamps must be hourly and sequential: %s follows %s",
				units[i].Timestamp.Format(time.RFC3339), units[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
