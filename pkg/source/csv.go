// pkg/source/csv.go
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/urbanmetrics/trip-ingress/pkg/model"
)

// Column header variants seen across public taxi trip dumps, mapped to the
// canonical field each one feeds. First match in header order wins.
var headerVariants = map[string][]string{
	"pickup_datetime":  {"tpep_pickup_datetime", "pickup_datetime", "pickup_time", "pickup_ts"},
	"dropoff_datetime": {"tpep_dropoff_datetime", "dropoff_datetime", "dropoff_time", "dropoff_ts"},
	"pickup_lat":       {"pickup_latitude", "pickup_lat"},
	"pickup_lon":       {"pickup_longitude", "pickup_lon", "pickup_long"},
	"dropoff_lat":      {"dropoff_latitude", "dropoff_lat"},
	"dropoff_lon":      {"dropoff_longitude", "dropoff_lon", "dropoff_long"},
	"passenger_count":  {"passenger_count", "passengers"},
	"trip_distance":    {"trip_distance", "distance", "tripdistance"},
	"trip_duration":    {"trip_duration", "trip_duration_seconds", "duration"},
	"fare_amount":      {"fare_amount", "fare", "fareamount"},
	"tip_amount":       {"tip_amount", "tip", "tipamount"},
	"vendor_code":      {"vendor_id", "vendor"},
}

// Canonical fields that must be resolvable from the header. Anything else
// missing is a per-row concern for the validator, not a structural failure.
var requiredFields = []string{
	"pickup_datetime", "dropoff_datetime",
	"pickup_lat", "pickup_lon", "dropoff_lat", "dropoff_lon",
	"passenger_count", "fare_amount",
}

// CSVSource reads raw trip records from a CSV file in fixed-size chunks,
// strictly forward, one chunk in memory at a time.
type CSVSource struct {
	file      *os.File
	reader    *csv.Reader
	columns   map[string]int // canonical field -> header index
	chunkSize int
	line      int64
	logger    *zap.Logger
}

// OpenCSV opens the input file and resolves its header. Returns
// ErrSourceUnavailable if the file cannot be opened and ErrMalformedSource
// if the header cannot be resolved to the required canonical columns.
func OpenCSV(path string, chunkSize int) (*CSVSource, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: failed to read header: %v", ErrMalformedSource, err)
	}

	columns, err := resolveColumns(header)
	if err != nil {
		file.Close()
		return nil, err
	}

	src := &CSVSource{
		file:      file,
		reader:    reader,
		columns:   columns,
		chunkSize: chunkSize,
		logger:    zap.L().Named("csv-source"),
	}

	src.logger.Info("Opened input source",
		zap.String("path", path),
		zap.Int("chunkSize", chunkSize),
		zap.Int("resolvedColumns", len(columns)))

	return src, nil
}

// resolveColumns maps canonical fields to header indexes using the variant
// table. Header names are matched case-insensitively with whitespace trimmed.
func resolveColumns(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	columns := make(map[string]int)
	for canonical, variants := range headerVariants {
		for _, v := range variants {
			if i, ok := index[v]; ok {
				columns[canonical] = i
				break
			}
		}
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := columns[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: header missing required columns: %s",
			ErrMalformedSource, strings.Join(missing, ", "))
	}

	return columns, nil
}

// Next reads the next chunk of raw records. Rows that fail the CSV parse are
// still emitted (with whatever fields were recovered) so the validator can
// reject and count them; only io errors terminate the read.
func (s *CSVSource) Next(ctx context.Context) ([]model.RawTripRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunk := make([]model.RawTripRecord, 0, s.chunkSize)

	for len(chunk) < s.chunkSize {
		row, err := s.reader.Read()
		if err == io.EOF {
			break
		}
		s.line++
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				s.logger.Warn("Unparseable row",
					zap.Int64("line", s.line),
					zap.Error(err))
				chunk = append(chunk, model.RawTripRecord{Line: s.line})
				continue
			}
			return nil, fmt.Errorf("failed to read row %d: %w", s.line, err)
		}

		chunk = append(chunk, s.toRaw(row))
	}

	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

func (s *CSVSource) toRaw(row []string) model.RawTripRecord {
	field := func(canonical string) string {
		i, ok := s.columns[canonical]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	return model.RawTripRecord{
		Line:            s.line,
		VendorCode:      field("vendor_code"),
		PickupDatetime:  field("pickup_datetime"),
		DropoffDatetime: field("dropoff_datetime"),
		PickupLat:       field("pickup_lat"),
		PickupLon:       field("pickup_lon"),
		DropoffLat:      field("dropoff_lat"),
		DropoffLon:      field("dropoff_lon"),
		PassengerCount:  field("passenger_count"),
		TripDistance:    field("trip_distance"),
		TripDuration:    field("trip_duration"),
		FareAmount:      field("fare_amount"),
		TipAmount:       field("tip_amount"),
	}
}

// Close closes the underlying file.
func (s *CSVSource) Close() error {
	return s.file.Close()
}
