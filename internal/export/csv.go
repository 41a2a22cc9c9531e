package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/example/thermoscan/internal/domain"
)

var (
	SessionHeader = []string{"id", "temperature", "status", "model", "timestamp"}
	ArchiveHeader = []string{"_id", "temperature", "status", "model", "timestamp", "source"}
)

// SessionRow is one session-store reading.
type SessionRow struct {
	ID      uint
	Reading domain.Reading
}

// ArchiveRow is one archived reading.
type ArchiveRow struct {
	ID      string
	Reading domain.Reading
	Source  string
}

// WriteSession writes rows with the instant in canonical UTC form.
func WriteSession(w io.Writer, rows []SessionRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SessionHeader); err != nil {
		return err
	}
	for _, row := range rows {
		r := row.Reading
		if err := cw.Write([]string{
			strconv.FormatUint(uint64(row.ID), 10),
			formatTemperature(r.Temperature),
			string(r.Status),
			string(r.Model),
			domain.FormatStored(r.Timestamp),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteArchive writes rows with the instant rendered in the display timezone.
func WriteArchive(w io.Writer, rows []ArchiveRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ArchiveHeader); err != nil {
		return err
	}
	for _, row := range rows {
		r := row.Reading
		if err := cw.Write([]string{
			row.ID,
			formatTemperature(r.Temperature),
			string(r.Status),
			string(r.Model),
			domain.FormatDisplay(r.Timestamp),
			row.Source,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSession parses a session export.
func ReadSession(r io.Reader) ([]SessionRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(SessionHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, name := range SessionHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected column %q at %d", header[i], i)
		}
	}

	var rows []SessionRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		id, err := strconv.ParseUint(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("id %q: %w", rec[0], err)
		}
		temp, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("temperature %q: %w", rec[1], err)
		}
		ts, err := domain.ParseStored(rec[4])
		if err != nil {
			return nil, err
		}
		rows = append(rows, SessionRow{
			ID: uint(id),
			Reading: domain.Reading{
				Temperature: temp,
				Status:      domain.Status(rec[2]),
				Model:       domain.Provider(rec[3]),
				Timestamp:   ts,
			},
		})
	}
}

// SessionFilename names a session export taken at now.
func SessionFilename(now time.Time) string {
	return fmt.Sprintf("thermoscan_session_export_%s.csv", now.UTC().Format("2006-01-02"))
}

// ArchiveFilename names a full archive export taken at now.
func ArchiveFilename(now time.Time) string {
	return fmt.Sprintf("thermoscan_full_export_%s.csv", now.UTC().Format("2006-01-02"))
}

func formatTemperature(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
