package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/thermoscan/internal/domain"
)

func TestSessionRoundTrip(t *testing.T) {
	ts := time.Date(2024, 7, 4, 18, 40, 12, 123456000, time.UTC)
	rows := []SessionRow{
		{ID: 2, Reading: domain.NewReading(35.01, domain.ProviderTogether).Stamped(ts)},
		{ID: 1, Reading: domain.NewReading(-3.5, domain.ProviderGemini).Stamped(ts.Add(-time.Minute))},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSession(&buf, rows))
	assert.True(t, strings.HasPrefix(buf.String(), "id,temperature,status,model,timestamp\n"))

	parsed, err := ReadSession(&buf)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	for i := range rows {
		assert.Equal(t, rows[i].ID, parsed[i].ID)
		assert.Equal(t, rows[i].Reading.Temperature, parsed[i].Reading.Temperature)
		assert.Equal(t, rows[i].Reading.Status, parsed[i].Reading.Status)
		assert.Equal(t, rows[i].Reading.Model, parsed[i].Reading.Model)
		assert.True(t, rows[i].Reading.Timestamp.Equal(parsed[i].Reading.Timestamp))
	}
}

func TestWriteArchiveUsesDisplayZone(t *testing.T) {
	rows := []ArchiveRow{{
		ID:      "665b1f0c9d1e8a0001a1b2c3",
		Reading: domain.NewReading(32, domain.ProviderMoondream).Stamped(time.Date(2024, 7, 4, 20, 0, 0, 0, time.UTC)),
		Source:  "ThermoScan WebApp",
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, rows))
	assert.Equal(t,
		"_id,temperature,status,model,timestamp,source\n"+
			"665b1f0c9d1e8a0001a1b2c3,32,warning,moondream,2024-07-05 01:30:00,ThermoScan WebApp\n",
		buf.String())
}

func TestReadSessionRejectsForeignHeader(t *testing.T) {
	_, err := ReadSession(strings.NewReader("a,b,c,d,e\n"))
	assert.Error(t, err)
}

func TestFilenamesEmbedDate(t *testing.T) {
	now := time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "thermoscan_session_export_2024-01-02.csv", SessionFilename(now))
	assert.Equal(t, "thermoscan_full_export_2024-01-02.csv", ArchiveFilename(now))
}
