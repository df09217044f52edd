package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/calsync/internal/model"
)

func TestUserID(t *testing.T) {
	assert.NoError(t, UserID("alice@example.com"))
	assert.NoError(t, UserID("user_42"))
	assert.Error(t, UserID(""))
	assert.Error(t, UserID("bob smith"))
	assert.Error(t, UserID(strings.Repeat("a", 129)))
}

func TestProviderAndEventID(t *testing.T) {
	p, err := Provider("outlook")
	require.NoError(t, err)
	assert.Equal(t, model.ProviderOutlook, p)
	_, err = Provider("yahoo")
	assert.Error(t, err)

	id, err := EventID("17")
	require.NoError(t, err)
	assert.EqualValues(t, 17, id)
	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := EventID(bad)
		assert.Error(t, err, bad)
	}
}

func TestLimit(t *testing.T) {
	n, err := Limit("", 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	n, err = Limit("5000", 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
	_, err = Limit("-1", 100, 1000)
	assert.Error(t, err)
}

func TestTime(t *testing.T) {
	ts, err := Time("from", "2024-03-01T09:00:00+01:00")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)))
	ts, err = Time("from", "")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
	_, err = Time("from", "yesterday")
	assert.EqualError(t, err, "from must be RFC 3339")
}

func TestRequestHelpers(t *testing.T) {
	assert.NoError(t, CreateCalendar("Work", ""))
	assert.Error(t, CreateCalendar("Work", "blue"))

	long := strings.Repeat("x", maxLocation+1)
	assert.Error(t, EventInput("Standup", nil, &long, nil))
	assert.NoError(t, EventInput("Standup", nil, nil, nil))

	feed := "webcal://p01-calendars.icloud.com/published/2/abc"
	assert.NoError(t, FeedURL(&feed))
	ftp := "ftp://example.com/cal.ics"
	assert.Error(t, FeedURL(&ftp))
}
