package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spatialkit/anchorsession/spatial"
)

func TestLocateFilterAcceptsMatchingAnchor(t *testing.T) {
	filter, err := newLocateFilter(`!placeholder && expires_in_seconds > 3600`)
	require.NoError(t, err)

	now := time.Now()
	record := spatial.AnchorRecord{ID: "a", Expiration: now.Add(2 * time.Hour)}
	accepted, err := filter.accept(record, now)
	require.NoError(t, err)
	require.True(t, accepted)

	record.Expiration = now.Add(time.Minute)
	accepted, err = filter.accept(record, now)
	require.NoError(t, err)
	require.False(t, accepted)
}

func TestLocateFilterSeesPlaceholderFlag(t *testing.T) {
	filter, err := newLocateFilter(`placeholder`)
	require.NoError(t, err)

	accepted, err := filter.accept(spatial.AnchorRecord{ID: "a", Placeholder: true}, time.Now())
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = filter.accept(spatial.AnchorRecord{ID: "a"}, time.Now())
	require.NoError(t, err)
	require.False(t, accepted)
}

func TestLocateFilterCompileErrors(t *testing.T) {
	_, err := newLocateFilter(`id +`)
	require.Error(t, err)

	// Non-boolean expressions are rejected at compile time.
	_, err = newLocateFilter(`expires_in_seconds`)
	require.Error(t, err)
}

func TestLocateFilterMatchesByID(t *testing.T) {
	filter, err := newLocateFilter(`id startsWith "room-"`)
	require.NoError(t, err)

	accepted, err := filter.accept(spatial.AnchorRecord{ID: "room-7"}, time.Now())
	require.NoError(t, err)
	require.True(t, accepted)

	accepted, err = filter.accept(spatial.AnchorRecord{ID: "lobby-1"}, time.Now())
	require.NoError(t, err)
	require.False(t, accepted)
}
