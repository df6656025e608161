package bookmark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringForm(t *testing.T) {
	b := New("tx_12345", "testdb")
	assert.Equal(t, "bookmark:v1:testdb:tx_12345", b.String())
	assert.False(t, b.CreatedAt.IsZero())
}

func TestParseRoundTrip(t *testing.T) {
	b := New("tx_67890", "mydb")
	parsed := Parse(b.String())
	require.NotNil(t, parsed)
	assert.Equal(t, "tx_67890", parsed.TransactionID)
	assert.Equal(t, "mydb", parsed.Database)
	assert.True(t, b.Equal(parsed))
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"invalid",
		"bookmark:v2:db:tx", // wrong version
		"bookmark:v1::tx",   // empty database
		"bookmark:v1:db:",   // empty txn
		"bookmark:v1:db",    // missing field
	} {
		assert.Nil(t, Parse(s), "input %q", s)
	}
}

func TestNewerThan(t *testing.T) {
	older := New("tx_1", "db")
	newer := New("tx_2", "db")
	newer.CreatedAt = older.CreatedAt.Add(time.Second)

	assert.True(t, newer.NewerThan(older))
	assert.False(t, older.NewerThan(newer))
	assert.False(t, older.NewerThan(nil))
}

func TestBookmarksDeduplicates(t *testing.T) {
	bs := NewBookmarks(
		"bookmark:v1:db:tx_123",
		"bookmark:v1:db:tx_123",
		"bookmark:v1:db:tx_456",
		"not a bookmark",
	)
	assert.Equal(t, 2, bs.Len())
	assert.False(t, bs.IsEmpty())
}

func TestLatestForDatabase(t *testing.T) {
	bs := NewBookmarks()
	b1 := New("tx_1", "alpha")
	b2 := New("tx_2", "alpha")
	b2.CreatedAt = b1.CreatedAt.Add(time.Second)
	b3 := New("tx_3", "beta")
	bs.Add(b1)
	bs.Add(b2)
	bs.Add(b3)

	latest := bs.LatestForDatabase("alpha")
	require.NotNil(t, latest)
	assert.Equal(t, "tx_2", latest.TransactionID)

	assert.Nil(t, bs.LatestForDatabase("gamma"))
}

func TestMergeDoesNotMutate(t *testing.T) {
	left := NewBookmarks("bookmark:v1:db:tx_1")
	right := NewBookmarks("bookmark:v1:db:tx_1", "bookmark:v1:db:tx_2")

	merged := left.Merge(right)
	assert.Equal(t, 2, merged.Len())
	assert.Equal(t, 1, left.Len())
	assert.Equal(t, 2, right.Len())
}
