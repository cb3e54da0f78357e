package localcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/surrealdb/canvassync/pkg/models"
)

type CacheSuite struct {
	suite.Suite
	open  func(dir string) (Cache, error)
	cache Cache
	dir   string
}

func (s *CacheSuite) SetupTest() {
	s.dir = s.T().TempDir()
	c, err := s.open(s.dir)
	s.Require().NoError(err)
	s.cache = c
}

func (s *CacheSuite) TearDownTest() {
	s.Require().NoError(s.cache.Close())
}

func sampleRecord() Record {
	snap := models.EmptySnapshot()
	snap = snap.With(models.KindNote, models.Collection{
		"n1": {ID: "n1", Kind: models.KindNote, X: 1.5, Y: -2, Width: 200, Height: 150, ZIndex: 2, Content: "hello", Color: "#fff"},
		"n2": {ID: "n2", Kind: models.KindNote, Width: 180, Height: 120, ZIndex: 1},
	})
	snap = snap.With(models.KindImage, models.Collection{
		"i1": {ID: "i1", Kind: models.KindImage, Width: 300, Height: 200, ZIndex: 3, URL: "https://example.com/a.png", OriginalWidth: 1200, OriginalHeight: 800},
	})
	return NewRecord(snap, models.Viewport{X: 10, Y: 20, Scale: 1.5}, time.UnixMilli(1_700_000_000_000))
}

func (s *CacheSuite) TestRoundTrip() {
	ctx := context.Background()
	want := sampleRecord()

	s.Require().NoError(s.cache.Save(ctx, "users/u1", want))
	got, ok, err := s.cache.Load(ctx, "users/u1")
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Equal(RecordVersion, got.Version)
	s.Equal(want.UpdatedAt, got.UpdatedAt)
	s.Equal(want.ViewportSettings, got.ViewportSettings)
	s.True(want.Snapshot().Equal(got.Snapshot()))
	s.Equal([]string{"n2", "n1"}, []string{got.Notes[0].ID, got.Notes[1].ID})
}

func (s *CacheSuite) TestMissing() {
	_, ok, err := s.cache.Load(context.Background(), "nobody")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *CacheSuite) TestOverwriteAndDelete() {
	ctx := context.Background()
	r := sampleRecord()
	s.Require().NoError(s.cache.Save(ctx, "k", r))

	r.Notes = nil
	s.Require().NoError(s.cache.Save(ctx, "k", r))
	got, ok, err := s.cache.Load(ctx, "k")
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Empty(got.Notes)

	s.Require().NoError(s.cache.Delete(ctx, "k"))
	s.Require().NoError(s.cache.Delete(ctx, "k"))
	_, ok, err = s.cache.Load(ctx, "k")
	s.Require().NoError(err)
	s.False(ok)
}

func TestFileCache(t *testing.T) {
	suite.Run(t, &CacheSuite{open: func(dir string) (Cache, error) { return NewFileCache(dir) }})
}

func TestSQLiteCache(t *testing.T) {
	suite.Run(t, &CacheSuite{open: func(dir string) (Cache, error) {
		return NewSQLiteCache(filepath.Join(dir, "cache.sqlite3"))
	}})
}

func TestFileCacheDiscardsCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(c.path("k"), []byte("not cbor"), 0o600))
	_, ok, err := c.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
	_, statErr := os.Stat(c.path("k"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	require.NoError(t, c.Save(context.Background(), "k", sampleRecord()))
	_, ok, err := c.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
