package version

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitemirror/sitemirror/internal/fault"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewStore(db, t.TempDir(), zerolog.Nop())
}

// sourceDir writes a small site tree and returns its path.
func sourceDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func siteFiles() map[string]string {
	return map[string]string{
		"index.html":            "<html>v1</html>",
		"components/Header.jsx": "export default function Header() {}",
		"assets/site.css":       "body{}",
	}
}

func TestCreateFirstVersion(t *testing.T) {
	s := newTestStore(t)

	res, err := s.CreateNewVersion(CreateOpts{
		WebsiteID: "acme",
		SourceDir: sourceDir(t, siteFiles()),
		Changelog: "initial import",
	})
	require.NoError(t, err)

	assert.Equal(t, "1.0", res.Version.VersionNumber)
	assert.True(t, res.Version.IsActive, "first version becomes the active baseline")
	assert.Equal(t, 3, res.FilesCopied)
	assert.Equal(t, "initial import", res.Version.Changelog)
	assert.NotEmpty(t, res.Version.CreatedAt)

	// Snapshot content is a real copy, not a reference.
	data, err := os.ReadFile(filepath.Join(res.VersionPath, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>v1</html>", string(data))
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateNewVersion(CreateOpts{SourceDir: t.TempDir()})
	assert.ErrorIs(t, err, fault.ErrValidation)

	_, err = s.CreateNewVersion(CreateOpts{WebsiteID: "acme"})
	assert.ErrorIs(t, err, fault.ErrValidation)

	_, err = s.CreateNewVersion(CreateOpts{WebsiteID: "acme", SourceDir: "/does/not/exist"})
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestVersionNumbersAreMonotonic(t *testing.T) {
	s := newTestStore(t)

	for i, want := range []string{"1.0", "1.1", "1.2"} {
		res, err := s.CreateNewVersion(CreateOpts{
			WebsiteID: "acme",
			SourceDir: sourceDir(t, siteFiles()),
		})
		require.NoError(t, err)
		assert.Equal(t, want, res.Version.VersionNumber, "version %d", i)
	}
}

func TestDuplicateVersionNumberRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateNewVersion(CreateOpts{
		WebsiteID:     "acme",
		SourceDir:     sourceDir(t, siteFiles()),
		VersionNumber: "2.0",
	})
	require.NoError(t, err)

	_, err = s.CreateNewVersion(CreateOpts{
		WebsiteID:     "acme",
		SourceDir:     sourceDir(t, siteFiles()),
		VersionNumber: "2.0",
	})
	assert.ErrorIs(t, err, fault.ErrConflict)
}

func TestOnlyOneActiveVersion(t *testing.T) {
	s := newTestStore(t)

	first, err := s.CreateNewVersion(CreateOpts{WebsiteID: "acme", SourceDir: sourceDir(t, siteFiles())})
	require.NoError(t, err)

	// Later versions are inactive by default.
	second, err := s.CreateNewVersion(CreateOpts{WebsiteID: "acme", SourceDir: sourceDir(t, siteFiles())})
	require.NoError(t, err)
	assert.False(t, second.Version.IsActive)

	active, err := s.GetActiveVersion("acme")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.Version.ID, active.ID)

	// Activation flips exactly one flag.
	_, err = s.ActivateVersion(second.Version.ID, "acme")
	require.NoError(t, err)

	versions, err := s.ListVersions("acme")
	require.NoError(t, err)
	activeCount := 0
	for _, v := range versions {
		if v.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	active, err = s.GetActiveVersion("acme")
	require.NoError(t, err)
	assert.Equal(t, second.Version.ID, active.ID)
}

func TestActivateUnknownVersion(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ActivateVersion("missing", "acme")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestActivateWrongWebsite(t *testing.T) {
	s := newTestStore(t)

	res, err := s.CreateNewVersion(CreateOpts{WebsiteID: "acme", SourceDir: sourceDir(t, siteFiles())})
	require.NoError(t, err)

	_, err = s.ActivateVersion(res.Version.ID, "other")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestConcurrentActivations(t *testing.T) {
	s := newTestStore(t)

	var ids []string
	for i := 0; i < 4; i++ {
		res, err := s.CreateNewVersion(CreateOpts{WebsiteID: "acme", SourceDir: sourceDir(t, siteFiles())})
		require.NoError(t, err)
		ids = append(ids, res.Version.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ActivateVersion(id, "acme")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	versions, err := s.ListVersions("acme")
	require.NoError(t, err)
	activeCount := 0
	for _, v := range versions {
		if v.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount, "racing activations must settle on exactly one active version")
}

func TestGetFilesForVersion(t *testing.T) {
	s := newTestStore(t)

	res, err := s.CreateNewVersion(CreateOpts{WebsiteID: "acme", SourceDir: sourceDir(t, siteFiles())})
	require.NoError(t, err)

	files, err := s.GetFilesForVersion(res.Version.ID)
	require.NoError(t, err)
	require.Len(t, files, 3)
	// Paths are stored slash-separated and ordered.
	assert.Equal(t, "assets/site.css", files[0].Path)
	assert.Equal(t, "components/Header.jsx", files[1].Path)
	assert.Equal(t, "index.html", files[2].Path)
	assert.Greater(t, files[2].SizeBytes, int64(0))
}

func TestCanRollback(t *testing.T) {
	s := newTestStore(t)

	first, err := s.CreateNewVersion(CreateOpts{WebsiteID: "acme", SourceDir: sourceDir(t, siteFiles())})
	require.NoError(t, err)
	second, err := s.CreateNewVersion(CreateOpts{WebsiteID: "acme", SourceDir: sourceDir(t, siteFiles())})
	require.NoError(t, err)

	check, err := s.CanRollback("acme", second.Version.ID)
	require.NoError(t, err)
	assert.True(t, check.CanRollback)

	// The active version is not a rollback target.
	check, err = s.CanRollback("acme", first.Version.ID)
	require.NoError(t, err)
	assert.False(t, check.CanRollback)
	assert.Equal(t, "target version is already active", check.Reason)

	check, err = s.CanRollback("acme", "missing")
	require.NoError(t, err)
	assert.False(t, check.CanRollback)
	assert.Equal(t, "target version not found", check.Reason)

	check, err = s.CanRollback("other", second.Version.ID)
	require.NoError(t, err)
	assert.False(t, check.CanRollback)
	assert.Equal(t, "target version belongs to a different website", check.Reason)
}

func TestRollbackCreatesNewVersion(t *testing.T) {
	s := newTestStore(t)

	v1, err := s.CreateNewVersion(CreateOpts{
		WebsiteID: "acme",
		SourceDir: sourceDir(t, map[string]string{"index.html": "<html>v1</html>"}),
	})
	require.NoError(t, err)

	active := true
	v2, err := s.CreateNewVersion(CreateOpts{
		WebsiteID: "acme",
		SourceDir: sourceDir(t, map[string]string{"index.html": "<html>v2</html>"}),
		SetActive: &active,
	})
	require.NoError(t, err)

	res, err := s.RollbackToVersion(RollbackOpts{WebsiteID: "acme", TargetVersionID: v1.Version.ID})
	require.NoError(t, err)

	// History grows; nothing is rewound.
	versions, err := s.ListVersions("acme")
	require.NoError(t, err)
	assert.Len(t, versions, 3)

	assert.Equal(t, "1.2", res.NewVersion.VersionNumber)
	assert.True(t, res.NewVersion.IsActive)
	assert.Equal(t, v1.Version.ID, res.NewVersion.ParentVersionID)
	assert.Equal(t, "Rollback to version 1.0", res.NewVersion.Changelog)

	// New snapshot carries the target's content.
	data, err := os.ReadFile(filepath.Join(res.NewVersion.StoragePath, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>v1</html>", string(data))

	// The target itself is untouched and inactive.
	target, err := s.GetVersion(v1.Version.ID)
	require.NoError(t, err)
	assert.False(t, target.IsActive)
	old, err := os.ReadFile(filepath.Join(target.StoragePath, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>v1</html>", string(old))

	// The replaced head is deactivated but preserved.
	prev, err := s.GetVersion(v2.Version.ID)
	require.NoError(t, err)
	assert.False(t, prev.IsActive)
}

func TestRollbackToActiveRejected(t *testing.T) {
	s := newTestStore(t)

	v1, err := s.CreateNewVersion(CreateOpts{WebsiteID: "acme", SourceDir: sourceDir(t, siteFiles())})
	require.NoError(t, err)

	_, err = s.RollbackToVersion(RollbackOpts{WebsiteID: "acme", TargetVersionID: v1.Version.ID})
	assert.ErrorIs(t, err, fault.ErrConflict)
}

func TestRollbackOfRollback(t *testing.T) {
	s := newTestStore(t)

	v1, err := s.CreateNewVersion(CreateOpts{
		WebsiteID: "acme",
		SourceDir: sourceDir(t, map[string]string{"index.html": "one"}),
	})
	require.NoError(t, err)

	active := true
	v2, err := s.CreateNewVersion(CreateOpts{
		WebsiteID: "acme",
		SourceDir: sourceDir(t, map[string]string{"index.html": "two"}),
		SetActive: &active,
	})
	require.NoError(t, err)

	back, err := s.RollbackToVersion(RollbackOpts{WebsiteID: "acme", TargetVersionID: v1.Version.ID})
	require.NoError(t, err)

	forward, err := s.RollbackToVersion(RollbackOpts{WebsiteID: "acme", TargetVersionID: v2.Version.ID})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(forward.NewVersion.StoragePath, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	versions, err := s.ListVersions("acme")
	require.NoError(t, err)
	assert.Len(t, versions, 4)
	assert.False(t, mustGet(t, s, back.NewVersion.ID).IsActive)
}

func TestDeleteVersionAlwaysRefused(t *testing.T) {
	s := newTestStore(t)

	res, err := s.CreateNewVersion(CreateOpts{WebsiteID: "acme", SourceDir: sourceDir(t, siteFiles())})
	require.NoError(t, err)

	assert.True(t, errors.Is(s.DeleteVersion(res.Version.ID), fault.ErrImmutable))
	assert.True(t, errors.Is(s.DeleteVersion("missing"), fault.ErrImmutable))

	// Nothing was removed.
	versions, err := s.ListVersions("acme")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestListVersionsEmptyWebsite(t *testing.T) {
	s := newTestStore(t)

	versions, err := s.ListVersions("nobody")
	require.NoError(t, err)
	assert.Empty(t, versions)

	active, err := s.GetActiveVersion("nobody")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func mustGet(t *testing.T, s *Store, id string) *Version {
	t.Helper()
	v, err := s.GetVersion(id)
	require.NoError(t, err)
	require.NotNil(t, v)
	return v
}
