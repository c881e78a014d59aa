package version

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sitemirror/sitemirror/internal/fault"
	"github.com/sitemirror/sitemirror/internal/pipeline"
)

// Store is the append-only version archive. All mutating operations are
// transactional at the granularity of one version's metadata plus the
// active-flag flip, and are serialized per website.
type Store struct {
	db         *DB
	storageDir string
	log        zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-website serialization
}

// NewStore creates a Store writing snapshots under storageDir.
func NewStore(db *DB, storageDir string, log zerolog.Logger) *Store {
	return &Store{
		db:         db,
		storageDir: storageDir,
		log:        log,
		locks:      make(map[string]*sync.Mutex),
	}
}

// websiteLock returns the mutex serializing mutations for one website.
func (s *Store) websiteLock(websiteID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[websiteID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[websiteID] = l
	}
	return l
}

// CreateNewVersion copies every file from SourceDir into a new immutable
// storage location and records the version plus one row per copied file.
// The metadata transaction commits only after the copy succeeds; a failed
// copy removes the partial tree and registers nothing.
func (s *Store) CreateNewVersion(opts CreateOpts) (*CreateResult, error) {
	if opts.WebsiteID == "" {
		return nil, fault.Validationf("website id is required")
	}
	if opts.SourceDir == "" {
		return nil, fault.Validationf("source dir is required")
	}
	if _, err := os.Stat(opts.SourceDir); err != nil {
		return nil, fault.Validationf("source dir %s: %v", opts.SourceDir, err)
	}

	lock := s.websiteLock(opts.WebsiteID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.listLocked(opts.WebsiteID)
	if err != nil {
		return nil, err
	}

	number := opts.VersionNumber
	if number == "" {
		number = nextVersionNumber(existing)
	}
	for _, v := range existing {
		if v.VersionNumber == number {
			return nil, fault.Conflictf("version %s already exists for website %s", number, opts.WebsiteID)
		}
	}

	// The first version of a website is always the active baseline unless
	// the caller explicitly opts out.
	setActive := len(existing) == 0
	if opts.SetActive != nil {
		setActive = *opts.SetActive
	}

	id := uuid.NewString()
	storagePath := filepath.Join(s.storageDir, opts.WebsiteID, id)

	copied, err := pipeline.CopyTree(opts.SourceDir, storagePath)
	if err != nil {
		os.RemoveAll(storagePath)
		return nil, fmt.Errorf("%w: snapshot copy: %v", fault.ErrPersistence, err)
	}

	tx, err := s.db.conn.Begin()
	if err != nil {
		os.RemoveAll(storagePath)
		return nil, fmt.Errorf("%w: begin: %v", fault.ErrPersistence, err)
	}
	defer tx.Rollback()

	if setActive {
		if err := clearActive(tx, opts.WebsiteID); err != nil {
			os.RemoveAll(storagePath)
			return nil, err
		}
	}

	_, err = tx.Exec(
		`INSERT INTO versions (id, website_id, version_number, source_dir, storage_path,
		                       tokens_json, changelog, accuracy_score, parent_version_id, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, opts.WebsiteID, number, opts.SourceDir, storagePath,
		nullable(opts.TokensJSON), nullable(opts.Changelog), opts.AccuracyScore,
		nullable(opts.ParentVersionID), setActive,
	)
	if err != nil {
		os.RemoveAll(storagePath)
		return nil, fmt.Errorf("%w: insert version: %v", fault.ErrPersistence, err)
	}

	for _, rel := range copied {
		info, err := os.Stat(filepath.Join(storagePath, rel))
		if err != nil {
			os.RemoveAll(storagePath)
			return nil, fmt.Errorf("%w: stat copied file %s: %v", fault.ErrPersistence, rel, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO version_files (version_id, path, size_bytes) VALUES (?, ?, ?)`,
			id, filepath.ToSlash(rel), info.Size(),
		); err != nil {
			os.RemoveAll(storagePath)
			return nil, fmt.Errorf("%w: insert version file %s: %v", fault.ErrPersistence, rel, err)
		}
	}

	if err := tx.Commit(); err != nil {
		os.RemoveAll(storagePath)
		return nil, fmt.Errorf("%w: commit: %v", fault.ErrPersistence, err)
	}

	v, err := s.GetVersion(id)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("website", opts.WebsiteID).Str("version", number).
		Int("files", len(copied)).Bool("active", setActive).Msg("version created")

	return &CreateResult{Version: v, VersionPath: storagePath, FilesCopied: len(copied)}, nil
}

// ListVersions returns all versions for a website, most recent first.
// An empty slice, not an error, when none exist.
func (s *Store) ListVersions(websiteID string) ([]Version, error) {
	return s.listLocked(websiteID)
}

func (s *Store) listLocked(websiteID string) ([]Version, error) {
	rows, err := s.db.conn.Query(selectVersion+` WHERE website_id = ? ORDER BY created_at DESC, rowid DESC`, websiteID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	versions := []Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// GetVersion returns a version by id, or nil when absent.
func (s *Store) GetVersion(id string) (*Version, error) {
	row := s.db.conn.QueryRow(selectVersion+` WHERE id = ?`, id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetActiveVersion returns the website's active version, or nil when none.
func (s *Store) GetActiveVersion(websiteID string) (*Version, error) {
	row := s.db.conn.QueryRow(selectVersion+` WHERE website_id = ? AND is_active`, websiteID)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetFilesForVersion returns the file entries recorded for a version.
func (s *Store) GetFilesForVersion(id string) ([]File, error) {
	rows, err := s.db.conn.Query(
		`SELECT version_id, path, size_bytes FROM version_files WHERE version_id = ? ORDER BY path`, id)
	if err != nil {
		return nil, fmt.Errorf("get files for version: %w", err)
	}
	defer rows.Close()

	files := []File{}
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.VersionID, &f.Path, &f.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan version file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ActivateVersion re-points the website's current output to an existing
// version. The active flag flips in a single transaction under the
// per-website lock, so no instant exists with zero or two active versions.
func (s *Store) ActivateVersion(id, websiteID string) (*Version, error) {
	lock := s.websiteLock(websiteID)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.GetVersion(id)
	if err != nil {
		return nil, err
	}
	if v == nil || v.WebsiteID != websiteID {
		return nil, fault.NotFoundf("version %s for website %s", id, websiteID)
	}

	tx, err := s.db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", fault.ErrPersistence, err)
	}
	defer tx.Rollback()

	if err := clearActive(tx, websiteID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE versions SET is_active = TRUE WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("%w: set active: %v", fault.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", fault.ErrPersistence, err)
	}

	s.log.Info().Str("website", websiteID).Str("version", v.VersionNumber).Msg("version activated")
	return s.GetVersion(id)
}

// CanRollback checks whether rolling the website back to the target version
// is permitted. Rolling back to the currently active version is a no-op and
// rejected; so is a target belonging to a different website.
func (s *Store) CanRollback(websiteID, targetVersionID string) (*RollbackCheck, error) {
	v, err := s.GetVersion(targetVersionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &RollbackCheck{CanRollback: false, Reason: "target version not found"}, nil
	}
	if v.WebsiteID != websiteID {
		return &RollbackCheck{CanRollback: false, Reason: "target version belongs to a different website"}, nil
	}
	if v.IsActive {
		return &RollbackCheck{CanRollback: false, Reason: "target version is already active"}, nil
	}
	return &RollbackCheck{CanRollback: true}, nil
}

// RollbackToVersion creates a brand-new version whose content mirrors the
// target, then activates it. The target and every other historical version
// remain byte-for-byte unchanged, so "what was active when" stays
// reconstructible from the version chain.
func (s *Store) RollbackToVersion(opts RollbackOpts) (*RollbackResult, error) {
	check, err := s.CanRollback(opts.WebsiteID, opts.TargetVersionID)
	if err != nil {
		return nil, err
	}
	if !check.CanRollback {
		return nil, fault.Conflictf("rollback rejected: %s", check.Reason)
	}

	target, err := s.GetVersion(opts.TargetVersionID)
	if err != nil {
		return nil, err
	}

	changelog := opts.Changelog
	if changelog == "" {
		changelog = fmt.Sprintf("Rollback to version %s", target.VersionNumber)
	}

	active := true
	result, err := s.CreateNewVersion(CreateOpts{
		WebsiteID:       opts.WebsiteID,
		SourceDir:       target.StoragePath,
		TokensJSON:      target.TokensJSON,
		Changelog:       changelog,
		AccuracyScore:   target.AccuracyScore,
		ParentVersionID: target.ID,
		SetActive:       &active,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("website", opts.WebsiteID).
		Str("from", target.VersionNumber).Str("to", result.Version.VersionNumber).
		Msg("rolled back")
	return &RollbackResult{NewVersion: result.Version, TargetVersion: target}, nil
}

// DeleteVersion always rejects: the store is append-only and versions are
// never deleted or mutated after creation.
func (s *Store) DeleteVersion(id string) error {
	return fault.ErrImmutable
}

// --- helpers ---

const selectVersion = `
SELECT id, website_id, version_number, source_dir, storage_path,
       COALESCE(tokens_json, ''), COALESCE(changelog, ''), accuracy_score,
       COALESCE(parent_version_id, ''), is_active, created_at
FROM versions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	var score sql.NullFloat64
	err := row.Scan(&v.ID, &v.WebsiteID, &v.VersionNumber, &v.SourceDir, &v.StoragePath,
		&v.TokensJSON, &v.Changelog, &score, &v.ParentVersionID, &v.IsActive, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	if score.Valid {
		v.AccuracyScore = &score.Float64
	}
	return &v, nil
}

func clearActive(tx *sql.Tx, websiteID string) error {
	if _, err := tx.Exec(`UPDATE versions SET is_active = FALSE WHERE website_id = ? AND is_active`, websiteID); err != nil {
		return fmt.Errorf("%w: clear active: %v", fault.ErrPersistence, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nextVersionNumber computes the next "major.minor" number from existing
// versions. The first version of a website is always "1.0"; afterwards the
// minor component of the highest number increments.
func nextVersionNumber(existing []Version) string {
	if len(existing) == 0 {
		return "1.0"
	}
	bestMajor, bestMinor := 0, 0
	for _, v := range existing {
		major, minor, ok := parseVersionNumber(v.VersionNumber)
		if !ok {
			continue
		}
		if major > bestMajor || (major == bestMajor && minor > bestMinor) {
			bestMajor, bestMinor = major, minor
		}
	}
	if bestMajor == 0 {
		return "1.0"
	}
	return fmt.Sprintf("%d.%d", bestMajor, bestMinor+1)
}

func parseVersionNumber(s string) (major, minor int, ok bool) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}
