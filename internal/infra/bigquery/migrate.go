package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/budget-autopilot/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Pattern to match migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migrate applies the embedded schema migrations that have not been applied
// yet and returns how many ran.
func (s *Store) Migrate(ctx context.Context, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	migrations, err := readMigrations(migrationFiles, s.projectID, s.datasetID)
	if err != nil {
		return 0, err
	}
	if len(migrations) == 0 {
		return 0, nil
	}

	// The first migration creates schema_migrations itself.
	if err := s.exec(ctx, "bigquery.Migrate", migrations[0].SQL); err != nil {
		return 0, fmt.Errorf("Migrate: ensure schema_migrations: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return 0, err
	}
	pending, err := pendingMigrations(migrations, applied)
	if err != nil {
		return 0, err
	}
	log.Info().Int("applied", len(applied)).Int("pending", len(pending)).Msg("Checked schema migrations")

	count := 0
	for _, m := range pending {
		if err := s.exec(ctx, "bigquery.Migrate", m.SQL); err != nil {
			return count, fmt.Errorf("Migrate: %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := s.recordMigration(ctx, m, appliedBy); err != nil {
			return count, fmt.Errorf("Migrate: record %04d_%s: %w", m.Version, m.Name, err)
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Migration applied")
		count++
	}
	return count, nil
}

// pendingMigrations returns the migrations not applied yet. An applied
// migration whose file changed since is an error: the dataset no longer
// matches the embedded schema.
func pendingMigrations(migrations []Migration, applied []AppliedMigration) ([]Migration, error) {
	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	var pending []Migration
	for _, m := range migrations {
		am, ok := appliedByVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("pendingMigrations: %04d_%s was changed after it was applied (checksum %s, applied %s)",
				m.Version, m.Name, shortChecksum(m.Checksum), shortChecksum(am.Checksum))
		}
	}
	return pending, nil
}

func shortChecksum(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

// readMigrations reads the migration files in version order, substituting
// the project and dataset placeholders. The checksum covers the file as
// written so it does not depend on the target dataset.
func readMigrations(fsys fs.FS, projectID, datasetID string) ([]Migration, error) {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("readMigrations: %w", err)
	}

	var migrations []Migration
	for _, path := range files {
		filename := path[strings.LastIndex(path, "/")+1:]
		version, name, ok := parseMigrationFilename(filename)
		if !ok {
			continue
		}

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("readMigrations: reading %s: %w", filename, err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: filename,
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseMigrationFilename(filename string) (int, string, bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

func (s *Store) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, s.table("schema_migrations")))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, classify("bigquery.Migrate", "reading applied migrations", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify("bigquery.Migrate", "iterating results", err)
		}

		am := AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
		}
		if row.Checksum.Valid {
			am.Checksum = row.Checksum.StringVal
		}
		if row.AppliedBy.Valid {
			am.AppliedBy = row.AppliedBy.StringVal
		}
		applied = append(applied, am)
	}
	return applied, nil
}

func (s *Store) recordMigration(ctx context.Context, m Migration, appliedBy string) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, s.table("schema_migrations"))

	return s.exec(ctx, "bigquery.Migrate", sql,
		bigquery.QueryParameter{Name: "version", Value: m.Version},
		bigquery.QueryParameter{Name: "name", Value: m.Name},
		bigquery.QueryParameter{Name: "checksum", Value: m.Checksum},
		bigquery.QueryParameter{Name: "applied_by", Value: appliedBy},
	)
}
