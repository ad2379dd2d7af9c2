package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/go-dogma/dogma/internal/content"
	"github.com/go-dogma/dogma/internal/dogmaerr"
)

const pgUniqueViolation = "23505"

// Store is the C1 Repository Store's persistence layer, backed by the
// projects/repositories/commits tables created by the package's
// migrations.
type Store struct {
	conn    *Connection
	builder sqrl.StatementBuilderType
}

// NewStore wraps an already-configured Connection.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn, builder: sqrl.StatementBuilder.PlaceholderFormat(sqrl.Dollar)}
}

func (s *Store) db(ctx context.Context) (sqlExecutor, error) {
	return s.conn.DB(ctx)
}

// sqlExecutor is the subset of dbresolver.DB that squirrel statements need.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateProject inserts a new project row. Returns dogmaerr.ProjectExists
// if the name is already taken (including by a removed-but-not-purged
// project, per spec.md §3's lifecycle invariant).
func (s *Store) CreateProject(ctx context.Context, name string, createdAt time.Time) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	query, args, err := s.builder.
		Insert("projects").
		Columns("name", "created_at").
		Values(name, createdAt).
		ToSql()
	if err != nil {
		return wrapStorageFault(err, "build create-project query")
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return dogmaerr.ProjectExists(name)
		}

		return wrapStorageFault(err, "insert project %s", name)
	}

	return nil
}

// GetProject loads one project row.
func (s *Store) GetProject(ctx context.Context, name string) (ProjectRow, error) {
	db, err := s.db(ctx)
	if err != nil {
		return ProjectRow{}, err
	}

	query, args, err := s.builder.
		Select("name", "created_at", "removed_at", "purged_at").
		From("projects").
		Where(sqrl.Eq{"name": name}).
		ToSql()
	if err != nil {
		return ProjectRow{}, wrapStorageFault(err, "build get-project query")
	}

	var row ProjectRow

	err = db.QueryRowContext(ctx, query, args...).Scan(&row.Name, &row.CreatedAt, &row.RemovedAt, &row.PurgedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectRow{}, dogmaerr.ProjectNotFound(name)
	}

	if err != nil {
		return ProjectRow{}, wrapStorageFault(err, "query project %s", name)
	}

	return row, nil
}

// ListProjects returns every project, optionally including removed ones.
func (s *Store) ListProjects(ctx context.Context, includeRemoved bool) ([]ProjectRow, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	qb := s.builder.Select("name", "created_at", "removed_at", "purged_at").From("projects")
	if !includeRemoved {
		qb = qb.Where("removed_at IS NULL")
	}

	query, args, err := qb.OrderBy("name").ToSql()
	if err != nil {
		return nil, wrapStorageFault(err, "build list-projects query")
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorageFault(err, "query projects")
	}
	defer rows.Close()

	var out []ProjectRow

	for rows.Next() {
		var row ProjectRow
		if err := rows.Scan(&row.Name, &row.CreatedAt, &row.RemovedAt, &row.PurgedAt); err != nil {
			return nil, wrapStorageFault(err, "scan project row")
		}

		out = append(out, row)
	}

	return out, wrapStorageFault(rows.Err(), "iterate projects")
}

// SetProjectRemovedAt sets or clears the removal tombstone on a project.
func (s *Store) SetProjectRemovedAt(ctx context.Context, name string, removedAt *time.Time) error {
	return s.updateTimestampColumn(ctx, "projects", sqrl.Eq{"name": name}, "removed_at", removedAt)
}

// SetProjectPurgedAt marks a project as physically purged.
func (s *Store) SetProjectPurgedAt(ctx context.Context, name string, purgedAt time.Time) error {
	return s.updateTimestampColumn(ctx, "projects", sqrl.Eq{"name": name}, "purged_at", &purgedAt)
}

// DeleteProject physically removes a project row (C8 Purge Scheduler,
// after all its repositories have been deleted).
func (s *Store) DeleteProject(ctx context.Context, name string) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	query, args, err := s.builder.Delete("projects").Where(sqrl.Eq{"name": name}).ToSql()
	if err != nil {
		return wrapStorageFault(err, "build delete-project query")
	}

	_, err = db.ExecContext(ctx, query, args...)

	return wrapStorageFault(err, "delete project %s", name)
}

// CreateRepository inserts a new repository row with HeadRevision set to
// content.InitialRevision.
func (s *Store) CreateRepository(ctx context.Context, project, name string, createdAt time.Time) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	query, args, err := s.builder.
		Insert("repositories").
		Columns("project", "name", "created_at", "head_revision").
		Values(project, name, createdAt, int32(content.InitialRevision)).
		ToSql()
	if err != nil {
		return wrapStorageFault(err, "build create-repository query")
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return dogmaerr.RepositoryExists(project, name)
		}

		return wrapStorageFault(err, "insert repository %s/%s", project, name)
	}

	return nil
}

// GetRepository loads one repository row.
func (s *Store) GetRepository(ctx context.Context, project, name string) (RepositoryRow, error) {
	db, err := s.db(ctx)
	if err != nil {
		return RepositoryRow{}, err
	}

	query, args, err := s.builder.
		Select("project", "name", "created_at", "removed_at", "purged_at", "head_revision").
		From("repositories").
		Where(sqrl.Eq{"project": project, "name": name}).
		ToSql()
	if err != nil {
		return RepositoryRow{}, wrapStorageFault(err, "build get-repository query")
	}

	var row RepositoryRow

	err = db.QueryRowContext(ctx, query, args...).
		Scan(&row.Project, &row.Name, &row.CreatedAt, &row.RemovedAt, &row.PurgedAt, &row.HeadRevision)
	if errors.Is(err, sql.ErrNoRows) {
		return RepositoryRow{}, dogmaerr.RepositoryNotFound(project, name)
	}

	if err != nil {
		return RepositoryRow{}, wrapStorageFault(err, "query repository %s/%s", project, name)
	}

	return row, nil
}

// ListRepositories returns every repository in project, optionally
// including removed ones.
func (s *Store) ListRepositories(ctx context.Context, project string, includeRemoved bool) ([]RepositoryRow, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	qb := s.builder.
		Select("project", "name", "created_at", "removed_at", "purged_at", "head_revision").
		From("repositories").
		Where(sqrl.Eq{"project": project})
	if !includeRemoved {
		qb = qb.Where("removed_at IS NULL")
	}

	query, args, err := qb.OrderBy("name").ToSql()
	if err != nil {
		return nil, wrapStorageFault(err, "build list-repositories query")
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorageFault(err, "query repositories of %s", project)
	}
	defer rows.Close()

	var out []RepositoryRow

	for rows.Next() {
		var row RepositoryRow
		if err := rows.Scan(&row.Project, &row.Name, &row.CreatedAt, &row.RemovedAt, &row.PurgedAt, &row.HeadRevision); err != nil {
			return nil, wrapStorageFault(err, "scan repository row")
		}

		out = append(out, row)
	}

	return out, wrapStorageFault(rows.Err(), "iterate repositories of %s", project)
}

// SetRepositoryRemovedAt sets or clears the removal tombstone on a repository.
func (s *Store) SetRepositoryRemovedAt(ctx context.Context, project, name string, removedAt *time.Time) error {
	return s.updateTimestampColumn(ctx, "repositories", sqrl.Eq{"project": project, "name": name}, "removed_at", removedAt)
}

// SetRepositoryPurgedAt marks a repository as physically purged.
func (s *Store) SetRepositoryPurgedAt(ctx context.Context, project, name string, purgedAt time.Time) error {
	return s.updateTimestampColumn(ctx, "repositories", sqrl.Eq{"project": project, "name": name}, "purged_at", &purgedAt)
}

// DeleteRepository physically removes a repository row and its commits
// (C8 Purge Scheduler).
func (s *Store) DeleteRepository(ctx context.Context, project, name string) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	delCommits, args1, err := s.builder.Delete("commits").Where(sqrl.Eq{"project": project, "repository": name}).ToSql()
	if err != nil {
		return wrapStorageFault(err, "build delete-commits query")
	}

	if _, err := db.ExecContext(ctx, delCommits, args1...); err != nil {
		return wrapStorageFault(err, "delete commits of %s/%s", project, name)
	}

	delRepo, args2, err := s.builder.Delete("repositories").Where(sqrl.Eq{"project": project, "name": name}).ToSql()
	if err != nil {
		return wrapStorageFault(err, "build delete-repository query")
	}

	_, err = db.ExecContext(ctx, delRepo, args2...)

	return wrapStorageFault(err, "delete repository %s/%s", project, name)
}

// AppendCommit inserts the next commit and advances the repository's head
// revision, expecting row.Revision == previous head + 1 (the caller holds
// the per-repository lock described in spec.md §4.5).
func (s *Store) AppendCommit(ctx context.Context, row CommitRow) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	query, args, err := s.builder.
		Insert("commits").
		Columns("project", "repository", "revision", "author_name", "author_email",
			"timestamp_millis", "summary", "detail", "markup", "diff").
		Values(row.Project, row.Repository, row.Revision, row.AuthorName, row.AuthorEmail,
			row.TimestampMillis, row.Summary, row.Detail, row.Markup, row.Diff).
		ToSql()
	if err != nil {
		return wrapStorageFault(err, "build append-commit query")
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return dogmaerr.New(dogmaerr.KindChangeConflict, "revision %d of %s/%s already exists", row.Revision, row.Project, row.Repository)
		}

		return wrapStorageFault(err, "insert commit %d of %s/%s", row.Revision, row.Project, row.Repository)
	}

	update, uargs, err := s.builder.
		Update("repositories").
		Set("head_revision", row.Revision).
		Where(sqrl.Eq{"project": row.Project, "name": row.Repository}).
		ToSql()
	if err != nil {
		return wrapStorageFault(err, "build head-advance query")
	}

	_, err = db.ExecContext(ctx, update, uargs...)

	return wrapStorageFault(err, "advance head of %s/%s", row.Project, row.Repository)
}

// LoadCommits returns every commit of (project, repo) in ascending
// revision order, for replay into an in-memory Tree on open.
func (s *Store) LoadCommits(ctx context.Context, project, repo string) ([]CommitRow, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	query, args, err := s.builder.
		Select("project", "repository", "revision", "author_name", "author_email",
			"timestamp_millis", "summary", "detail", "markup", "diff").
		From("commits").
		Where(sqrl.Eq{"project": project, "repository": repo}).
		OrderBy("revision ASC").
		ToSql()
	if err != nil {
		return nil, wrapStorageFault(err, "build load-commits query")
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorageFault(err, "query commits of %s/%s", project, repo)
	}
	defer rows.Close()

	var out []CommitRow

	for rows.Next() {
		var row CommitRow
		if err := rows.Scan(&row.Project, &row.Repository, &row.Revision, &row.AuthorName, &row.AuthorEmail,
			&row.TimestampMillis, &row.Summary, &row.Detail, &row.Markup, &row.Diff); err != nil {
			return nil, wrapStorageFault(err, "scan commit row")
		}

		out = append(out, row)
	}

	return out, wrapStorageFault(rows.Err(), "iterate commits of %s/%s", project, repo)
}

// ChangesOf decodes a commit row's JSONB diff column back into Changes.
func ChangesOf(row CommitRow) ([]content.Change, error) {
	return decodeChanges(row.Diff)
}

// EncodeChangeSet is the inverse of ChangesOf, used when building a
// CommitRow to append.
func EncodeChangeSet(changes []content.Change) ([]byte, error) {
	return encodeChanges(changes)
}

func (s *Store) updateTimestampColumn(ctx context.Context, table string, where sqrl.Eq, column string, value *time.Time) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	query, args, err := s.builder.Update(table).Set(column, value).Where(where).ToSql()
	if err != nil {
		return wrapStorageFault(err, "build update-%s query", column)
	}

	_, err = db.ExecContext(ctx, query, args...)

	return wrapStorageFault(err, "update %s.%s", table, column)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
