package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/internal/indexer/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/postgres"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

const pageColumns = `
	p.id,
	p.path,
	COALESCE(u.username, ''),
	r.id,
	COALESCE(r.body, ''),
	p.comment_count,
	(SELECT count(*) FROM page_likers pl WHERE pl.page_id = p.id),
	p.created_at,
	p.updated_at,
	p.grant_mode,
	COALESCE((SELECT array_agg(g.user_id ORDER BY g.user_id) FROM page_granted_users g WHERE g.page_id = p.id), '{}'),
	COALESCE(p.granted_group_id, ''),
	COALESCE(p.redirect_to, '')`

const pageJoins = `
	FROM pages p
	LEFT JOIN users u ON u.id = p.creator_id
	LEFT JOIN revisions r ON r.id = p.revision_id`

// PostgresStore reads pages, bookmarks and tags from the wiki's database.
type PostgresStore struct {
	client *postgres.Client
	logger *slog.Logger
}

func NewPostgresStore(client *postgres.Client) *PostgresStore {
	return &PostgresStore{
		client: client,
		logger: slog.Default().With("component", "page-store"),
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *PostgresStore) CountPages(ctx context.Context) (int64, error) {
	var n int64
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM pages WHERE redirect_to IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.client.DB.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) FindPage(ctx context.Context, id string) (*document.Page, error) {
	row := s.client.DB.QueryRowContext(ctx,
		`SELECT `+pageColumns+pageJoins+` WHERE p.id = $1`, id)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "page %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading page %s: %w", id, err)
	}
	return page, nil
}

// OpenCursor streams pages inside a read-only REPEATABLE READ transaction so
// the whole scan sees one snapshot. Redirect stubs are excluded in SQL.
func (s *PostgresStore) OpenCursor(ctx context.Context) (PageCursor, error) {
	tx, err := s.client.BeginSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT `+pageColumns+pageJoins+` WHERE p.redirect_to IS NULL ORDER BY p.id`)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("opening page cursor: %w", err)
	}
	return &sqlCursor{tx: tx, rows: rows}, nil
}

func (s *PostgresStore) BookmarkCounts(ctx context.Context, pageIDs []string) (map[string]int, error) {
	ids := lo.Uniq(pageIDs)
	out := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT page_id, count(*) FROM bookmarks WHERE page_id = ANY($1) GROUP BY page_id`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("counting bookmarks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning bookmark count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) TagNames(ctx context.Context, pageIDs []string) (map[string][]string, error) {
	ids := lo.Uniq(pageIDs)
	out := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.client.DB.QueryContext(ctx, `
		SELECT rel.page_id, t.name
		FROM page_tag_relations rel
		JOIN tags t ON t.id = rel.tag_id
		WHERE rel.page_id = ANY($1)
		ORDER BY rel.page_id, t.name`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("loading tag names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scanning tag name: %w", err)
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (*document.Page, error) {
	var (
		p          document.Page
		revisionID sql.NullString
		body       string
		grant      int
		granted    pq.StringArray
	)
	err := row.Scan(
		&p.ID,
		&p.Path,
		&p.Author,
		&revisionID,
		&body,
		&p.CommentCount,
		&p.LikerCount,
		&p.CreatedAt,
		&p.UpdatedAt,
		&grant,
		&granted,
		&p.GrantedGroup,
		&p.RedirectTo,
	)
	if err != nil {
		return nil, err
	}
	if revisionID.Valid {
		p.Revision = &document.Revision{ID: revisionID.String, Body: body}
	}
	p.Grant = document.Grant(grant)
	p.GrantedUsers = []string(granted)
	return &p, nil
}

type sqlCursor struct {
	tx     *sql.Tx
	rows   *sql.Rows
	page   *document.Page
	err    error
	closed bool
}

func (c *sqlCursor) Next() bool {
	if c.err != nil || c.closed || !c.rows.Next() {
		return false
	}
	c.page, c.err = scanPage(c.rows)
	return c.err == nil
}

func (c *sqlCursor) Page() *document.Page { return c.page }

func (c *sqlCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *sqlCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	rowsErr := c.rows.Close()
	if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("closing page cursor: %w", err)
	}
	return rowsErr
}
