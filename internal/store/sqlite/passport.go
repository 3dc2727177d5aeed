package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lucid-mcp/mcpgate/internal/store"
)

func (d *DB) CreatePassport(ctx context.Context, p *store.Passport) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.Status == "" {
		p.Status = store.StatusActive
	}
	var tags any
	if p.Tags != nil {
		tags = marshalStrings(p.Tags)
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO passports
			(passport_id, type, owner, name, description, metadata, tags,
			 status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PassportID, p.Type, p.Owner, p.Name, p.Description,
		normalizeJSON(p.Metadata, "{}"), tags, p.Status,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetPassport(ctx context.Context, id string) (*store.Passport, error) {
	row := d.q.QueryRowContext(ctx, `
		SELECT passport_id, type, owner, name, description, metadata, tags,
		       status, created_at, updated_at
		FROM passports WHERE passport_id = ?`, id)
	p, err := scanPassport(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return p, err
}

func (d *DB) ListPassports(ctx context.Context, f store.PassportFilter) ([]store.Passport, int, error) {
	where, args := buildPassportWhere(f)

	var total int
	if err := d.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM passports"+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage

	rows, err := d.q.QueryContext(ctx, `
		SELECT passport_id, type, owner, name, description, metadata, tags,
		       status, created_at, updated_at
		FROM passports`+where+`
		ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, perPage, offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []store.Passport
	for rows.Next() {
		p, err := scanPassport(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (d *DB) UpdatePassport(ctx context.Context, p *store.Passport) error {
	p.UpdatedAt = time.Now().UTC()
	var tags any
	if p.Tags != nil {
		tags = marshalStrings(p.Tags)
	}
	res, err := d.q.ExecContext(ctx, `
		UPDATE passports
		SET name = ?, description = ?, metadata = ?, tags = ?, status = ?,
		    updated_at = ?
		WHERE passport_id = ?`,
		p.Name, p.Description, normalizeJSON(p.Metadata, "{}"), tags,
		p.Status, formatTime(p.UpdatedAt), p.PassportID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

// RevokePassport is idempotent: revoking an already revoked passport
// succeeds, only a missing passport is an error.
func (d *DB) RevokePassport(ctx context.Context, id string) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE passports SET status = ?, updated_at = ?
		WHERE passport_id = ?`,
		store.StatusRevoked, formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func buildPassportWhere(f store.PassportFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}
	if f.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, f.Owner)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Search != "" {
		clauses = append(clauses, "(name LIKE ? OR description LIKE ?)")
		pat := "%" + f.Search + "%"
		args = append(args, pat, pat)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func scanPassport(scan func(dest ...any) error) (*store.Passport, error) {
	var p store.Passport
	var metadata string
	var tags sql.NullString
	var created, updated string
	err := scan(&p.PassportID, &p.Type, &p.Owner, &p.Name, &p.Description,
		&metadata, &tags, &p.Status, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.Metadata = json.RawMessage(metadata)
	if tags.Valid {
		p.Tags = unmarshalStrings(tags.String)
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}
