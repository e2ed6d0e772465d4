package repo

import (
	"context"
	"database/sql"

	"conecta/internal/domain"
)

func (r Repo) UpsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor, now string) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT INTO actors(id,name,email,role,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, role=excluded.role`,
		a.ID, a.Name, nullable(a.Email), a.Role, now)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var email sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(email,''),role FROM actors WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &email, &a.Role)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.Email = email.String
	return a, err
}

func (r Repo) ListActors(ctx context.Context, role string) ([]domain.Actor, error) {
	query := `SELECT id,name,COALESCE(email,''),role FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		var email sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &email, &a.Role); err != nil {
			return nil, err
		}
		a.Email = email.String
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) DeleteActor(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM actors WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
