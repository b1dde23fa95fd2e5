package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/radbotlabs/radbot/internal/credentials"
)

// PutCredential stores a sealed credential, replacing any existing entry.
func (d *DB) PutCredential(ctx context.Context, rec *credentials.SealedRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO credentials (name, encrypted_value, salt, type, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			salt = excluded.salt,
			type = excluded.type,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		rec.Name, rec.Ciphertext, rec.Salt, rec.Type, rec.Description, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential loads a sealed credential by name.
func (d *DB) GetCredential(ctx context.Context, name string) (*credentials.SealedRecord, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT name, encrypted_value, salt, type, description, created_at, updated_at
		FROM credentials WHERE name = ?`, name)
	var rec credentials.SealedRecord
	var typ, desc sql.NullString
	err := row.Scan(&rec.Name, &rec.Ciphertext, &rec.Salt, &typ, &desc, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	rec.Type = typ.String
	rec.Description = desc.String
	return &rec, nil
}

// ListCredentials returns all sealed credentials.
func (d *DB) ListCredentials(ctx context.Context) ([]*credentials.SealedRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT name, encrypted_value, salt, type, description, created_at, updated_at
		FROM credentials ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*credentials.SealedRecord
	for rows.Next() {
		var rec credentials.SealedRecord
		var typ, desc sql.NullString
		if err := rows.Scan(&rec.Name, &rec.Ciphertext, &rec.Salt, &typ, &desc, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		rec.Type = typ.String
		rec.Description = desc.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// DeleteCredential removes a credential row.
func (d *DB) DeleteCredential(ctx context.Context, name string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credentials.ErrNotFound
	}
	return nil
}
