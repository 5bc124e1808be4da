package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kolbeh/desktop/internal/devapi/model"
)

const desktopColumns = `id, owner_phone, title, cpu, ram, storage, status, status_title,
	image_title, plan_title, country_name, vdi_url`

type desktopRepo struct {
	db *sql.DB
}

// NewDesktopRepo creates a Postgres DesktopRepo
func NewDesktopRepo(db *sql.DB) DesktopRepo {
	return &desktopRepo{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDesktop(row scanner) (model.Desktop, error) {
	var d model.Desktop
	err := row.Scan(&d.ID, &d.OwnerPhone, &d.Title, &d.CPU, &d.RAM, &d.Storage, &d.Status,
		&d.StatusTitle, &d.ImageTitle, &d.PlanTitle, &d.CountryName, &d.VDIURL)
	return d, err
}

// ListByOwner returns the desktops assigned to phone, ordered by id
func (r *desktopRepo) ListByOwner(ctx context.Context, phone string) ([]model.Desktop, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+desktopColumns+` FROM desktops WHERE owner_phone = $1 ORDER BY id`, phone)
	if err != nil {
		return nil, fmt.Errorf("query desktops: %w", err)
	}
	defer rows.Close()

	out := []model.Desktop{}
	for rows.Next() {
		d, err := scanDesktop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan desktop: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate desktops: %w", err)
	}
	return out, nil
}

// GetForOwner returns desktop id if it belongs to phone
func (r *desktopRepo) GetForOwner(ctx context.Context, phone, id string) (model.Desktop, error) {
	d, err := scanDesktop(r.db.QueryRowContext(ctx,
		`SELECT `+desktopColumns+` FROM desktops WHERE owner_phone = $1 AND id = $2`, phone, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Desktop{}, fmt.Errorf("desktop %s: %w", id, ErrNotFound)
		}
		return model.Desktop{}, fmt.Errorf("query desktop: %w", err)
	}
	return d, nil
}

// Upsert inserts or replaces a desktop
func (r *desktopRepo) Upsert(ctx context.Context, d model.Desktop) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO desktops (`+desktopColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET owner_phone = EXCLUDED.owner_phone,
		    title = EXCLUDED.title,
		    cpu = EXCLUDED.cpu,
		    ram = EXCLUDED.ram,
		    storage = EXCLUDED.storage,
		    status = EXCLUDED.status,
		    status_title = EXCLUDED.status_title,
		    image_title = EXCLUDED.image_title,
		    plan_title = EXCLUDED.plan_title,
		    country_name = EXCLUDED.country_name,
		    vdi_url = EXCLUDED.vdi_url
	`, d.ID, d.OwnerPhone, d.Title, d.CPU, d.RAM, d.Storage, d.Status, d.StatusTitle,
		d.ImageTitle, d.PlanTitle, d.CountryName, d.VDIURL)
	if err != nil {
		return fmt.Errorf("upsert desktop %s: %w", d.ID, err)
	}
	return nil
}
