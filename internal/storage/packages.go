package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ppiankov/trustgate/internal/model"
)

const packageColumns = `name, version, status, min_maturity, ban_reason, requested_by,
	approved_by, approved_at, created_at, updated_at`

func scanPackage(row rowScanner) (*model.PackageEntry, error) {
	var (
		p                model.PackageEntry
		status, minLevel string
		approvedAt       sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&p.Name, &p.Version, &status, &minLevel, &p.BanReason, &p.RequestedBy,
		&p.ApprovedBy, &approvedAt, &created, &updated); err != nil {
		return nil, err
	}
	lvl, err := model.ParseLevel(minLevel)
	if err != nil {
		return nil, fmt.Errorf("package %s:%s: %w", p.Name, p.Version, err)
	}
	p.MinMaturity = lvl
	p.Status = model.PackageStatus(status)
	p.ApprovedAt = fromNullNanos(approvedAt)
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}

// GetPackage retrieves one registry entry by name and version.
func (d *DB) GetPackage(ctx context.Context, name, version string) (*model.PackageEntry, error) {
	p, err := scanPackage(d.db.QueryRowContext(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE name = ? AND version = ?`, name, version))
	if err != nil {
		return nil, notFound("get package", err)
	}
	return p, nil
}

// RequestPackage creates a pending entry if none exists. Existing entries are
// left untouched. It returns the stored entry and whether it was created.
func (d *DB) RequestPackage(ctx context.Context, name, version, requestedBy string, minMaturity model.Level) (*model.PackageEntry, bool, error) {
	now := toNanos(d.now())
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO packages (`+packageColumns+`)
		 VALUES (?, ?, ?, ?, '', ?, '', NULL, ?, ?)
		 ON CONFLICT(name, version) DO NOTHING`,
		name, version, string(model.PackagePending), minMaturity.String(), requestedBy, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("request package: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("request package rows affected: %w", err)
	}
	p, err := d.GetPackage(ctx, name, version)
	if err != nil {
		return nil, false, err
	}
	return p, n > 0, nil
}

// ApprovePackage marks an entry active with the given minimum maturity,
// creating it when absent. Banned entries are left unchanged; the returned
// entry reflects the stored state.
func (d *DB) ApprovePackage(ctx context.Context, name, version string, minMaturity model.Level, approvedBy string) (*model.PackageEntry, error) {
	now := toNanos(d.now())
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO packages (`+packageColumns+`)
		 VALUES (?, ?, ?, ?, '', '', ?, ?, ?, ?)
		 ON CONFLICT(name, version) DO UPDATE SET
		   status = excluded.status,
		   min_maturity = excluded.min_maturity,
		   approved_by = excluded.approved_by,
		   approved_at = excluded.approved_at,
		   updated_at = excluded.updated_at
		 WHERE packages.status != ?`,
		name, version, string(model.PackageActive), minMaturity.String(), approvedBy, now, now, now,
		string(model.PackageBanned),
	)
	if err != nil {
		return nil, fmt.Errorf("approve package: %w", err)
	}
	return d.GetPackage(ctx, name, version)
}

// BanPackage marks an entry banned regardless of prior status, creating it
// when absent.
func (d *DB) BanPackage(ctx context.Context, name, version, reason string) (*model.PackageEntry, error) {
	now := toNanos(d.now())
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO packages (`+packageColumns+`)
		 VALUES (?, ?, ?, ?, ?, '', '', NULL, ?, ?)
		 ON CONFLICT(name, version) DO UPDATE SET
		   status = excluded.status,
		   ban_reason = excluded.ban_reason,
		   updated_at = excluded.updated_at`,
		name, version, string(model.PackageBanned), model.Autonomous.String(), reason, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("ban package: %w", err)
	}
	return d.GetPackage(ctx, name, version)
}

// ListPackages returns registry entries ordered by name and version. Empty
// status lists all.
func (d *DB) ListPackages(ctx context.Context, status model.PackageStatus) ([]model.PackageEntry, error) {
	query := `SELECT ` + packageColumns + ` FROM packages`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY name, version`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []model.PackageEntry
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
