package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/cpd/internal/domain"
)

const activityColumns = `activity_id, title, provider, activity_type, publish_state, version, active, published_at, published_by, created_at, updated_at`

func scanActivity(row rowScanner) (*domain.Activity, error) {
	var a domain.Activity
	if err := row.Scan(&a.ID, &a.Title, &a.Provider, &a.Type, &a.PublishState, &a.Version, &a.Active, &a.PublishedAt, &a.PublishedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateActivity implements domain.CatalogRepository.
func (r *Repository) CreateActivity(ctx context.Context, a domain.Activity) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO activities (`+activityColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.Title, a.Provider, a.Type, a.PublishState, a.Version, a.Active, a.PublishedAt, a.PublishedBy, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetActivity implements domain.CatalogRepository.
func (r *Repository) GetActivity(ctx context.Context, id string) (*domain.Activity, error) {
	if !validID(id) {
		return nil, nil
	}
	a, err := scanActivity(r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// UpdateActivity implements domain.CatalogRepository.
func (r *Repository) UpdateActivity(ctx context.Context, a domain.Activity, expectedVersion int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE activities
            SET title=$2, provider=$3, activity_type=$4, publish_state=$5, version=$6, active=$7,
                published_at=$8, published_by=$9, updated_at=$10
          WHERE activity_id=$1 AND version=$11`,
		a.ID, a.Title, a.Provider, a.Type, a.PublishState, a.Version, a.Active, a.PublishedAt, a.PublishedBy, a.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	existing, err := r.GetActivity(ctx, a.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return missing("activity", a.ID)
	}
	return domain.ErrVersionConflict
}

const mappingColumns = `mapping_id, activity_id, unit, amount, category, structured, country, allowed_states, excluded_states, validation_method, active, created_at`

func scanMapping(row rowScanner) (*domain.CreditMapping, error) {
	var m domain.CreditMapping
	if err := row.Scan(&m.ID, &m.ActivityID, &m.Unit, &m.Amount, &m.Category, &m.Structured, &m.Country, &m.AllowedStates, &m.ExcludedStates, &m.ValidationMethod, &m.Active, &m.CreatedAt); err != nil {
		return nil, err
	}
	if len(m.AllowedStates) == 0 {
		m.AllowedStates = nil
	}
	if len(m.ExcludedStates) == 0 {
		m.ExcludedStates = nil
	}
	return &m, nil
}

// CreateMapping implements domain.CatalogRepository.
func (r *Repository) CreateMapping(ctx context.Context, m domain.CreditMapping) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO credit_mappings (`+mappingColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ID, m.ActivityID, m.Unit, m.Amount, m.Category, m.Structured, m.Country,
		nonNil(m.AllowedStates), nonNil(m.ExcludedStates), m.ValidationMethod, m.Active, m.CreatedAt,
	)
	return err
}

// GetMapping implements domain.CatalogRepository.
func (r *Repository) GetMapping(ctx context.Context, id string) (*domain.CreditMapping, error) {
	if !validID(id) {
		return nil, nil
	}
	m, err := scanMapping(r.pool.QueryRow(ctx, `SELECT `+mappingColumns+` FROM credit_mappings WHERE mapping_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// SetMappingActive implements domain.CatalogRepository.
func (r *Repository) SetMappingActive(ctx context.Context, id string, active bool) error {
	if !validID(id) {
		return missing("mapping", id)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE credit_mappings SET active=$2 WHERE mapping_id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return missing("mapping", id)
	}
	return nil
}

// ListMappings implements domain.CatalogRepository.
func (r *Repository) ListMappings(ctx context.Context, activityID string) ([]domain.CreditMapping, error) {
	if !validID(activityID) {
		return []domain.CreditMapping{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+mappingColumns+` FROM credit_mappings WHERE activity_id=$1 ORDER BY created_at, mapping_id`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CreditMapping, 0)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
