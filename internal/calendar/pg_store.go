package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore reads and writes templates from the practitioners table.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Get(ctx context.Context, practitionerID uuid.UUID) (*Template, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT template
		FROM practitioners
		WHERE id = $1
	`, practitionerID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, fmt.Errorf("load template: %w", err)
	}
	// A practitioner without a template cannot be booked.
	if len(raw) == 0 {
		return nil, ErrPractitionerNotFound
	}

	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: decode stored template: %v", ErrInvalidTemplate, err)
	}
	t.PractitionerID = practitionerID
	return &t, nil
}

func (s *PgStore) Put(ctx context.Context, tmpl *Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE practitioners
		SET template = $2,
		    updated_at = now()
		WHERE id = $1
	`, tmpl.PractitionerID, raw)
	if err != nil {
		return fmt.Errorf("store template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPractitionerNotFound
	}
	return nil
}

// CreatePractitioner inserts a practitioner row together with its template.
func (s *PgStore) CreatePractitioner(ctx context.Context, name, specialty string, tmpl *Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO practitioners (id, name, specialty, template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, tmpl.PractitionerID, name, specialty, raw)
	if err != nil {
		return fmt.Errorf("insert practitioner: %w", err)
	}
	return nil
}
