package campaign

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository reads campaign applications
type Repository interface {
	GetApplication(ctx context.Context, id uuid.UUID) (*Application, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates campaign repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetApplication(ctx context.Context, id uuid.UUID) (*Application, error) {
	query := `
		SELECT a.id, a.campaign_id, a.influencer_id, c.user_id AS brand_id, a.status
		FROM campaign_applications a
		JOIN campaigns c ON c.id = a.campaign_id
		WHERE a.id = $1
	`
	var app Application
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	return &app, nil
}
