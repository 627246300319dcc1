package sqlstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// InstanceStore implements store.InstanceStore.
type InstanceStore struct{ *conn }

const instanceSelectCols = `id, name, webhook_url, created_at`

func (s *InstanceStore) Create(ctx context.Context, inst *store.Instance) error {
	if inst.ID == uuid.Nil {
		inst.ID = store.GenNewID()
	}
	inst.CreatedAt = time.Now()
	_, err := s.exec(ctx,
		`INSERT INTO instances (id, name, webhook_url, created_at) VALUES ($1, $2, $3, $4)`,
		inst.ID, inst.Name, inst.WebhookURL, dbTime(inst.CreatedAt),
	)
	return err
}

func (s *InstanceStore) Get(ctx context.Context, id uuid.UUID) (*store.Instance, error) {
	return scanInstance(s.queryRow(ctx, `SELECT `+instanceSelectCols+` FROM instances WHERE id = $1`, id))
}

func (s *InstanceStore) GetByName(ctx context.Context, name string) (*store.Instance, error) {
	return scanInstance(s.queryRow(ctx, `SELECT `+instanceSelectCols+` FROM instances WHERE name = $1`, name))
}

func (s *InstanceStore) List(ctx context.Context) ([]store.Instance, error) {
	rows, err := s.query(ctx, `SELECT `+instanceSelectCols+` FROM instances ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inst)
	}
	return result, rows.Err()
}

func scanInstance(row rowScanner) (*store.Instance, error) {
	var inst store.Instance
	if err := row.Scan(&inst.ID, &inst.Name, &inst.WebhookURL, scanTime(&inst.CreatedAt)); err != nil {
		return nil, notFound(err)
	}
	return &inst, nil
}
