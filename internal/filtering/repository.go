package filtering

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"mqdiag/internal/config"
	"mqdiag/internal/constants"
)

type Repository interface {
	GetActiveRules(ctx context.Context) ([]Rule, error)
}

// StaticRepository serves the rules listed in the config file.
type StaticRepository struct {
	rules []Rule
}

func NewStaticRepository(cfg []config.RuleConfig) *StaticRepository {
	rules := make([]Rule, 0, len(cfg))
	for _, rc := range cfg {
		rules = append(rules, RuleFromConfig(rc))
	}
	return &StaticRepository{rules: rules}
}

func (r *StaticRepository) GetActiveRules(_ context.Context) ([]Rule, error) {
	active := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if rule.Enabled {
			active = append(active, rule)
		}
	}
	return active, nil
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetActiveRules(ctx context.Context) ([]Rule, error) {
	query := fmt.Sprintf(`
		SELECT id, name, condition, action, fields, priority, enabled, created_at, updated_at
		FROM %s
		WHERE enabled = true
		ORDER BY priority DESC, created_at ASC
	`, constants.FilterRulesTable)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.Condition,
			&rule.Action,
			pq.Array(&rule.Fields),
			&rule.Priority,
			&rule.Enabled,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

// CreateRule is used by the migrate command to seed config rules into the table.
func (r *PostgresRepository) CreateRule(ctx context.Context, rule Rule) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, condition, action, fields, priority, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			condition = EXCLUDED.condition,
			action = EXCLUDED.action,
			fields = EXCLUDED.fields,
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`, constants.FilterRulesTable)

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Condition, rule.Action, pq.Array(rule.Fields), rule.Priority, rule.Enabled)
	if err != nil {
		return fmt.Errorf("failed to upsert rule %s: %w", rule.ID, err)
	}
	return nil
}
