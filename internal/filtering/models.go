package filtering

import (
	"time"

	"mqdiag/internal/config"
)

type Rule struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Condition string    `json:"condition" bson:"condition"` // CEL bool expression over event; empty matches every event
	Action    string    `json:"action" bson:"action"`
	Fields    []string  `json:"fields" bson:"fields"`
	Priority  int       `json:"priority" bson:"priority"`
	Enabled   bool      `json:"enabled" bson:"enabled"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func RuleFromConfig(rc config.RuleConfig) Rule {
	return Rule{
		ID:        rc.ID,
		Name:      rc.Name,
		Condition: rc.Condition,
		Action:    rc.Action,
		Fields:    append([]string(nil), rc.Fields...),
		Priority:  rc.Priority,
		Enabled:   rc.Enabled,
	}
}
