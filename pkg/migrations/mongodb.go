package migrations

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mqdiag/internal/constants"
)

const namespaceExistsCode = 48

// filterRuleSchema mirrors the CHECK constraint on the postgres table.
var filterRuleSchema = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": bson.A{"_id", "action", "enabled", "priority"},
		"properties": bson.M{
			"action": bson.M{
				"enum": bson.A{constants.FilterActionExclude, constants.FilterActionMask, constants.FilterActionInclude},
			},
			"fields":   bson.M{"bsonType": bson.A{"array", "null"}, "items": bson.M{"bsonType": "string"}},
			"priority": bson.M{"bsonType": bson.A{"int", "long"}},
			"enabled":  bson.M{"bsonType": "bool"},
		},
	},
}

// EnsureMongoIndexes creates the filter_rules collection with its validator,
// or updates the validator when the collection already exists, then creates
// the indexes rule loading relies on. Safe to run repeatedly.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	if err := ensureValidator(ctx, db); err != nil {
		return err
	}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "enabled", Value: 1}, {Key: "priority", Value: -1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_filter_rules_active_order"),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("idx_filter_rules_updated_at"),
		},
	}

	// CreateMany is a no-op for indexes that already exist with identical keys and options.
	if _, err := db.Collection(constants.FilterRulesCollection).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create filter rule indexes: %w", err)
	}
	return nil
}

func ensureValidator(ctx context.Context, db *mongo.Database) error {
	err := db.CreateCollection(ctx, constants.FilterRulesCollection,
		options.CreateCollection().SetValidator(filterRuleSchema))
	if err == nil {
		return nil
	}

	var cmdErr mongo.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Code != namespaceExistsCode {
		return fmt.Errorf("failed to create %s: %w", constants.FilterRulesCollection, err)
	}

	res := db.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: constants.FilterRulesCollection},
		{Key: "validator", Value: filterRuleSchema},
	})
	if err := res.Err(); err != nil {
		return fmt.Errorf("failed to update %s validator: %w", constants.FilterRulesCollection, err)
	}
	return nil
}
