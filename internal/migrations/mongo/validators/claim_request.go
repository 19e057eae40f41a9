package validators

import "go.mongodb.org/mongo-driver/bson"

var ClaimRequestValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"_id",
			"user_id",
			"unit_id",
			"quantity",
			"outcome",
			"submitted_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "string",
			},

			"user_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 64,
			},

			"unit_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"quantity": bson.M{
				"bsonType": "long",
				"minimum":  1,
				"maximum":  10,
			},

			"outcome": bson.M{
				"bsonType": "string",
				"enum": []string{
					"pending",
					"success",
					"fail",
				},
			},

			"claim_id": bson.M{
				"bsonType": "string",
			},

			"failure_code": bson.M{
				"bsonType": "string",
			},

			"submitted_at": bson.M{
				"bsonType": "date",
			},

			"resolved_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
