package validators

import "go.mongodb.org/mongo-driver/bson"

var ClaimValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"user_id",
			"unit_id",
			"quantity",
			"status",
			"created_at",
			"updated_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
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

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"granted",
					"used",
					"canceled",
				},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"updated_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
