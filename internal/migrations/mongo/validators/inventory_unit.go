package validators

import "go.mongodb.org/mongo-driver/bson"

var InventoryUnitValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"name",
			"total_quantity",
			"remaining_quantity",
			"start_time",
			"end_time",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"name": bson.M{
				"bsonType":  "string",
				"minLength": 2,
				"maxLength": 100,
			},

			"total_quantity": bson.M{
				"bsonType": "long",
				"minimum":  1,
			},

			"remaining_quantity": bson.M{
				"bsonType": "long",
				"minimum":  0,
			},

			"start_time": bson.M{
				"bsonType": "date",
			},

			"end_time": bson.M{
				"bsonType": "date",
			},

			"created_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
