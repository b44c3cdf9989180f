package repository

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"
)

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// marshalJSON/unmarshalJSON back the TEXT columns that hold structured
// values (recipient lists, payloads, outcomes). Stored as plain JSON so
// the same entities work on postgres and the sqlite test database.
func marshalJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalJSON(data string, v interface{}) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), v)
}
