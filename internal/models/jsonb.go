package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

//
// JSON text column helpers
//
// Settings columns are stored as JSON text so the same schema works on
// Postgres and SQLite. Both types accept []byte and string from the driver.
//

// JSONObject is a JSON object column.
type JSONObject map[string]any

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONObject) Scan(value any) error {
	b, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("JSONObject: %w", err)
	}
	if len(b) == 0 {
		*j = JSONObject{}
		return nil
	}
	return json.Unmarshal(b, j)
}

// JSONList is a JSON array column.
type JSONList []any

func (j JSONList) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONList) Scan(value any) error {
	b, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("JSONList: %w", err)
	}
	if len(b) == 0 {
		*j = JSONList{}
		return nil
	}
	return json.Unmarshal(b, j)
}

func jsonBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("expected []byte or string, got %T", value)
	}
}
