package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringArray stores a JSON array of strings in a longtext column.
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *StringArray) Scan(v interface{}) error {
	if v == nil {
		*a = nil
		return nil
	}
	switch val := v.(type) {
	case []byte:
		return json.Unmarshal(val, a)
	case string:
		return json.Unmarshal([]byte(val), a)
	default:
		return fmt.Errorf("StringArray scan source was not []byte or string: %T", v)
	}
}

// JSONMap stores a free-form JSON object in a longtext column.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(v interface{}) error {
	if v == nil {
		*m = nil
		return nil
	}
	switch val := v.(type) {
	case []byte:
		return json.Unmarshal(val, m)
	case string:
		return json.Unmarshal([]byte(val), m)
	default:
		return fmt.Errorf("JSONMap scan source was not []byte or string: %T", v)
	}
}
