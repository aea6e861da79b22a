package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StringArray stores a string slice as a JSON text column, which works
// across PostgreSQL, MySQL, and SQLite.
type StringArray []string

// Scan implements the sql.Scanner interface for reading from the database.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return errors.New("StringArray: unsupported scan type")
	}
}

// Value implements the driver.Valuer interface for writing to the database.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType returns the GORM data type hint.
func (StringArray) GormDataType() string {
	return "text"
}
