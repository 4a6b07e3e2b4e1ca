package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Settings are flat key-value strings owned by the operator UI. Readers
// use the typed accessors and treat a missing key as "component disabled",
// never as a default.

// SetSetting writes one setting.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// GetSetting reads one setting; ok is false when the key is absent.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return v, true, nil
}

// GetSettingFloat reads one setting as a float64.
func (s *Store) GetSettingFloat(key string) (float64, bool, error) {
	v, ok, err := s.GetSetting(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	f, perr := strconv.ParseFloat(v, 64)
	if perr != nil {
		return 0, false, fmt.Errorf("setting %s: %w", key, perr)
	}
	return f, true, nil
}

// GetSettingInt reads one setting as an int.
func (s *Store) GetSettingInt(key string) (int, bool, error) {
	v, ok, err := s.GetSetting(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	i, perr := strconv.Atoi(v)
	if perr != nil {
		return 0, false, fmt.Errorf("setting %s: %w", key, perr)
	}
	return i, true, nil
}

// GetSettingBool reads one setting as a bool ("true"/"false"/"1"/"0").
func (s *Store) GetSettingBool(key string) (bool, bool, error) {
	v, ok, err := s.GetSetting(key)
	if err != nil || !ok {
		return false, ok, err
	}
	b, perr := strconv.ParseBool(v)
	if perr != nil {
		return false, false, fmt.Errorf("setting %s: %w", key, perr)
	}
	return b, true, nil
}
