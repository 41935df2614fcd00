package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mattone/internal/models"
)

const deviceColumns = `id, device_code, user_id, name, active_channel_id, last_seen_at,
	last_ip, last_country, last_city, created_at, updated_at`

func scanDevice(scanner rowScanner) (models.Device, error) {
	var d models.Device
	var active, lastSeen sql.NullString
	err := scanner.Scan(&d.ID, &d.DeviceCode, &d.UserID, &d.Name, &active, &lastSeen,
		&d.LastIP, &d.LastCountry, &d.LastCity, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	if active.Valid {
		d.ActiveChannelID = &active.String
	}
	if d.LastSeenAt, err = parseNullTime(lastSeen); err != nil {
		return d, fmt.Errorf("parsing last_seen_at: %w", err)
	}
	return d, nil
}

// CreateDevice registers a device code for userID. Registering a code the
// user already owns returns the existing device with created=false; a code
// owned by another user yields models.ErrConflict.
func (s *Store) CreateDevice(userID string, in models.DeviceInput) (*models.Device, bool, error) {
	existing, err := s.GetDeviceByCode(in.DeviceCode)
	switch {
	case err == nil:
		if existing.UserID != userID {
			return nil, false, fmt.Errorf("device %s: %w", in.DeviceCode, models.ErrConflict)
		}
		return existing, false, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, err
	}

	id := newID()
	_, err = s.db.Exec(
		`INSERT INTO devices (id, device_code, user_id, name) VALUES (?, ?, ?, ?)`,
		id, in.DeviceCode, userID, in.Name,
	)
	if isUniqueViolation(err) {
		// lost a registration race; resolve against the winner
		existing, gerr := s.GetDeviceByCode(in.DeviceCode)
		if gerr != nil {
			return nil, false, gerr
		}
		if existing.UserID != userID {
			return nil, false, fmt.Errorf("device %s: %w", in.DeviceCode, models.ErrConflict)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating device: %w", err)
	}

	d, err := s.GetDeviceForUser(id, userID)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// GetDeviceByCode looks a device up by the identifier it presents on the
// device-facing endpoints.
func (s *Store) GetDeviceByCode(deviceCode string) (*models.Device, error) {
	d, err := scanDevice(s.db.QueryRow(
		`SELECT `+deviceColumns+` FROM devices WHERE device_code = ?`, deviceCode,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", deviceCode, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting device: %w", err)
	}
	return &d, nil
}

// GetDeviceForUser returns models.ErrNotFound both for unknown ids and for
// devices owned by another user.
func (s *Store) GetDeviceForUser(id, userID string) (*models.Device, error) {
	d, err := scanDevice(s.db.QueryRow(
		`SELECT `+deviceColumns+` FROM devices WHERE id = ? AND user_id = ?`, id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting device: %w", err)
	}
	return &d, nil
}

func (s *Store) ListDevices(userID string) ([]models.Device, error) {
	rows, err := s.db.Query(
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = ? ORDER BY created_at, id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	devices := []models.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeleteDevice removes the user's device and returns the deleted row so the
// caller can tear down its live session.
func (s *Store) DeleteDevice(id, userID string) (*models.Device, error) {
	d, err := s.GetDeviceForUser(id, userID)
	if err != nil {
		return nil, err
	}
	result, err := s.db.Exec(`DELETE FROM devices WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("deleting device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("device %s: %w", id, models.ErrNotFound)
	}
	return d, nil
}

// SetActiveChannel records the channel the device should be showing; nil
// clears it. The channel, when given, must belong to the same user.
func (s *Store) SetActiveChannel(id, userID string, channelID *string) (*models.Device, error) {
	if channelID != nil {
		if _, err := s.GetChannelForUser(*channelID, userID); err != nil {
			return nil, err
		}
	}
	var active any
	if channelID != nil {
		active = *channelID
	}
	result, err := s.db.Exec(
		`UPDATE devices SET active_channel_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND user_id = ?`,
		active, id, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("setting active channel: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("device %s: %w", id, models.ErrNotFound)
	}
	return s.GetDeviceForUser(id, userID)
}

// TouchDevice stamps the device's last connection time, address and, when
// resolved, location.
func (s *Store) TouchDevice(deviceCode, ip string, geo *models.GeoResult, at time.Time) error {
	var country, city string
	if geo != nil {
		country, city = geo.Country, geo.City
	}
	result, err := s.db.Exec(
		`UPDATE devices SET last_seen_at = ?, last_ip = ?, last_country = ?, last_city = ?
		 WHERE device_code = ?`,
		formatSQLiteTime(at), ip, country, city, deviceCode,
	)
	if err != nil {
		return fmt.Errorf("touching device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("device %s: %w", deviceCode, models.ErrNotFound)
	}
	return nil
}
