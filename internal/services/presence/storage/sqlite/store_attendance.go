package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/presence.space/internal/services/presence/storage"
)

// AppendAttendanceEvent inserts one immutable attendance event.
//
// The primary key insert makes the append atomic per event; events are never
// updated after this point.
func (s *Store) AppendAttendanceEvent(ctx context.Context, event storage.AttendanceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if strings.TrimSpace(event.UserID) == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO attendance_events (id, user_id, recorded_at, latitude, longitude)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.UserID, toMillis(event.RecordedAt), event.Latitude, event.Longitude,
	)
	if err != nil {
		return fmt.Errorf("append attendance event: %w", err)
	}
	return nil
}

// ListAttendanceByUser returns a user's attendance events in recorded order.
func (s *Store) ListAttendanceByUser(ctx context.Context, userID string) ([]storage.AttendanceEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, user_id, recorded_at, latitude, longitude
		FROM attendance_events WHERE user_id = ? ORDER BY recorded_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var events []storage.AttendanceEvent
	for rows.Next() {
		var event storage.AttendanceEvent
		var recordedAt int64
		if err := rows.Scan(&event.ID, &event.UserID, &recordedAt, &event.Latitude, &event.Longitude); err != nil {
			return nil, fmt.Errorf("scan attendance event: %w", err)
		}
		event.RecordedAt = fromMillis(recordedAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return events, nil
}

// PutFaceTemplate records one enrolled biometric reference.
func (s *Store) PutFaceTemplate(ctx context.Context, template storage.FaceTemplate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(template.ID) == "" {
		return fmt.Errorf("template id is required")
	}
	if strings.TrimSpace(template.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(template.Reference) == "" {
		return fmt.Errorf("template reference is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO face_templates (id, user_id, reference, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reference = excluded.reference`,
		template.ID, template.UserID, template.Reference, toMillis(template.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put face template: %w", err)
	}
	return nil
}

// ListFaceTemplatesByUser returns a user's biometric references.
func (s *Store) ListFaceTemplatesByUser(ctx context.Context, userID string) ([]storage.FaceTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, user_id, reference, created_at
		FROM face_templates WHERE user_id = ? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list face templates: %w", err)
	}
	defer rows.Close()

	var templates []storage.FaceTemplate
	for rows.Next() {
		var template storage.FaceTemplate
		var createdAt int64
		if err := rows.Scan(&template.ID, &template.UserID, &template.Reference, &createdAt); err != nil {
			return nil, fmt.Errorf("scan face template: %w", err)
		}
		template.CreatedAt = fromMillis(createdAt)
		templates = append(templates, template)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list face templates: %w", err)
	}
	return templates, nil
}
