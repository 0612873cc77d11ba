package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks that data is JSON of the schema registered for subject.
// Subjects without a schema only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectSessionsRefresh:
		var p SessionsRefreshPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.TenantID <= 0 {
			return fmt.Errorf("schema validation failed for %s: tenant_id must be positive", subject)
		}
	case strings.HasPrefix(subject, SubjectTenantEvents+"."):
		var p TenantEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if err := p.check(strings.TrimPrefix(subject, SubjectTenantEvents+".")); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}

func (p *TenantEventPayload) check(subjectType string) error {
	switch {
	case p.ID == "":
		return errors.New("missing event id")
	case p.TenantID <= 0:
		return errors.New("tenant_id must be positive")
	case p.Type != subjectType:
		return fmt.Errorf("type %q does not match subject", p.Type)
	}
	return nil
}
