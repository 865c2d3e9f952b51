package consent

import (
	"encoding/json"
	"fmt"
)

// Preferences is a visitor's cookie choice. Strictly necessary storage is
// always permitted and cannot be switched off, so it has no field.
type Preferences struct {
	Analytics bool
	Marketing bool
}

// AllGranted permits every category.
var AllGranted = Preferences{Analytics: true, Marketing: true}

// AllDenied permits only strictly necessary storage.
var AllDenied = Preferences{}

// Necessary always reports true.
func (Preferences) Necessary() bool { return true }

type preferencesJSON struct {
	Necessary bool `json:"necessary"`
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}

// MarshalJSON always writes "necessary": true.
func (p Preferences) MarshalJSON() ([]byte, error) {
	return json.Marshal(preferencesJSON{Necessary: true, Analytics: p.Analytics, Marketing: p.Marketing})
}

// UnmarshalJSON ignores any stored necessary value.
func (p *Preferences) UnmarshalJSON(data []byte) error {
	var raw preferencesJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode preferences: %w", err)
	}
	p.Analytics = raw.Analytics
	p.Marketing = raw.Marketing
	return nil
}
