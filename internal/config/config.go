package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"liblend/internal/models"
)

// StaffRef identifies one staff member responsible for a site. Both STAFF
// and LEAD roles receive site-targeted notifications.
type StaffRef struct {
	UserID uuid.UUID
	Role   models.UserRole
}

// Sites is the injected site configuration: the single-character label code
// per site and the staff responsible for each site. It is passed to the
// label allocator and the notification dispatcher at construction time
// rather than living as a hidden global.
type Sites struct {
	// Codes maps a site name to its single-character label code.
	Codes map[string]string

	// Staff maps a site name to the staff members assigned to it.
	Staff map[string][]StaffRef
}

// CodeFor returns the label code for a site, or an error for unknown sites.
func (s Sites) CodeFor(site string) (string, error) {
	code, ok := s.Codes[site]
	if !ok {
		return "", fmt.Errorf("unknown site %q", site)
	}
	return code, nil
}

// SiteForCode resolves a label code back to its site name.
func (s Sites) SiteForCode(code string) (string, bool) {
	for site, c := range s.Codes {
		if c == code {
			return site, true
		}
	}
	return "", false
}

// StaffFor returns the staff assigned to a site.
func (s Sites) StaffFor(site string) []StaffRef {
	return s.Staff[site]
}

// SMTP holds the e-mail side channel settings. A zero Host disables
// outgoing mail entirely.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Config is the process-level configuration read from the environment.
type Config struct {
	DatabaseURL string
	ServerAddr  string
	SMTP        SMTP
}

// FromEnv reads the process configuration. DATABASE_URL is mandatory;
// everything else has a default or is optional.
func FromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ServerAddr:  os.Getenv("SERVER_ADDR"),
		SMTP: SMTP{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     587,
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = ":8080"
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if _, err := fmt.Sscanf(strings.TrimSpace(port), "%d", &cfg.SMTP.Port); err != nil {
			return Config{}, fmt.Errorf("invalid SMTP_PORT %q: %w", port, err)
		}
	}
	return cfg, nil
}
