package chatapi

import (
	"net/http"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/rs/zerolog"
)

const SectionSlug = "api"

type Settings struct {
	BaseURL        string `glazed:"base-url"`
	TimeoutSeconds int    `glazed:"timeout-seconds"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Conversation backend",
		schema.WithFields(
			fields.New("base-url", fields.TypeString,
				fields.WithDefault("http://localhost:8001"),
				fields.WithHelp("Backend base URL; /api is appended")),
			fields.New("timeout-seconds", fields.TypeInteger,
				fields.WithDefault(30),
				fields.WithHelp("HTTP request timeout")),
		),
	)
}

// NewClientFromSettings builds a Client from decoded section values.
func NewClientFromSettings(s Settings, logger zerolog.Logger) (*Client, error) {
	opts := []ClientOption{WithLogger(logger)}
	if s.TimeoutSeconds > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: time.Duration(s.TimeoutSeconds) * time.Second}))
	}
	return NewClient(s.BaseURL, opts...)
}
