package settings

import (
	"time"

	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

// RetrySettings controls retrying of rate limited provider requests.
type RetrySettings struct {
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

func NewRetrySettings() *RetrySettings {
	return &RetrySettings{
		MaxRetries:  3,
		BackoffBase: time.Second,
	}
}

// Backoff is the wait before retry number attempt (1-based).
func (rs *RetrySettings) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return rs.BackoffBase * time.Duration(1<<uint(attempt-1))
}

// UnmarshalYAML accepts backoff_base as a duration string such as "500ms".
func (rs *RetrySettings) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRetries  *int   `yaml:"max_retries,omitempty"`
		BackoffBase string `yaml:"backoff_base,omitempty"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxRetries != nil {
		rs.MaxRetries = *raw.MaxRetries
	}
	if raw.BackoffBase != "" {
		d, err := time.ParseDuration(raw.BackoffBase)
		if err != nil {
			return err
		}
		rs.BackoffBase = d
	}
	return nil
}

func (rs *RetrySettings) Clone() *RetrySettings {
	return clone.Clone(rs).(*RetrySettings)
}
