package settings

import (
	"net/http"
	"time"

	"github.com/huandu/go-clone"
	"gopkg.in/yaml.v3"
)

type ClientSettings struct {
	// Timeout bounds the wait for the provider to answer a single attempt.
	// Reading the streamed answer is not bounded.
	Timeout        *time.Duration `yaml:"timeout,omitempty"`
	TimeoutSeconds *int           `yaml:"timeout_second,omitempty"`
	// TotalTimeout bounds the request phase of all attempts, backoff included.
	TotalTimeout *time.Duration `yaml:"total_timeout,omitempty"`
	Organization *string        `yaml:"organization,omitempty"`
	UserAgent    *string        `yaml:"user_agent,omitempty"`
	HTTPClient   *http.Client   `yaml:"-" json:"-"`
}

// UnmarshalYAML reads timeout and total_timeout as seconds.
func (cs *ClientSettings) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Timeout      *int    `yaml:"timeout,omitempty"`
		TotalTimeout *int    `yaml:"total_timeout,omitempty"`
		Organization *string `yaml:"organization,omitempty"`
		UserAgent    *string `yaml:"user_agent,omitempty"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Timeout != nil {
		t := time.Duration(*raw.Timeout) * time.Second
		cs.Timeout = &t
		cs.TimeoutSeconds = raw.Timeout
	}
	if raw.TotalTimeout != nil {
		t := time.Duration(*raw.TotalTimeout) * time.Second
		cs.TotalTimeout = &t
	}
	if raw.Organization != nil {
		cs.Organization = raw.Organization
	}
	if raw.UserAgent != nil {
		cs.UserAgent = raw.UserAgent
	}
	return nil
}

func (cs *ClientSettings) Clone() *ClientSettings {
	// http.Client carries a transport that must not be deep-copied
	httpClient := cs.HTTPClient
	cs.HTTPClient = nil
	ret := clone.Clone(cs).(*ClientSettings)
	cs.HTTPClient = httpClient
	ret.HTTPClient = httpClient
	return ret
}

func NewClientSettings() *ClientSettings {
	defaultTimeout := 60 * time.Second
	defaultTotal := 5 * time.Minute
	return &ClientSettings{
		Timeout: &defaultTimeout,
		TimeoutSeconds: func() *int {
			i := int(defaultTimeout.Seconds())
			return &i
		}(),
		TotalTimeout: &defaultTotal,
	}
}
