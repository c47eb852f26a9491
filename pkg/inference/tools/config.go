package tools

import "time"

// ToolConfig specifies how tools are offered to the model and executed.
type ToolConfig struct {
	Enabled           bool              `json:"enabled" yaml:"enabled"`
	ToolChoice        ToolChoice        `json:"tool_choice" yaml:"tool_choice"`
	MaxIterations     int               `json:"max_iterations" yaml:"max_iterations"`
	ExecutionTimeout  time.Duration     `json:"execution_timeout" yaml:"execution_timeout"`
	MaxParallelTools  int               `json:"max_parallel_tools" yaml:"max_parallel_tools"`
	AllowedTools      []string          `json:"allowed_tools" yaml:"allowed_tools"`
	ToolErrorHandling ToolErrorHandling `json:"tool_error_handling" yaml:"tool_error_handling"`
	RetryConfig       RetryConfig       `json:"retry_config" yaml:"retry_config"`
}

func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		Enabled:           true,
		ToolChoice:        ToolChoiceAuto,
		MaxIterations:     5,
		ExecutionTimeout:  30 * time.Second,
		MaxParallelTools:  1,
		ToolErrorHandling: ToolErrorContinue,
		RetryConfig: RetryConfig{
			MaxRetries:    2,
			BackoffBase:   time.Second,
			BackoffFactor: 2.0,
		},
	}
}

func (tc ToolConfig) WithEnabled(enabled bool) ToolConfig {
	tc.Enabled = enabled
	return tc
}

func (tc ToolConfig) WithMaxIterations(maxIterations int) ToolConfig {
	tc.MaxIterations = maxIterations
	return tc
}

func (tc ToolConfig) WithExecutionTimeout(timeout time.Duration) ToolConfig {
	tc.ExecutionTimeout = timeout
	return tc
}

func (tc ToolConfig) WithMaxParallelTools(maxParallel int) ToolConfig {
	tc.MaxParallelTools = maxParallel
	return tc
}

func (tc ToolConfig) WithAllowedTools(toolNames []string) ToolConfig {
	tc.AllowedTools = toolNames
	return tc
}

func (tc ToolConfig) WithToolErrorHandling(handling ToolErrorHandling) ToolConfig {
	tc.ToolErrorHandling = handling
	return tc
}

type RetryConfig struct {
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	BackoffBase   time.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
}

// Backoff returns the delay before the given retry attempt (1-based).
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	d := float64(rc.BackoffBase)
	for i := 1; i < attempt; i++ {
		d *= rc.BackoffFactor
	}
	return time.Duration(d)
}

type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

type ToolErrorHandling string

const (
	ToolErrorContinue ToolErrorHandling = "continue" // feed the error back to the model
	ToolErrorAbort    ToolErrorHandling = "abort"    // stop the exchange
	ToolErrorRetry    ToolErrorHandling = "retry"    // retry with exponential backoff
)

func (tc *ToolConfig) IsToolAllowed(toolName string) bool {
	if tc.AllowedTools == nil {
		return true
	}

	for _, allowed := range tc.AllowedTools {
		if allowed == toolName {
			return true
		}
	}

	return false
}

// FilterTools returns only the tools that are allowed by this configuration
func (tc *ToolConfig) FilterTools(tools []ToolDefinition) []ToolDefinition {
	if !tc.Enabled {
		return nil
	}
	if tc.AllowedTools == nil {
		return tools
	}

	filtered := make([]ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		if tc.IsToolAllowed(tool.Name) {
			filtered = append(filtered, tool)
		}
	}

	return filtered
}
