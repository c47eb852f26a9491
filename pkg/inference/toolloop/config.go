package toolloop

// LoopConfig bounds the inference/tool round trips of a single exchange.
type LoopConfig struct {
	MaxIterations int `yaml:"max-iterations"`
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{MaxIterations: 5}
}
