package config

import (
	"fmt"
	"strings"
)

// Validate checks configuration integrity. Required settings use
// sentinel errors so callers can errors.Is on the exact failure.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.LLMServerURL) == "" {
		return ErrMissingLLMServer
	}
	if strings.TrimSpace(c.RAGModelName) == "" {
		return ErrMissingRAGModel
	}
	if strings.TrimSpace(c.LLMModelName) == "" {
		return ErrMissingLLMModel
	}
	if strings.TrimSpace(c.CompanyName) == "" {
		return ErrMissingCompanyName
	}

	switch c.MetricType {
	case MetricInnerProduct, MetricCosine:
	default:
		return fmt.Errorf("%w: %q (want %s or %s)",
			ErrInvalidMetricType, c.MetricType, MetricInnerProduct, MetricCosine)
	}

	switch c.IndexType {
	case IndexHNSW, IndexIVFFlat, IndexFlat:
	default:
		return fmt.Errorf("%w: %q (want %s, %s or %s)",
			ErrInvalidIndexType, c.IndexType, IndexHNSW, IndexIVFFlat, IndexFlat)
	}

	switch c.RetrieverPolicy {
	case PolicyTopK, PolicyScoreThreshold, PolicyMMR:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRetrieverPolicy, c.RetrieverPolicy)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	return nil
}
