package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks the configuration using struct tags plus the custom rules
// that tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules covers cross-field constraints.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Leaves) == 0 {
		return fmt.Errorf("leaves: at least one leaf must be configured")
	}

	// Two reflector leaves sharing a root would stripe a file's chunks
	// onto the same backing directory under the same name.
	roots := make(map[string]bool)
	for i, lc := range cfg.Leaves {
		if lc.Type != "reflector" {
			continue
		}
		root, _ := lc.Reflector["path"].(string)
		if root == "" {
			return fmt.Errorf("leaves[%d]: reflector leaf requires a path", i)
		}
		if roots[root] {
			return fmt.Errorf("leaves[%d]: duplicate reflector root %q", i, root)
		}
		roots[root] = true
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics: listen address is required when metrics are enabled")
	}

	return nil
}

// formatValidationError converts validator errors into readable messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
