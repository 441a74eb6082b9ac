package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	profileChecks *validator.Validate
)

// Validate checks a profile against its struct tags. Beyond the built-in
// tags, "abspath" requires a platform-absolute path, since relative mirror
// roots and destinations depend on the working directory and silently land
// in the wrong place.
func Validate(profile any) error {
	validatorOnce.Do(func() {
		profileChecks = validator.New()
		_ = profileChecks.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
			return filepath.IsAbs(fl.Field().String())
		})
	})

	if err := profileChecks.Struct(profile); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	return nil
}
