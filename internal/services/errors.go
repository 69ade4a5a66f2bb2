package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers used to tag service failures. The engine maps markers onto
// its step-result taxonomy: transient and timeout failures are retried,
// validation and not-found failures skip the current item, cost-limit and
// store failures abort the batch, configuration failures are fatal before any
// item is touched.
var (
	ErrTransient        = errors.New("transient failure")
	ErrTimeout          = errors.New("timeout")
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrExternalTool     = errors.New("external tool error")
	ErrCostLimit        = errors.New("cost limit exceeded")
	ErrStoreUnavailable = errors.New("state store unavailable")
	ErrConfiguration    = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether an error should stop a run before any item is
// processed rather than being handled per item.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrStoreUnavailable)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
