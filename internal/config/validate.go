package config

import (
	"fmt"
	"strings"
)

// ValidationError is one configuration problem, grounded on the
// teacher's config.ValidationError{Field, Message, Severity} shape.
type ValidationError struct {
	Field    string
	Message  string
	Severity string // "error" (default) or "warning"
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of ValidationError.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any entry has Severity "error" (the zero
// value) rather than "warning".
func (e ValidationErrors) HasErrors() bool {
	for _, err := range e {
		if err.Severity != "warning" {
			return true
		}
	}
	return false
}

func errf(field, severity, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Severity: severity}
}

// Validate performs shallow structural checks: required fields present,
// unique names, default_action is a recognized keyword. It does not
// cross-reference ports against each other or check capacity sanity —
// that is DeepValidate's job.
func (c *EngineConfig) Validate() ValidationErrors {
	var errs ValidationErrors

	seenPorts := make(map[string]bool)
	for i, p := range c.Ports {
		field := fmt.Sprintf("port[%d]", i)
		if p.Name == "" {
			errs = append(errs, errf(field+".name", "error", "port name is required"))
		} else if seenPorts[p.Name] {
			errs = append(errs, errf(field+".name", "error", "duplicate port name %q", p.Name))
		}
		seenPorts[p.Name] = true

		seenLayers := make(map[string]bool)
		for j, l := range p.Layers {
			lfield := fmt.Sprintf("%s.layer[%d]", field, j)
			if l.Name == "" {
				errs = append(errs, errf(lfield+".name", "error", "layer name is required"))
			} else if seenLayers[l.Name] {
				errs = append(errs, errf(lfield+".name", "error", "duplicate layer name %q in port %q", l.Name, p.Name))
			}
			seenLayers[l.Name] = true

			errs = append(errs, validateDirection(lfield+".outbound", l.Outbound)...)
			errs = append(errs, validateDirection(lfield+".inbound", l.Inbound)...)
		}
	}

	return errs
}

func validateDirection(field string, d DirectionPolicy) ValidationErrors {
	switch DefaultActionKind(d.Default) {
	case DefaultAllow, DefaultDeny:
		return nil
	case "":
		return ValidationErrors{errf(field+".default_action", "error", "default_action is required")}
	default:
		return ValidationErrors{errf(field+".default_action", "error", "unrecognized default_action %q (must be %q or %q)", d.Default, DefaultAllow, DefaultDeny)}
	}
}

// DeepValidate performs Validate's checks plus capacity/timeout sanity
// that only matters once the config is about to be turned into live
// ports (non-positive capacities, negative TimeWaitTicks).
func (c *EngineConfig) DeepValidate() ValidationErrors {
	errs := c.Validate()

	for i, p := range c.Ports {
		field := fmt.Sprintf("port[%d]", i)
		if p.UFTCapacity <= 0 {
			errs = append(errs, errf(field+".uft_capacity", "error", "uft_capacity must be positive, got %d", p.UFTCapacity))
		}
		if p.TimeWaitTicks < 0 {
			errs = append(errs, errf(field+".timewait_ticks", "error", "timewait_ticks must be non-negative, got %d", p.TimeWaitTicks))
		}
		for j, l := range p.Layers {
			lfield := fmt.Sprintf("%s.layer[%d]", field, j)
			if l.LFTCapacity <= 0 {
				errs = append(errs, errf(lfield+".lft_capacity", "error", "lft_capacity must be positive, got %d", l.LFTCapacity))
			}
		}
	}

	return errs
}
