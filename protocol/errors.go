package protocol

import "fmt"

// ConfigurationError reports invalid run configuration. It is fatal: a run
// started with a bad configuration corrupts every future aggregation, so the
// caller must abort rather than retry.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("protocol: invalid run configuration: %s", e.Reason)
}

// InputShapeError reports mismatched or empty predictor/response matrices in
// one site's input. Only that site's round fails; the orchestrator
// resubmits.
type InputShapeError struct {
	Reason string
}

func (e *InputShapeError) Error() string {
	return "protocol: bad input shape: " + e.Reason
}

// MalformedInputError reports a site result missing a required field. The
// contribution is dropped and the round stays pending until the site
// resubmits.
type MalformedInputError struct {
	Field string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("protocol: site result missing required field %q", e.Field)
}
