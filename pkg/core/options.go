package core

import "github.com/synaptek/memoria/pkg/memory"

// WriteOption configures a short-term write.
//
// Options are applied using the functional options pattern, so callers only
// set what they need.
type WriteOption func(*WriteOptions)

// WriteOptions contains the optional fields of a short-term write.
type WriteOptions struct {
	// Importance ranks the observation. Defaults to medium.
	Importance memory.Importance

	// Confidence is the producer's confidence in the observation (0-1).
	// Defaults to 1.
	Confidence float64

	// Context references the domain entities the observation concerns.
	Context memory.ContextRefs

	// Payload carries optional structured data alongside the content.
	Payload map[string]interface{}

	// Source tags where the observation came from.
	Source string
}

func applyWriteOptions(opts []WriteOption) *WriteOptions {
	options := &WriteOptions{
		Importance: memory.ImportanceMedium,
		Confidence: 1,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithImportance sets the importance tier, which drives the entry's expiry
// and consolidation flag.
//
// Example:
//
//	client.WriteShortTermMemory(ctx, owner, session, memory.TypeFeedback,
//	    "prefers summaries", core.WithImportance(memory.ImportanceHigh))
func WithImportance(importance memory.Importance) WriteOption {
	return func(opts *WriteOptions) {
		opts.Importance = importance
	}
}

// WithConfidence sets the producer's confidence in the observation.
func WithConfidence(confidence float64) WriteOption {
	return func(opts *WriteOptions) {
		opts.Confidence = confidence
	}
}

// WithContext attaches domain-entity references to the observation.
func WithContext(refs memory.ContextRefs) WriteOption {
	return func(opts *WriteOptions) {
		opts.Context = refs
	}
}

// WithPayload attaches structured data to the observation.
func WithPayload(payload map[string]interface{}) WriteOption {
	return func(opts *WriteOptions) {
		opts.Payload = payload
	}
}

// WithSource tags where the observation came from.
func WithSource(source string) WriteOption {
	return func(opts *WriteOptions) {
		opts.Source = source
	}
}
