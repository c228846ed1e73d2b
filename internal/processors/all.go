package processors

import "fourcat/internal/registry"

// All returns the built-in processors in registration order.
func All() []registry.Processor {
	return []registry.Processor{
		ImportItems{},
		CountTokens{},
		BundleCSV{},
		SummariseArchive{},
	}
}
