package central

// RegisteredCount exposes the registry size to external tests.
var RegisteredCount = registeredCount
