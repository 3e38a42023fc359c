package observability

// Version is the service version reported by health checks.
// Overridden at build time via -ldflags "-X .../pkg/observability.Version=...".
var Version = "dev"
