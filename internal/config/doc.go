// Package config loads process configuration from environment variables
// per the provider, classifier, engine, events, auth, and catalog
// settings enumerated for the orchestrator, with compiled-in defaults
// via NewDefault and a Validate pass before any component starts.
package config
