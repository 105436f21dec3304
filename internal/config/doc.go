// Package config loads and saves the daemon's on-disk configuration.
//
// # Configuration Loading
//
// Load reads substrat.jsonc first from a global directory (typically
// ~/.config/substrat, see GetPaths), then from the daemon's project
// directory, merging the project file over the global one. Environment
// variables prefixed SUBSTRAT_ take precedence over both.
//
// # Format
//
// Configuration files are JSONC (JSON with comments), stripped with
// tidwall/jsonc before unmarshaling into pkg/types.Config.
//
// # Provider Secrets
//
// Provider API keys are never read from the JSONC file's apiKey field in
// a normal deployment; instead they are loaded from a project-local .env
// file (github.com/joho/godotenv) as <PROVIDER_NAME>_API_KEY, keeping
// secrets out of version-controlled configuration. An apiKey already set
// by the JSONC file is left untouched.
//
// # Path Management
//
// GetPaths returns XDG Base Directory Specification paths for the
// daemon's own data, config, cache, and state directories, independent of
// the --root directory a given daemon instance manages.
package config
