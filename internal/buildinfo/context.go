// Package buildinfo carries build-time metadata separate from user configuration
package buildinfo

// UnknownValue is reported for metadata that was not injected at build time
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable
type Context struct {
	Version   string // Git version tag
	BuildDate string
	SystemID  string // anonymous installation id used to group telemetry
}

// NewContext creates a build context
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{Version: version, BuildDate: buildDate, SystemID: systemID}
}

// GetVersion returns the version or UnknownValue
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// GetSystemID returns the system id or UnknownValue
func (c *Context) GetSystemID() string {
	if c == nil || c.SystemID == "" {
		return UnknownValue
	}
	return c.SystemID
}
