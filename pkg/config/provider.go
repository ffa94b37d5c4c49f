package config

// Provider returns a snapshot of the settings. Callers take one snapshot per
// operation, so changes to the underlying source are picked up by the next
// operation.
type Provider interface {
	Settings() (Settings, error)
}

// Static always returns the same settings.
type Static Settings

// Settings implements Provider.
func (s Static) Settings() (Settings, error) {
	return Settings(s), nil
}

// FileProvider reads the settings file on every call.
type FileProvider struct {
	Path string
}

// Settings implements Provider.
func (p FileProvider) Settings() (Settings, error) {
	return ParseSettings(p.Path)
}
