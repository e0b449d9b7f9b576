package plugin

// Metadata identifies a plugin. It is reported by the plugin itself and is
// immutable for the lifetime of the instance.
type Metadata struct {
	// Name is the unique identifier for the plugin within a manager.
	Name string `json:"name" yaml:"name"`

	// Version is the semantic version of the plugin implementation.
	Version string `json:"version" yaml:"version"`

	// Description provides a human-readable explanation of the plugin's purpose.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Author identifies who maintains the plugin.
	Author string `json:"author,omitempty" yaml:"author,omitempty"`

	// Homepage is an optional project URL.
	Homepage string `json:"homepage,omitempty" yaml:"homepage,omitempty"`

	// Repository is an optional source repository URL.
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`

	// Tags categorize the plugin for listing and search.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// InstallOptions is the per-operation configuration bundle for install and
// uninstall. It is not persisted.
type InstallOptions struct {
	// Force bypasses the already-installed guard, allowing a reinstall of a
	// plugin that is already in the installed state (and, symmetrically, an
	// uninstall attempt from the initialized state).
	Force bool

	// DryRun validates the operation and reports what would happen without
	// invoking the plugin hook or changing any state.
	DryRun bool

	// Verbose emits a structured trace of the orchestration steps taken.
	// It changes observability only, never behavior.
	Verbose bool
}

// VersionInfo describes one installable version of a plugin.
type VersionInfo struct {
	// Version is the version string (e.g., "1.2.3").
	Version string `json:"version"`

	// Platform is the target platform this artifact is built for.
	Platform string `json:"platform,omitempty"`

	// DownloadURL is where the artifact can be fetched from.
	DownloadURL string `json:"download_url,omitempty"`

	// Prerelease marks versions not yet considered stable.
	Prerelease bool `json:"prerelease,omitempty"`
}

// Descriptor describes a plugin's metadata without requiring access to the
// implementation.
type Descriptor struct {
	// Name is the unique identifier for the plugin.
	Name string `json:"name"`

	// Version is the semantic version of the plugin.
	Version string `json:"version"`

	// Description provides a human-readable explanation of the plugin's purpose.
	Description string `json:"description,omitempty"`

	// Author identifies who maintains the plugin.
	Author string `json:"author,omitempty"`
}

// ToDescriptor converts a Plugin to its Descriptor.
func ToDescriptor(p Plugin) Descriptor {
	md := p.Metadata()
	return Descriptor{
		Name:        md.Name,
		Version:     md.Version,
		Description: md.Description,
		Author:      md.Author,
	}
}
