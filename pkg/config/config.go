// Package config manages named mirror profiles for both sides of a
// deployment: dev profiles describe how a workstation reaches an exec host,
// exec profiles describe where mirrored files land on that host.
//
// Profiles for each side live together in a single YAML file keyed by
// profile name:
//
//	profiles:
//	  mybox:
//	    remote_host: mybox.example.com
//	    ...
//
// Files are read with viper and decoded per profile with mapstructure, so
// unknown keys are tolerated and partial profiles pick up defaults before
// validation. Saved files are written with 0600 permissions because dev
// profiles carry SSH passwords.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marmos91/remotedev/pkg/mapper"
)

// DefaultRemotePort is the SSH port assumed when a dev profile omits one.
const DefaultRemotePort = 22

// DevProfile is one workstation-side connection profile: which host to
// tunnel to, the SSH credentials, and the local directory to mirror.
type DevProfile struct {
	// RemoteHost is the exec host reachable over SSH.
	RemoteHost string `json:"remote_host" mapstructure:"remote_host" validate:"required" yaml:"remote_host"`

	// RemotePort is the SSH port on RemoteHost. Defaults to 22.
	RemotePort int `json:"remote_port" mapstructure:"remote_port" validate:"min=1,max=65535" yaml:"remote_port"`

	// SSHUsername and SSHPassword authenticate the tunnel. Passwords are
	// stored escaped on disk; the store unescapes on load.
	SSHUsername string `json:"ssh_username" mapstructure:"ssh_username" validate:"required" yaml:"ssh_username"`
	SSHPassword string `json:"ssh_password" mapstructure:"ssh_password" validate:"required" yaml:"ssh_password"`

	// LocalDir is the absolute directory mirrored to the exec host.
	LocalDir string `json:"local_dir" mapstructure:"local_dir" validate:"required,abspath" yaml:"local_dir"`

	// MetricsAddr, when set, exposes Prometheus metrics on that address
	// (for example "127.0.0.1:9600") while the profile runs.
	MetricsAddr string `json:"metrics_addr,omitempty" mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
}

// ApplyDefaults fills zero values that have a documented default.
func (p *DevProfile) ApplyDefaults() {
	if p.RemotePort == 0 {
		p.RemotePort = DefaultRemotePort
	}
}

// String renders the profile the way selection prompts display it. The
// password never appears.
func (p *DevProfile) String() string {
	return fmt.Sprintf("%s@%s:%d - %s", p.SSHUsername, p.RemoteHost, p.RemotePort, p.LocalDir)
}

// ExecProfile is one execution-host-side profile: the wire-to-destination
// mapping table plus the log shipping configuration.
type ExecProfile struct {
	// LogFilePath, when set, is an absolute path to an existing log file
	// whose appended lines are shipped to the connected dev client instead
	// of this process's own records.
	LogFilePath string `json:"log_file_path,omitempty" mapstructure:"log_file_path" validate:"omitempty,abspath" yaml:"log_file_path,omitempty"`

	// RemoteLogging toggles log shipping entirely. Defaults to true; nil
	// means unset.
	RemoteLogging *bool `json:"remote_logging,omitempty" mapstructure:"remote_logging" yaml:"remote_logging,omitempty"`

	// Mappings routes wire-relative paths to destinations on this host,
	// keyed by the wire prefix ("*" is the catch-all).
	Mappings map[string]MappingSpec `json:"mappings" mapstructure:"mappings" validate:"required,min=1,dive" yaml:"mappings"`

	// MetricsAddr, when set, exposes Prometheus metrics on that address
	// while the profile runs.
	MetricsAddr string `json:"metrics_addr,omitempty" mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
}

// MappingSpec is the on-disk form of one mapping entry.
type MappingSpec struct {
	// Dest is the absolute directory requests under this prefix land in.
	Dest string `json:"dest" mapstructure:"dest" validate:"required,abspath" yaml:"dest"`

	// Link, when set, is an absolute symlink refreshed to point at the
	// parent of each path written under Dest.
	Link string `json:"link,omitempty" mapstructure:"link" validate:"omitempty,abspath" yaml:"link,omitempty"`
}

// ApplyDefaults fills zero values that have a documented default.
func (p *ExecProfile) ApplyDefaults() {
	if p.RemoteLogging == nil {
		enabled := true
		p.RemoteLogging = &enabled
	}
}

// IsRemoteLoggingEnabled reports whether log shipping is on, treating an
// unset value as enabled.
func (p *ExecProfile) IsRemoteLoggingEnabled() bool {
	return p.RemoteLogging == nil || *p.RemoteLogging
}

// CompiledMappings converts the profile's mapping table into the slice form
// the exec mapper compiles, ordered by source prefix so startup logs and
// errors are deterministic.
func (p *ExecProfile) CompiledMappings() []mapper.Mapping {
	srcs := make([]string, 0, len(p.Mappings))
	for src := range p.Mappings {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)

	mappings := make([]mapper.Mapping, 0, len(srcs))
	for _, src := range srcs {
		spec := p.Mappings[src]
		mappings = append(mappings, mapper.Mapping{
			Src:  src,
			Dest: spec.Dest,
			Link: spec.Link,
		})
	}
	return mappings
}

// escapePassword prepares a password for storage. Percent signs double so
// config interpolation never eats them; unescapePassword reverses it.
func escapePassword(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

func unescapePassword(s string) string {
	return strings.ReplaceAll(s, "%%", "%")
}
