package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrProfileNotFound is returned when a named profile is absent from the
// store.
var ErrProfileNotFound = errors.New("profile not found")

// profilesKey is the root element of every profile file.
const profilesKey = "profiles"

// DevStore reads and writes workstation-side profiles. A missing file reads
// as an empty store; the first save creates it.
//
// Profile names are case-insensitive and normalized to lowercase, matching
// the key handling of the underlying config reader.
type DevStore struct {
	path string
}

// NewDevStore opens the dev profile store at path, or at the default
// location when path is empty.
func NewDevStore(path string) (*DevStore, error) {
	if path == "" {
		def, err := DefaultDevConfigPath()
		if err != nil {
			return nil, err
		}
		path = def
	}
	return &DevStore{path: path}, nil
}

// Path returns the backing file location.
func (s *DevStore) Path() string { return s.path }

// Load reads, defaults, and validates every profile in the store.
func (s *DevStore) Load() (map[string]*DevProfile, error) {
	raw, err := readProfileFile(s.path)
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DevProfile, len(raw))
	for name, doc := range raw {
		p, err := decodeProfile[DevProfile](doc)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		p.SSHPassword = unescapePassword(p.SSHPassword)
		p.ApplyDefaults()
		if err := Validate(p); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		profiles[name] = p
	}
	return profiles, nil
}

// LoadProfile returns one named profile, defaulted and validated.
func (s *DevStore) LoadProfile(name string) (*DevProfile, error) {
	raw, err := readProfileFile(s.path)
	if err != nil {
		return nil, err
	}
	doc, ok := raw[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("dev profile %q: %w", name, ErrProfileNotFound)
	}

	p, err := decodeProfile[DevProfile](doc)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	p.SSHPassword = unescapePassword(p.SSHPassword)
	p.ApplyDefaults()
	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	return p, nil
}

// SaveProfile validates the profile and writes it under name, replacing any
// existing profile with that name. The stored password is escaped.
func (s *DevStore) SaveProfile(name string, p *DevProfile) error {
	if err := validateName(name); err != nil {
		return err
	}

	stored := *p
	stored.ApplyDefaults()
	if err := Validate(&stored); err != nil {
		return err
	}
	stored.SSHPassword = escapePassword(stored.SSHPassword)

	return updateProfileFile(s.path, func(profiles map[string]any) {
		profiles[normalizeName(name)] = &stored
	})
}

// DeleteProfile removes the named profile. Deleting an absent profile is an
// error so callers can distinguish typos from success.
func (s *DevStore) DeleteProfile(name string) error {
	return deleteProfile(s.path, name)
}

// Names returns the stored profile names in sorted order.
func (s *DevStore) Names() ([]string, error) {
	return profileNames(s.path)
}

// ExecStore reads and writes execution-host-side profiles with the same
// file discipline as DevStore.
type ExecStore struct {
	path string
}

// NewExecStore opens the exec profile store at path, or at the default
// location when path is empty.
func NewExecStore(path string) (*ExecStore, error) {
	if path == "" {
		def, err := DefaultExecConfigPath()
		if err != nil {
			return nil, err
		}
		path = def
	}
	return &ExecStore{path: path}, nil
}

// Path returns the backing file location.
func (s *ExecStore) Path() string { return s.path }

// Load reads, defaults, and validates every profile in the store.
func (s *ExecStore) Load() (map[string]*ExecProfile, error) {
	raw, err := readProfileFile(s.path)
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*ExecProfile, len(raw))
	for name, doc := range raw {
		p, err := decodeProfile[ExecProfile](doc)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		p.ApplyDefaults()
		if err := Validate(p); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		profiles[name] = p
	}
	return profiles, nil
}

// LoadProfile returns one named profile, defaulted and validated.
func (s *ExecStore) LoadProfile(name string) (*ExecProfile, error) {
	raw, err := readProfileFile(s.path)
	if err != nil {
		return nil, err
	}
	doc, ok := raw[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("exec profile %q: %w", name, ErrProfileNotFound)
	}

	p, err := decodeProfile[ExecProfile](doc)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	p.ApplyDefaults()
	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	return p, nil
}

// SaveProfile validates the profile and writes it under name, replacing any
// existing profile with that name.
func (s *ExecStore) SaveProfile(name string, p *ExecProfile) error {
	if err := validateName(name); err != nil {
		return err
	}

	stored := *p
	stored.ApplyDefaults()
	if err := Validate(&stored); err != nil {
		return err
	}

	return updateProfileFile(s.path, func(profiles map[string]any) {
		profiles[normalizeName(name)] = &stored
	})
}

// DeleteProfile removes the named profile. Deleting an absent profile is an
// error so callers can distinguish typos from success.
func (s *ExecStore) DeleteProfile(name string) error {
	return deleteProfile(s.path, name)
}

// Names returns the stored profile names in sorted order.
func (s *ExecStore) Names() ([]string, error) {
	return profileNames(s.path)
}

// normalizeName maps a profile name to its stored form. The config reader
// treats keys case-insensitively, so names are folded once here instead of
// surprising users at lookup time.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func validateName(name string) error {
	if normalizeName(name) == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	return nil
}

// readProfileFile returns the raw profile documents keyed by normalized
// name. A missing file is an empty store, not an error.
func readProfileFile(path string) (map[string]map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read profile file %s: %w", path, err)
	}

	raw := make(map[string]map[string]any)
	for name, doc := range v.GetStringMap(profilesKey) {
		m, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("profile file %s: profile %q is not a mapping", path, name)
		}
		raw[name] = m
	}
	return raw, nil
}

// decodeProfile maps one raw profile document onto a typed profile. Unknown
// keys are tolerated so hand-edited files with extra entries still load.
func decodeProfile[P any](doc map[string]any) (*P, error) {
	var p P
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

// updateProfileFile applies mutate to the raw profile table and writes the
// file back atomically enough for a config file: marshal first, then a
// single 0600 write. Parent directories are created on first save.
func updateProfileFile(path string, mutate func(profiles map[string]any)) error {
	raw, err := readProfileFile(path)
	if err != nil {
		return err
	}

	profiles := make(map[string]any, len(raw)+1)
	for name, doc := range raw {
		profiles[name] = doc
	}
	mutate(profiles)

	data, err := yaml.Marshal(map[string]any{profilesKey: profiles})
	if err != nil {
		return fmt.Errorf("marshal profile file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	// Profiles can carry credentials, so the file is owner-only.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write profile file: %w", err)
	}
	return nil
}

func deleteProfile(path, name string) error {
	raw, err := readProfileFile(path)
	if err != nil {
		return err
	}
	key := normalizeName(name)
	if _, ok := raw[key]; !ok {
		return fmt.Errorf("profile %q: %w", name, ErrProfileNotFound)
	}

	return updateProfileFile(path, func(profiles map[string]any) {
		delete(profiles, key)
	})
}

func profileNames(path string) ([]string, error) {
	raw, err := readProfileFile(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
