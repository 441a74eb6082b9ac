package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/remotedev/pkg/mapper"
)

// ============================================================================
// Profile Defaults & Accessors
// ============================================================================

func TestDevProfileApplyDefaults(t *testing.T) {
	p := &DevProfile{RemoteHost: "box", SSHUsername: "u", SSHPassword: "p", LocalDir: "/src"}
	p.ApplyDefaults()
	assert.Equal(t, DefaultRemotePort, p.RemotePort)

	p.RemotePort = 2222
	p.ApplyDefaults()
	assert.Equal(t, 2222, p.RemotePort, "explicit port survives defaulting")
}

func TestDevProfileString(t *testing.T) {
	p := &DevProfile{
		RemoteHost:  "box.example.com",
		RemotePort:  22,
		SSHUsername: "dev",
		SSHPassword: "secret",
		LocalDir:    "/home/dev/project",
	}
	s := p.String()
	assert.Equal(t, "dev@box.example.com:22 - /home/dev/project", s)
	assert.NotContains(t, s, "secret")
}

func TestExecProfileRemoteLoggingDefault(t *testing.T) {
	p := &ExecProfile{}
	assert.True(t, p.IsRemoteLoggingEnabled(), "unset means enabled")

	p.ApplyDefaults()
	require.NotNil(t, p.RemoteLogging)
	assert.True(t, *p.RemoteLogging)

	off := false
	p = &ExecProfile{RemoteLogging: &off}
	p.ApplyDefaults()
	assert.False(t, p.IsRemoteLoggingEnabled(), "explicit false survives defaulting")
}

func TestExecProfileCompiledMappings(t *testing.T) {
	p := &ExecProfile{
		Mappings: map[string]MappingSpec{
			"zeta":             {Dest: "/opt/zeta"},
			"alpha":            {Dest: "/opt/alpha", Link: "/var/www/alpha"},
			mapper.JokerPattern: {Dest: "/tmp/spill"},
		},
	}

	got := p.CompiledMappings()
	require.Len(t, got, 3)

	// Sorted by source so compilation order is stable.
	assert.Equal(t, mapper.Mapping{Src: mapper.JokerPattern, Dest: "/tmp/spill"}, got[0])
	assert.Equal(t, mapper.Mapping{Src: "alpha", Dest: "/opt/alpha", Link: "/var/www/alpha"}, got[1])
	assert.Equal(t, mapper.Mapping{Src: "zeta", Dest: "/opt/zeta"}, got[2])
}

// ============================================================================
// Password Escaping
// ============================================================================

func TestPasswordEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"plain",
		"",
		"100%",
		"%start",
		"mid%dle",
		"%%already%%doubled%%",
		"%",
		"a%b%c%d",
	}
	for _, pw := range cases {
		t.Run(pw, func(t *testing.T) {
			assert.Equal(t, pw, unescapePassword(escapePassword(pw)))
		})
	}
}

func TestPasswordEscapeDoublesPercent(t *testing.T) {
	assert.Equal(t, "100%%", escapePassword("100%"))
	assert.Equal(t, "100%", unescapePassword("100%%"))
}

// ============================================================================
// Validation
// ============================================================================

func TestValidateDevProfile(t *testing.T) {
	valid := func() *DevProfile {
		return &DevProfile{
			RemoteHost:  "box",
			RemotePort:  22,
			SSHUsername: "dev",
			SSHPassword: "pw",
			LocalDir:    "/home/dev/project",
		}
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, Validate(valid()))
	})

	t.Run("MissingHost", func(t *testing.T) {
		p := valid()
		p.RemoteHost = ""
		err := Validate(p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "required")
	})

	t.Run("PortOutOfRange", func(t *testing.T) {
		p := valid()
		p.RemotePort = 70000
		err := Validate(p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max")
	})

	t.Run("RelativeLocalDir", func(t *testing.T) {
		p := valid()
		p.LocalDir = "project"
		err := Validate(p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "abspath")
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		p := valid()
		p.SSHUsername = ""
		assert.Error(t, Validate(p))

		p = valid()
		p.SSHPassword = ""
		assert.Error(t, Validate(p))
	})
}

func TestValidateExecProfile(t *testing.T) {
	valid := func() *ExecProfile {
		return &ExecProfile{
			Mappings: map[string]MappingSpec{
				"project": {Dest: "/opt/project"},
			},
		}
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, Validate(valid()))
	})

	t.Run("NoMappings", func(t *testing.T) {
		p := valid()
		p.Mappings = nil
		assert.Error(t, Validate(p))

		p.Mappings = map[string]MappingSpec{}
		assert.Error(t, Validate(p))
	})

	t.Run("RelativeDest", func(t *testing.T) {
		p := valid()
		p.Mappings["project"] = MappingSpec{Dest: "opt/project"}
		err := Validate(p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "abspath")
	})

	t.Run("RelativeLink", func(t *testing.T) {
		p := valid()
		p.Mappings["project"] = MappingSpec{Dest: "/opt/project", Link: "www/link"}
		assert.Error(t, Validate(p))
	})

	t.Run("RelativeLogFile", func(t *testing.T) {
		p := valid()
		p.LogFilePath = "logs/app.log"
		assert.Error(t, Validate(p))
	})

	t.Run("EmptyOptionalFieldsOK", func(t *testing.T) {
		p := valid()
		p.LogFilePath = ""
		p.MetricsAddr = ""
		assert.NoError(t, Validate(p))
	})
}
