package sockproxy

import (
	"fmt"
	"strconv"

	"gopkg.in/ini.v1"
)

// Config holds everything main needs to construct a Daemon (spec §6 CLI
// flags plus the INI file they may load). Fields are populated by walking
// argv left to right; -c merges the named file's values into the same
// struct at the point it appears, so "later flags override earlier" and
// "the file's own values can be overridden by flags after -c" fall out of
// plain sequential assignment rather than needing a separate precedence
// pass.
type Config struct {
	BindAddr       string
	Port           int
	LogFile        string
	ControllerBase string
	Debug          bool
	Direct         []DirectListener
}

// DefaultConfig mirrors the CLI flag defaults in spec §6.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:       defaultBindAddr,
		Port:           defaultPort,
		LogFile:        "-",
		ControllerBase: defaultControllerBase,
	}
}

// ParseArgs walks argv applying each flag in order, loading an INI file
// in place whenever -c is seen (spec §6). It does not use the flag package
// because that package's single-pass parse can't express "a later -c's
// file values must yield to flags written after it" — here that property
// is just argv order.
func ParseArgs(argv []string) (*Config, error) {
	cfg := DefaultConfig()
	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		arg := func() (string, error) {
			i++
			if i >= len(argv) {
				return "", fmt.Errorf("%s: missing argument", tok)
			}
			return argv[i], nil
		}
		switch tok {
		case "-a":
			v, err := arg()
			if err != nil {
				return nil, err
			}
			cfg.BindAddr = v
		case "-p":
			v, err := arg()
			if err != nil {
				return nil, err
			}
			port, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("-p: invalid port %q: %w", v, err)
			}
			cfg.Port = port
		case "-L":
			v, err := arg()
			if err != nil {
				return nil, err
			}
			cfg.LogFile = v
		case "-N", "-V":
			v, err := arg()
			if err != nil {
				return nil, err
			}
			cfg.ControllerBase = v
		case "-D":
			cfg.Debug = true
		case "-c":
			v, err := arg()
			if err != nil {
				return nil, err
			}
			if err := cfg.mergeINIFile(v); err != nil {
				return nil, fmt.Errorf("%w: -c %s: %v", ErrFatalStartup, v, err)
			}
		default:
			return nil, fmt.Errorf("unrecognized flag %q", tok)
		}
	}
	return cfg, nil
}

// mergeINIFile loads the [host] and [direct] sections described in spec
// §6 into cfg. Section and key names are lower-cased by ini.v1's
// Insensitive option; names and values are trimmed of surrounding
// whitespace. Inline comments after a value are not stripped.
func (cfg *Config) mergeINIFile(path string) error {
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true, IgnoreInlineComment: true}, path)
	if err != nil {
		return err
	}

	if sec, err := f.GetSection("host"); err == nil {
		if k, err := sec.GetKey("ip"); err == nil && k.String() != "" {
			cfg.BindAddr = k.String()
		}
		if k, err := sec.GetKey("port"); err == nil && k.String() != "" {
			port, err := k.Int()
			if err != nil {
				return fmt.Errorf("host.port: %w", err)
			}
			cfg.Port = port
		}
		if k, err := sec.GetKey("vera"); err == nil && k.String() != "" {
			cfg.ControllerBase = k.String()
		}
		if k, err := sec.GetKey("log"); err == nil && k.String() != "" {
			cfg.LogFile = k.String()
		}
		if k, err := sec.GetKey("debug"); err == nil {
			if b, err := k.Bool(); err == nil {
				cfg.Debug = b
			}
		}
	}

	if sec, err := f.GetSection("direct"); err == nil {
		for _, key := range sec.Keys() {
			port, err := strconv.Atoi(key.Name())
			if err != nil {
				return fmt.Errorf("direct section: invalid port key %q", key.Name())
			}
			cfg.Direct = append(cfg.Direct, DirectListener{Port: port, ConnLine: key.String()})
		}
	}
	return nil
}
