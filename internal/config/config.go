// Package config loads the venue configuration file: the mixer endpoint
// and variant, transport tuning, named venue modes, and guardrail rules.
// A malformed configuration is a startup-fatal error; nothing else in
// the system treats configuration problems as fatal.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zarfld/MixingStation-API-Client-sub001/internal/console"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/guardrail"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/intent"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/logger"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/transport"
	"github.com/zarfld/MixingStation-API-Client-sub001/internal/venue"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "30s".
type Duration time.Duration

// Std converts back to a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MixerConfig identifies the console to connect to.
type MixerConfig struct {
	// Endpoint is the base URL of the mixer API, including protocol and
	// port, e.g. "http://192.168.1.50:8080".
	Endpoint string `yaml:"endpoint"`

	// Variant names the console model ("x32", "xr18", "wing", "ui24r").
	Variant string `yaml:"variant"`

	// Token authenticates the session, if the console requires one.
	Token string `yaml:"token"`

	// InsecureTLS disables TLS certificate verification.
	InsecureTLS bool `yaml:"insecure_tls"`
}

// BackoffConfig tunes the reconnect delay ramp.
type BackoffConfig struct {
	Base   Duration `yaml:"base"`
	Factor float64  `yaml:"factor"`
	Max    Duration `yaml:"max"`
	Jitter float64  `yaml:"jitter"`
}

// TransportConfig tunes the transport session.
type TransportConfig struct {
	ReplyTimeout Duration      `yaml:"reply_timeout"`
	Backoff      BackoffConfig `yaml:"backoff"`
}

// HubConfig tunes the subscription hub.
type HubConfig struct {
	// Debounce is the per-path settle window. Zero selects the default
	// of 150ms.
	Debounce Duration `yaml:"debounce"`
}

// OutputConfig is one output constraint inside a mode.
type OutputConfig struct {
	MaxLevel float64 `yaml:"max_level"`
}

// ConstraintConfig is one safety constraint inside a mode.
type ConstraintConfig struct {
	PhantomAllowed []int `yaml:"phantom_allowed"`
}

// ModeConfig is the declarative desired state for one venue mode.
type ModeConfig struct {
	Groups      map[string]string  `yaml:"groups"`
	Outputs     []OutputConfig     `yaml:"outputs"`
	Constraints []ConstraintConfig `yaml:"constraints"`
}

// GuardrailConfig is one configured guardrail rule.
type GuardrailConfig struct {
	Name     string  `yaml:"name"`
	Kind     string  `yaml:"kind"`
	Mode     string  `yaml:"mode"`
	Channels []int   `yaml:"channels"`
	Ceiling  float64 `yaml:"ceiling"`
}

// Config models the venue configuration file.
type Config struct {
	Mixer      MixerConfig           `yaml:"mixer"`
	Transport  TransportConfig       `yaml:"transport"`
	Hub        HubConfig             `yaml:"hub"`
	Logging    logger.Config         `yaml:"logging"`
	Modes      map[string]ModeConfig `yaml:"modes"`
	Guardrails []GuardrailConfig     `yaml:"guardrails"`
}

// Load reads and validates the configuration file. Unknown keys are
// rejected so a typo never silently disables a guardrail.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Mixer.Endpoint == "" {
		return fmt.Errorf("mixer.endpoint is required")
	}
	if c.Mixer.Variant == "" {
		return fmt.Errorf("mixer.variant is required")
	}

	for name, mode := range c.Modes {
		for group, action := range mode.Groups {
			a := intent.GroupAction(action)
			if a != intent.ActionMute && a != intent.ActionUnmute {
				return fmt.Errorf("mode %q: group %q: action must be %q or %q, got %q",
					name, group, intent.ActionMute, intent.ActionUnmute, action)
			}
		}
	}

	for i, g := range c.Guardrails {
		if g.Name == "" {
			return fmt.Errorf("guardrails[%d]: name is required", i)
		}
		switch guardrail.Kind(g.Kind) {
		case guardrail.KindPhantomAllowlist, guardrail.KindOutputCeiling, guardrail.KindMuteRequired:
		default:
			return fmt.Errorf("guardrail %q: unknown kind %q", g.Name, g.Kind)
		}
		switch guardrail.Mode(g.Mode) {
		case guardrail.ModeAudit, guardrail.ModeEnforce:
		default:
			return fmt.Errorf("guardrail %q: mode must be %q or %q, got %q",
				g.Name, guardrail.ModeAudit, guardrail.ModeEnforce, g.Mode)
		}
	}
	return nil
}

// SessionConfig translates the transport section.
func (c *Config) SessionConfig() transport.SessionConfig {
	return transport.SessionConfig{
		ReplyTimeout: time.Duration(c.Transport.ReplyTimeout),
		Backoff: transport.Backoff{
			Base:   time.Duration(c.Transport.Backoff.Base),
			Factor: c.Transport.Backoff.Factor,
			Max:    time.Duration(c.Transport.Backoff.Max),
			Jitter: c.Transport.Backoff.Jitter,
		},
	}
}

// Dialer builds the WebSocket dialer for the configured mixer.
func (c *Config) Dialer() *transport.WebSocketDialer {
	return &transport.WebSocketDialer{
		Token:       c.Mixer.Token,
		InsecureTLS: c.Mixer.InsecureTLS,
	}
}

// Intents translates the mode section into per-mode intents.
func (c *Config) Intents() map[venue.Mode]intent.Intent {
	intents := make(map[venue.Mode]intent.Intent, len(c.Modes))
	for name, mode := range c.Modes {
		in := intent.Intent{
			Name:   name,
			Groups: make(map[console.Group]intent.GroupAction, len(mode.Groups)),
		}
		for _, sc := range mode.Constraints {
			in.Safety = append(in.Safety, intent.SafetyConstraint{PhantomAllowed: sc.PhantomAllowed})
		}
		for _, oc := range mode.Outputs {
			in.Outputs = append(in.Outputs, intent.OutputConstraint{MaxLevel: oc.MaxLevel})
		}
		for group, action := range mode.Groups {
			in.Groups[console.Group(group)] = intent.GroupAction(action)
		}
		intents[venue.Mode(name)] = in
	}
	return intents
}

// Rules translates the guardrail section.
func (c *Config) Rules() []guardrail.Rule {
	rules := make([]guardrail.Rule, 0, len(c.Guardrails))
	for _, g := range c.Guardrails {
		rules = append(rules, guardrail.Rule{
			Name:     g.Name,
			Kind:     guardrail.Kind(g.Kind),
			Mode:     guardrail.Mode(g.Mode),
			Channels: g.Channels,
			Ceiling:  g.Ceiling,
		})
	}
	return rules
}
