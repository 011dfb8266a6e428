// Package config loads YAML-defined host catalogs into terminalmgr
// collections, with fsnotify-driven hot reload for long-running processes
// such as the CLI's watch command.
package config

import "time"

// Document is the top-level shape of a catalog YAML file: zero or more
// hosts, each owning its own action/sensor catalog.
type Document struct {
	Hosts []Host `yaml:"hosts"`
}

// Host describes one managed host: how to reach it and what its catalog
// looks like. Connection fields are deliberately plain (address/port/user)
// rather than referencing internal/sshterm directly, so this package stays
// usable with any Terminal implementation.
type Host struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`

	CommandTimeout      time.Duration `yaml:"command_timeout"`
	AllowTurnOff        bool          `yaml:"allow_turn_off"`
	DisconnectMode      bool          `yaml:"disconnect_mode"`
	DisconnectModeDelay time.Duration `yaml:"disconnect_mode_delay"`
	MACAddress          string        `yaml:"mac_address"`

	Actions []ActionCommand `yaml:"actions"`
	Sensors []SensorCommand `yaml:"sensors"`
}

// ActionCommand mirrors terminalmgr.ActionCommand's configuration surface.
type ActionCommand struct {
	Name     string            `yaml:"name"`
	Key      string            `yaml:"key"`
	Template string            `yaml:"template"`
	Timeout  time.Duration     `yaml:"timeout"`
	Attrs    map[string]string `yaml:"attrs"`
}

// SensorCommand mirrors terminalmgr.SensorCommand's configuration surface.
// Sensors is positional: leading entries are static (one output line each)
// and any trailing run of Dynamic sensors consumes the remaining lines as
// dynamic rows (see terminalmgr.SensorCommand.parseAndUpdate).
type SensorCommand struct {
	Template string        `yaml:"template"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
	// Separator splits a dynamic row into fields; empty means whitespace.
	Separator string   `yaml:"separator"`
	Sensors   []Sensor `yaml:"sensors"`
}

// Sensor mirrors terminalmgr.Sensor's declarative fields. Kind selects
// which New*Sensor constructor builds it; fields irrelevant to that kind
// are ignored.
type Sensor struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
	Kind string `yaml:"kind"` // text, number, binary, version
	Unit string `yaml:"unit"`

	Dynamic bool `yaml:"dynamic"`

	TextMinLen  *int     `yaml:"text_min_len"`
	TextMaxLen  *int     `yaml:"text_max_len"`
	TextPattern string   `yaml:"text_pattern"`
	TextOptions []string `yaml:"text_options"`

	Float      bool     `yaml:"float"`
	NumberMin  *float64 `yaml:"number_min"`
	NumberMax  *float64 `yaml:"number_max"`

	CommandOn  string `yaml:"command_on"`
	CommandOff string `yaml:"command_off"`
	PayloadOn  string `yaml:"payload_on"`
	PayloadOff string `yaml:"payload_off"`

	Latest string `yaml:"latest"`

	LinkedSensors []string          `yaml:"linked_sensors"`
	Attrs         map[string]string `yaml:"attrs"`
}
