package terminalmgr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// trueStrings/falseStrings are the case-insensitive fallback payloads a
// BinarySensor recognizes when neither PayloadOn nor PayloadOff is
// configured, or when both are configured and neither matches. With only one
// side configured, a non-matching value maps to the opposite boolean.
var (
	trueStrings  = []string{"true", "enabled", "on", "active", "1"}
	falseStrings = []string{"false", "disabled", "off", "inactive", "0"}
)

// SensorKind tags which of the four sensor variants a Sensor is. Dispatch
// on this tag replaces the sum type Go lacks; every variant-specific field
// below is only meaningful for its own Kind.
type SensorKind int

const (
	KindText SensorKind = iota
	KindNumber
	KindBinary
	KindVersion
)

func (k SensorKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBinary:
		return "binary"
	case KindVersion:
		return "version"
	default:
		return "unknown"
	}
}

// DynamicRow is one row of a dynamic sensor command's parsed output: id is
// the stable key source, name is an optional display label, data is the raw
// value for this row or nil if the row reported no value this poll.
type DynamicRow struct {
	ID   string
	Name string
	Data *string
}

// Sensor is a single monitored or controllable value. Static sensors carry
// Value directly; dynamic sensors never carry a Value themselves and
// instead fan their command's output out into ChildSensors keyed by id.
type Sensor struct {
	Name    string
	Key     string
	Dynamic bool
	Unit    string
	Kind    SensorKind

	Renderer func(string) (string, error)

	// CommandSet names the action command key used to write a value for
	// variants that don't use the on/off split (text, number, version).
	CommandSet string

	// LinkedSensors are keys of other sensors that are polled (through their
	// own commands) each time this sensor's owning command has run.
	LinkedSensors []string

	Attributes map[string]string

	// Text variant constraints.
	TextMinLen, TextMaxLen *int
	TextPattern            string
	TextOptions            []string

	// Number variant constraints.
	Float            bool
	NumberMin, NumberMax *float64

	// Binary variant fields.
	CommandOn, CommandOff string
	PayloadOn, PayloadOff string

	// Version variant: Latest, when set, is the key of another VersionSensor
	// holding the latest-available value for comparison.
	Latest string

	// Mutable state.
	Value          any
	LastKnownValue any
	ID             string // set only on a dynamic child; the row id it was built from
	ChildSensors   map[string]*Sensor

	onUpdate *Event[*Sensor]
}

// newSensorBase fills in the fields common to every constructor.
func newSensorBase(name, key string, kind SensorKind) (*Sensor, error) {
	if key == "" {
		key = slugify(name)
	}
	if key == "" {
		return nil, &NameKeyError{Msg: "sensor requires a name or an explicit key"}
	}
	return &Sensor{
		Name:     name,
		Key:      key,
		Kind:     kind,
		onUpdate: NewEvent[*Sensor](),
	}, nil
}

// NewTextSensor constructs a text sensor. Length bounds, pattern and options
// are set through the returned sensor's Text* fields; a nil bound is unset.
func NewTextSensor(name, key string) (*Sensor, error) {
	return newSensorBase(name, key, KindText)
}

// NewNumberSensor constructs a number sensor.
func NewNumberSensor(name, key string) (*Sensor, error) {
	return newSensorBase(name, key, KindNumber)
}

// NewBinarySensor constructs a binary sensor.
func NewBinarySensor(name, key string) (*Sensor, error) {
	return newSensorBase(name, key, KindBinary)
}

// NewVersionSensor constructs a version sensor.
func NewVersionSensor(name, key string) (*Sensor, error) {
	return newSensorBase(name, key, KindVersion)
}

// OnUpdate subscribes to value-changed notifications (fired even when the
// new value is nil, so UIs can show "unknown").
func (s *Sensor) OnUpdate(fn func(*Sensor)) func() {
	return s.onUpdate.Subscribe(fn)
}

// Controllable reports whether this sensor accepts SetSensorValue calls.
func (s *Sensor) Controllable() bool {
	switch s.Kind {
	case KindBinary:
		return s.CommandOn != "" || s.CommandOff != ""
	default:
		return s.CommandSet != ""
	}
}

// ControlCommandKey returns the action command key that should be run to
// write value, and whether one is configured.
func (s *Sensor) ControlCommandKey(value any) (string, bool) {
	if s.Kind == KindBinary {
		b, ok := value.(bool)
		if !ok {
			return "", false
		}
		if b && s.CommandOn != "" {
			return s.CommandOn, true
		}
		if !b && s.CommandOff != "" {
			return s.CommandOff, true
		}
		return "", false
	}
	if s.CommandSet == "" {
		return "", false
	}
	return s.CommandSet, true
}

// clone deep-copies a sensor for insertion into a Collection: config is
// copied but mutable state (Value, ChildSensors, subscribers) starts fresh.
func (s *Sensor) clone() *Sensor {
	c := *s
	c.onUpdate = NewEvent[*Sensor]()
	c.Value = nil
	c.LastKnownValue = nil
	c.ChildSensors = nil

	if s.LinkedSensors != nil {
		c.LinkedSensors = append([]string(nil), s.LinkedSensors...)
	}
	if s.Attributes != nil {
		c.Attributes = make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			c.Attributes[k] = v
		}
	}
	if s.TextOptions != nil {
		c.TextOptions = append([]string(nil), s.TextOptions...)
	}
	if s.TextMinLen != nil {
		v := *s.TextMinLen
		c.TextMinLen = &v
	}
	if s.TextMaxLen != nil {
		v := *s.TextMaxLen
		c.TextMaxLen = &v
	}
	if s.NumberMin != nil {
		v := *s.NumberMin
		c.NumberMin = &v
	}
	if s.NumberMax != nil {
		v := *s.NumberMax
		c.NumberMax = &v
	}
	return &c
}

// makeChild derives a per-row sensor for a dynamic sensor's current id set.
// The child carries the parent's variant configuration but is itself
// static: its own Update is driven by the row's data, not by polling a
// command.
func (s *Sensor) makeChild(id, name string) *Sensor {
	c := s.clone()
	c.Dynamic = false
	c.ID = id
	c.Key = childKey(s.Key, id)
	if name != "" {
		c.Name = name
	} else {
		c.Name = fmt.Sprintf("%s %s", s.Name, id)
	}
	if s.Kind == KindVersion && s.Latest != "" {
		c.Latest = childKey(s.Latest, id)
	}
	return c
}

// Update applies freshly parsed command output to the sensor. For a static
// sensor raw is a *string (nil meaning the command didn't report a value
// this round); for a dynamic sensor raw is a []DynamicRow (nil meaning the
// command produced no rows at all, distinct from an empty, non-nil slice).
func (s *Sensor) Update(raw any) {
	if s.Dynamic {
		s.updateDynamic(raw)
		return
	}
	s.updateStatic(raw)
}

func (s *Sensor) updateStatic(raw any) {
	s.ChildSensors = nil

	var data *string
	switch v := raw.(type) {
	case nil:
		data = nil
	case *string:
		data = v
	case string:
		data = &v
	default:
		data = nil
	}

	if data == nil {
		s.Value = nil
		s.onUpdate.Notify(s)
		return
	}

	rendered := *data
	if s.Renderer != nil {
		out, err := s.Renderer(rendered)
		if err != nil {
			s.Value = nil
			s.onUpdate.Notify(s)
			return
		}
		rendered = out
	}

	converted, err := s.convert(rendered)
	if err != nil {
		s.Value = nil
		s.onUpdate.Notify(s)
		return
	}

	if err := s.ValidateValue(converted); err != nil {
		s.Value = nil
		s.onUpdate.Notify(s)
		return
	}

	s.Value = converted
	s.LastKnownValue = converted
	s.onUpdate.Notify(s)
}

func (s *Sensor) updateDynamic(raw any) {
	s.Value = nil
	s.LastKnownValue = nil

	rows, ok := raw.([]DynamicRow)
	if !ok || rows == nil {
		for _, child := range s.ChildSensors {
			child.Update(nil)
		}
		s.onUpdate.Notify(s)
		return
	}

	if s.ChildSensors == nil {
		s.ChildSensors = make(map[string]*Sensor)
	}

	keep := make(map[string]bool, len(rows))
	for _, row := range rows {
		key := childKey(s.Key, row.ID)
		keep[key] = true
		child, exists := s.ChildSensors[key]
		if !exists {
			child = s.makeChild(row.ID, row.Name)
			s.ChildSensors[key] = child
		} else if row.Name != "" {
			child.Name = row.Name
		}
		child.Update(row.Data)
	}

	for key := range s.ChildSensors {
		if !keep[key] {
			delete(s.ChildSensors, key)
		}
	}

	s.onUpdate.Notify(s)
}

// convert parses a rendered string into this sensor's typed value.
func (s *Sensor) convert(raw string) (any, error) {
	switch s.Kind {
	case KindText:
		return raw, nil
	case KindNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", raw)
		}
		if !s.Float {
			return int64(f), nil
		}
		return f, nil
	case KindBinary:
		trimmed := strings.TrimSpace(raw)
		if s.PayloadOn != "" {
			if trimmed == s.PayloadOn {
				return true, nil
			}
			if s.PayloadOff == "" {
				return false, nil
			}
		}
		if s.PayloadOff != "" {
			if trimmed == s.PayloadOff {
				return false, nil
			}
			if s.PayloadOn == "" {
				return true, nil
			}
		}
		lower := strings.ToLower(trimmed)
		for _, v := range trueStrings {
			if lower == v {
				return true, nil
			}
		}
		for _, v := range falseStrings {
			if lower == v {
				return false, nil
			}
		}
		return nil, fmt.Errorf("unrecognized binary payload: %q", raw)
	case KindVersion:
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return nil, fmt.Errorf("empty version string")
		}
		return trimmed, nil
	default:
		return nil, fmt.Errorf("unknown sensor kind")
	}
}

// ValidateValue checks value against this sensor's variant-specific
// constraints, independent of where the value came from (a poll or a
// SetSensorValue call).
func (s *Sensor) ValidateValue(value any) error {
	switch s.Kind {
	case KindText:
		str, ok := value.(string)
		if !ok {
			return &SensorError{Key: s.Key, Msg: "value is not text"}
		}
		if str == "" {
			return &SensorError{Key: s.Key, Msg: "value is empty"}
		}
		if s.TextMinLen != nil && len(str) < *s.TextMinLen {
			return &SensorError{Key: s.Key, Msg: "value shorter than minimum length"}
		}
		if s.TextMaxLen != nil && len(str) > *s.TextMaxLen {
			return &SensorError{Key: s.Key, Msg: "value longer than maximum length"}
		}
		if s.TextPattern != "" {
			matched, err := regexp.MatchString("^(?:"+s.TextPattern+")$", str)
			if err != nil || !matched {
				return &SensorError{Key: s.Key, Msg: "value does not match pattern"}
			}
		}
		if len(s.TextOptions) > 0 {
			found := false
			for _, opt := range s.TextOptions {
				if opt == str {
					found = true
					break
				}
			}
			if !found {
				return &SensorError{Key: s.Key, Msg: "value not among allowed options"}
			}
		}
		return nil
	case KindNumber:
		var f float64
		switch v := value.(type) {
		case int64:
			f = float64(v)
		case float64:
			f = v
		default:
			return &SensorError{Key: s.Key, Msg: "value is not numeric"}
		}
		if s.NumberMin != nil && f < *s.NumberMin {
			return &SensorError{Key: s.Key, Msg: "value below minimum"}
		}
		if s.NumberMax != nil && f > *s.NumberMax {
			return &SensorError{Key: s.Key, Msg: "value above maximum"}
		}
		return nil
	case KindBinary:
		if _, ok := value.(bool); !ok {
			return &SensorError{Key: s.Key, Msg: "value is not binary"}
		}
		return nil
	case KindVersion:
		str, ok := value.(string)
		if !ok || str == "" {
			return &SensorError{Key: s.Key, Msg: "value is not a non-empty version string"}
		}
		return nil
	default:
		return &SensorError{Key: s.Key, Msg: "unknown sensor kind"}
	}
}
