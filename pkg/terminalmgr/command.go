package terminalmgr

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PlaceholderSensorKey marks a line in a SensorCommand's output that no
// longer has a backing Sensor (see Collection.RemoveSensor): the line
// stays so the remaining sensors' positions don't shift.
const PlaceholderSensorKey = "_"

// ActionCommand is a one-shot, user- or manager-triggered command: turn on,
// turn off, restart, or any catalog-defined action.
type ActionCommand struct {
	Name     string
	Key      string
	Template string
	Timeout  *time.Duration
	Renderer func(string) (string, error)

	Attributes map[string]string

	LastOutput *CommandOutput
	LastError  error
}

// NewActionCommand constructs an action command. If key is empty it is
// derived from name; if both are empty, NameKeyError is returned.
func NewActionCommand(name, key, template string) (*ActionCommand, error) {
	if key == "" {
		key = slugify(name)
	}
	if key == "" {
		return nil, &NameKeyError{Msg: "action command requires a name or an explicit key"}
	}
	return &ActionCommand{Name: name, Key: key, Template: template}, nil
}

func (ac *ActionCommand) requiredVariables() []string { return identifiers(ac.Template, VarSigil) }
func (ac *ActionCommand) requiredSensors() []string    { return identifiers(ac.Template, SensorSigil) }

func (ac *ActionCommand) renderString(ctx context.Context, mgr *Manager, variables map[string]string) (string, error) {
	rendered, err := renderTemplate(ctx, mgr, ac.Key, ac.Template, variables, ac.Renderer, nil, nil)
	if err != nil {
		return "", wrapCommandError(ac.Key, err)
	}
	return rendered, nil
}

func (ac *ActionCommand) clone() *ActionCommand {
	c := *ac
	c.LastOutput = nil
	c.LastError = nil
	if ac.Timeout != nil {
		t := *ac.Timeout
		c.Timeout = &t
	}
	if ac.Attributes != nil {
		c.Attributes = make(map[string]string, len(ac.Attributes))
		for k, v := range ac.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// SensorCommand is a periodically polled command whose output is parsed
// into one or more sensors. Dynamic sensors may only appear at the tail of
// Sensors (Collection.Check enforces this); their output rows expand into
// child sensors (see Sensor.Update).
type SensorCommand struct {
	Template string
	Timeout  *time.Duration
	Renderer func(string) (string, error)

	Interval time.Duration

	// Separator splits a dynamic row into fields; empty means split on any
	// run of whitespace. It has no effect on leading static sensors, which
	// each take a whole output line verbatim.
	Separator string

	// Sensors maps leading output lines to static sensors positionally,
	// one line per sensor; any trailing run of Dynamic sensors instead
	// consumes the remaining lines as dynamic rows (see parseAndUpdate). A
	// sensor whose Key is PlaceholderSensorKey marks a line with no
	// backing sensor.
	Sensors []*Sensor

	LastOutput *CommandOutput
	LastError  error

	lastRun time.Time
}

// NewSensorCommand constructs a sensor command. interval <= 0 means the
// command runs once and afterwards only on a forced update (see
// ShouldUpdate). separator == "" means "split dynamic rows on whitespace".
func NewSensorCommand(template string, interval time.Duration, separator string, sensors []*Sensor) *SensorCommand {
	return &SensorCommand{
		Template:  template,
		Interval:  interval,
		Separator: separator,
		Sensors:   sensors,
	}
}

func (sc *SensorCommand) requiredVariables() []string { return identifiers(sc.Template, VarSigil) }
func (sc *SensorCommand) requiredSensors() []string    { return identifiers(sc.Template, SensorSigil) }

// linkedSensorsAll is the deduplicated union of every owned sensor's
// LinkedSensors, polled after this command runs and included in loop
// detection for this command's own rendering.
func (sc *SensorCommand) linkedSensorsAll() []string {
	seen := make(map[string]bool)
	var out []string
	for _, sensor := range sc.Sensors {
		if sensor == nil || sensor.Key == PlaceholderSensorKey {
			continue
		}
		for _, key := range sensor.LinkedSensors {
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

// firstDynamicIndex returns the Sensors index of the first Dynamic sensor,
// or -1 if the command has none. Collection.Check guarantees every sensor
// from that index on is either Dynamic or a removed-sensor placeholder.
func (sc *SensorCommand) firstDynamicIndex() int {
	for i, sensor := range sc.Sensors {
		if sensor != nil && sensor.Dynamic {
			return i
		}
	}
	return -1
}

// ShouldUpdate reports whether this command is due to run again. A command
// with no interval runs exactly once: after it has produced output, it is
// never due again (it still runs once more on a forced update).
func (sc *SensorCommand) ShouldUpdate(now time.Time) bool {
	if sc.Interval <= 0 {
		return sc.LastOutput == nil
	}
	return sc.lastRun.IsZero() || now.Sub(sc.lastRun) >= sc.Interval
}

func (sc *SensorCommand) renderString(ctx context.Context, mgr *Manager, variables map[string]string) (string, error) {
	rendered, err := renderTemplate(ctx, mgr, "", sc.Template, variables, sc.Renderer, sc.linkedSensorsAll(), sc)
	if err != nil {
		return "", wrapCommandError("", err)
	}
	return rendered, nil
}

// clearSensorValues resets every owned sensor (and its children) to an
// unknown value without touching LastKnownValue.
func (sc *SensorCommand) clearSensorValues() {
	for _, sensor := range sc.Sensors {
		if sensor == nil || sensor.Key == PlaceholderSensorKey {
			continue
		}
		sensor.Update(nil)
	}
}

// parseAndUpdate consumes leading static sensors by position (sensor i
// receives stdout[i], or null when that line is absent), then hands every
// remaining line to the trailing run of dynamic sensors as dynamic rows.
//
// Each dynamic line is split by Separator (whitespace runs when unset) into
// fields; a line with fewer than dynCount+1 fields is discarded, where
// dynCount is the number of dynamic sensors. Field layout is
// [id, data_0, data_1, …, data_{dynCount-1}, name?]: dynamic sensor k
// (0-indexed among the command's dynamic sensors) reads data_k, and a
// trailing extra field past the last data column is the row's display name.
func (sc *SensorCommand) parseAndUpdate(out CommandOutput) {
	d := sc.firstDynamicIndex()
	if d == -1 {
		d = len(sc.Sensors)
	}

	for i := 0; i < d; i++ {
		sensor := sc.Sensors[i]
		if sensor == nil || sensor.Key == PlaceholderSensorKey {
			continue
		}
		if i < len(out.Stdout) {
			v := out.Stdout[i]
			sensor.Update(&v)
		} else {
			sensor.Update(nil)
		}
	}

	dynamics := sc.Sensors[d:]
	if len(dynamics) == 0 {
		return
	}

	dynCount := 0
	for _, sensor := range dynamics {
		if sensor != nil && sensor.Dynamic {
			dynCount++
		}
	}

	rowsBySensor := make([][]DynamicRow, len(dynamics))
	var dynamicLines []string
	if len(out.Stdout) > d {
		dynamicLines = out.Stdout[d:]
	}

	for _, line := range dynamicLines {
		var fields []string
		if sc.Separator == "" {
			fields = strings.Fields(line)
		} else {
			fields = strings.Split(line, sc.Separator)
		}
		if len(fields) < dynCount+1 {
			continue
		}
		id := strings.TrimSpace(fields[0])
		var name string
		if len(fields) > dynCount+1 {
			name = strings.TrimSpace(fields[dynCount+1])
		}

		k := 0
		for j, sensor := range dynamics {
			if sensor == nil || !sensor.Dynamic {
				continue
			}
			data := fields[k+1]
			rowsBySensor[j] = append(rowsBySensor[j], DynamicRow{ID: id, Name: name, Data: &data})
			k++
		}
	}

	for j, sensor := range dynamics {
		if sensor == nil || !sensor.Dynamic {
			continue
		}
		if rowsBySensor[j] == nil {
			sensor.Update(nil)
		} else {
			sensor.Update(rowsBySensor[j])
		}
	}
}

func (sc *SensorCommand) clone() *SensorCommand {
	c := *sc
	c.LastOutput = nil
	c.LastError = nil
	c.lastRun = time.Time{}
	if sc.Timeout != nil {
		t := *sc.Timeout
		c.Timeout = &t
	}
	c.Sensors = make([]*Sensor, len(sc.Sensors))
	for i, sensor := range sc.Sensors {
		if sensor == nil {
			continue
		}
		c.Sensors[i] = sensor.clone()
	}
	return &c
}

func wrapCommandError(key string, err error) error {
	if ce, ok := err.(*CommandError); ok {
		if ce.Key == "" {
			ce.Key = key
		}
		return ce
	}
	return &CommandError{Key: key, Msg: err.Error()}
}

// renderTemplate implements the fixed rendering order shared by every
// command variant: validate the dependency graph, substitute variables,
// poll and substitute required sensors, then apply the renderer callback.
func renderTemplate(ctx context.Context, mgr *Manager, ownerKey string, tmpl string, variables map[string]string, renderer func(string) (string, error), linked []string, owner *SensorCommand) (string, error) {
	subSensors := identifiers(tmpl, SensorSigil)
	if len(linked) > 0 {
		seen := make(map[string]bool, len(subSensors))
		for _, k := range subSensors {
			seen[k] = true
		}
		for _, k := range linked {
			if !seen[k] {
				seen[k] = true
				subSensors = append(subSensors, k)
			}
		}
	}

	if err := mgr.collection.checkLoop(owner, subSensors); err != nil {
		return "", err
	}

	rendered, err := substitute(tmpl, VarSigil, variables, false)
	if err != nil {
		return "", &CommandError{Msg: err.Error()}
	}

	sensorValues := make(map[string]string)
	for _, key := range identifiers(rendered, SensorSigil) {
		sensor, ok := mgr.collection.Sensor(key)
		if !ok {
			continue // permissive: a key absent from the collection is a free variable
		}
		if err := mgr.pollSensorInternal(ctx, key); err != nil {
			return "", err
		}
		if sensor.Value == nil {
			return "", &CommandError{Msg: fmt.Sprintf("value of required sensor %q is unknown", key)}
		}
		sensorValues[key] = fmt.Sprint(sensor.Value)
	}

	rendered, err = substitute(rendered, SensorSigil, sensorValues, true)
	if err != nil {
		return "", &CommandError{Msg: err.Error()}
	}

	if renderer != nil {
		out, err := renderer(rendered)
		if err != nil {
			return "", &CommandError{Msg: err.Error()}
		}
		rendered = out
	}

	return rendered, nil
}
