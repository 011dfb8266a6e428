package terminalmgr

import (
	"fmt"
	"sync"
)

// Collection is a manager's full command/sensor catalog: the set of action
// commands it can run and the sensor commands (and the sensors they own)
// it polls. Every insertion deep-copies its argument so the caller's copy
// and the stored copy never alias mutable state.
type Collection struct {
	mu sync.RWMutex

	actionCommands map[string]*ActionCommand
	sensorCommands []*SensorCommand
	sensorOwner    map[string]*SensorCommand // sensor key -> owning SensorCommand
	sensors        map[string]*Sensor        // sensor key -> sensor (including dynamic children)
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{
		actionCommands: make(map[string]*ActionCommand),
		sensorOwner:    make(map[string]*SensorCommand),
		sensors:        make(map[string]*Sensor),
	}
}

// AddActionCommand stores a deep copy of cmd, replacing any existing action
// with the same key.
func (c *Collection) AddActionCommand(cmd *ActionCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actionCommands[cmd.Key] = cmd.clone()
}

// RemoveActionCommand drops the action command with the given key, if any.
func (c *Collection) RemoveActionCommand(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.actionCommands, key)
}

// ActionCommand looks up an action command by key.
func (c *Collection) ActionCommand(key string) (*ActionCommand, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd, ok := c.actionCommands[key]
	return cmd, ok
}

// ActionCommands returns every action command, in no particular order.
func (c *Collection) ActionCommands() []*ActionCommand {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*ActionCommand, 0, len(c.actionCommands))
	for _, cmd := range c.actionCommands {
		out = append(out, cmd)
	}
	return out
}

// AddSensorCommand stores a deep copy of cmd and indexes its sensors.
// Returns an error if any owned sensor's key collides with a sensor from
// another already-added command.
func (c *Collection) AddSensorCommand(cmd *SensorCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clone := cmd.clone()
	for _, sensor := range clone.Sensors {
		if sensor == nil || sensor.Key == PlaceholderSensorKey {
			continue
		}
		if _, exists := c.sensors[sensor.Key]; exists {
			return &NameKeyError{Msg: fmt.Sprintf("duplicate sensor key %q", sensor.Key)}
		}
	}

	for _, sensor := range clone.Sensors {
		if sensor == nil || sensor.Key == PlaceholderSensorKey {
			continue
		}
		c.sensors[sensor.Key] = sensor
		c.sensorOwner[sensor.Key] = clone
	}
	c.sensorCommands = append(c.sensorCommands, clone)
	return nil
}

// RemoveSensor clears the sensor with the given key to a placeholder
// in-place, preserving the positions of its siblings. When a command's
// last non-placeholder sensor is removed, the command itself is dropped.
func (c *Collection) RemoveSensor(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner, ok := c.sensorOwner[key]
	if !ok {
		return
	}
	delete(c.sensors, key)
	delete(c.sensorOwner, key)

	remaining := 0
	for i, sensor := range owner.Sensors {
		if sensor == nil {
			continue
		}
		if sensor.Key == key {
			owner.Sensors[i] = &Sensor{Key: PlaceholderSensorKey}
			continue
		}
		if sensor.Key != PlaceholderSensorKey {
			remaining++
		}
	}

	if remaining == 0 {
		for i, sc := range c.sensorCommands {
			if sc == owner {
				c.sensorCommands = append(c.sensorCommands[:i], c.sensorCommands[i+1:]...)
				break
			}
		}
	}
}

// SensorCommands returns every sensor command, in no particular order.
func (c *Collection) SensorCommands() []*SensorCommand {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*SensorCommand, len(c.sensorCommands))
	copy(out, c.sensorCommands)
	return out
}

// Sensor looks up a sensor (static or dynamic child) by key.
func (c *Collection) Sensor(key string) (*Sensor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sensor, ok := c.sensors[key]
	if ok {
		return sensor, true
	}
	// Dynamic children are not indexed directly; search their parents.
	for _, parent := range c.sensors {
		if parent.Dynamic {
			if child, ok := parent.ChildSensors[key]; ok {
				return child, true
			}
		}
	}
	return nil, false
}

// SensorCommandForSensorKey returns the SensorCommand that owns key, or the
// owner of the dynamic parent if key belongs to a dynamic child.
func (c *Collection) SensorCommandForSensorKey(key string) (*SensorCommand, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if owner, ok := c.sensorOwner[key]; ok {
		return owner, true
	}
	for sensorKey, parent := range c.sensors {
		if parent.Dynamic {
			if _, ok := parent.ChildSensors[key]; ok {
				return c.sensorOwner[sensorKey], true
			}
		}
	}
	return nil, false
}

// checkLoop walks the sensor dependency graph reachable from subSensors,
// failing if a SensorCommand appears twice on the chain currently being
// followed. owner is the SensorCommand being rendered (nil for an
// ActionCommand), pre-marked visited since rendering it again would be the
// cycle.
func (c *Collection) checkLoop(owner *SensorCommand, subSensors []string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	visited := make(map[*SensorCommand]bool)
	if owner != nil {
		visited[owner] = true
	}

	var walk func(keys []string) error
	walk = func(keys []string) error {
		for _, key := range keys {
			sensorOwner, ok := c.sensorOwner[key]
			if !ok {
				continue
			}
			if visited[sensorOwner] {
				return &CommandError{Msg: fmt.Sprintf("dependency loop detected at sensor %q", key)}
			}
			visited[sensorOwner] = true
			next := append(identifiers(sensorOwner.Template, SensorSigil), sensorOwner.linkedSensorsAll()...)
			if err := walk(next); err != nil {
				return err
			}
			delete(visited, sensorOwner)
		}
		return nil
	}

	return walk(subSensors)
}

// Check validates the whole collection statically: every action's and
// sensor command's template must not introduce a dependency loop, no static
// sensor may follow a dynamic one within a sensor command, and version
// sensors referencing a Latest key must point at another version sensor
// that itself carries neither Latest nor CommandSet.
func (c *Collection) Check() error {
	c.mu.RLock()
	sensorsSnapshot := make(map[string]*Sensor, len(c.sensors))
	for k, v := range c.sensors {
		sensorsSnapshot[k] = v
	}
	c.mu.RUnlock()

	for _, sensor := range sensorsSnapshot {
		if sensor.Kind == KindVersion && sensor.Latest != "" {
			latest, ok := sensorsSnapshot[sensor.Latest]
			if !ok {
				return &NameKeyError{Msg: fmt.Sprintf("sensor %q references unknown latest sensor %q", sensor.Key, sensor.Latest)}
			}
			if latest.Kind != KindVersion {
				return &NameKeyError{Msg: fmt.Sprintf("sensor %q's latest sensor %q is not a version sensor", sensor.Key, sensor.Latest)}
			}
			if latest.Latest != "" || latest.CommandSet != "" {
				return &NameKeyError{Msg: fmt.Sprintf("sensor %q's latest sensor %q must not itself carry latest or command_set", sensor.Key, sensor.Latest)}
			}
		}
	}

	for _, sc := range c.SensorCommands() {
		if err := checkSensorOrder(sc); err != nil {
			return err
		}
	}

	for _, cmd := range c.ActionCommands() {
		if err := c.checkLoop(nil, identifiers(cmd.Template, SensorSigil)); err != nil {
			return err
		}
	}
	for _, sc := range c.SensorCommands() {
		subSensors := append(identifiers(sc.Template, SensorSigil), sc.linkedSensorsAll()...)
		if err := c.checkLoop(sc, subSensors); err != nil {
			return err
		}
	}
	return nil
}

// checkSensorOrder enforces that no static sensor follows a dynamic one
// within a single sensor command (placeholders left by RemoveSensor don't
// count as either).
func checkSensorOrder(sc *SensorCommand) error {
	seenDynamic := false
	for _, sensor := range sc.Sensors {
		if sensor == nil || sensor.Key == PlaceholderSensorKey {
			continue
		}
		if sensor.Dynamic {
			seenDynamic = true
			continue
		}
		if seenDynamic {
			return &CommandError{Msg: fmt.Sprintf("static sensor %q follows a dynamic sensor", sensor.Key)}
		}
	}
	return nil
}
