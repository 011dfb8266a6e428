package config

import (
	"fmt"

	"github.com/relayhost/terminalmgr/pkg/terminalmgr"
)

// ToCollection builds a terminalmgr.Collection from a Host's declarative
// catalog, returning an error for any command/sensor construction failure
// or a collection that fails Check (e.g. a dependency loop).
func (h Host) ToCollection() (*terminalmgr.Collection, error) {
	col := terminalmgr.NewCollection()

	for _, a := range h.Actions {
		cmd, err := a.toTerminalmgr()
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", a.Key, err)
		}
		col.AddActionCommand(cmd)
	}

	for i, sc := range h.Sensors {
		cmd, err := sc.toTerminalmgr()
		if err != nil {
			return nil, fmt.Errorf("sensor command #%d: %w", i, err)
		}
		if err := col.AddSensorCommand(cmd); err != nil {
			return nil, fmt.Errorf("sensor command #%d: %w", i, err)
		}
	}

	if err := col.Check(); err != nil {
		return nil, err
	}
	return col, nil
}

func (a ActionCommand) toTerminalmgr() (*terminalmgr.ActionCommand, error) {
	cmd, err := terminalmgr.NewActionCommand(a.Name, a.Key, a.Template)
	if err != nil {
		return nil, err
	}
	if a.Timeout > 0 {
		cmd.Timeout = &a.Timeout
	}
	if len(a.Attrs) > 0 {
		cmd.Attributes = a.Attrs
	}
	return cmd, nil
}

func (sc SensorCommand) toTerminalmgr() (*terminalmgr.SensorCommand, error) {
	sensors := make([]*terminalmgr.Sensor, 0, len(sc.Sensors))
	for i, s := range sc.Sensors {
		sensor, err := s.toTerminalmgr()
		if err != nil {
			return nil, fmt.Errorf("sensor #%d: %w", i, err)
		}
		sensors = append(sensors, sensor)
	}

	cmd := terminalmgr.NewSensorCommand(sc.Template, sc.Interval, sc.Separator, sensors)
	if sc.Timeout > 0 {
		cmd.Timeout = &sc.Timeout
	}
	return cmd, nil
}

func (s Sensor) toTerminalmgr() (*terminalmgr.Sensor, error) {
	var sensor *terminalmgr.Sensor
	var err error

	switch s.Kind {
	case "", "text":
		sensor, err = terminalmgr.NewTextSensor(s.Name, s.Key)
		if err == nil {
			sensor.TextMinLen = s.TextMinLen
			sensor.TextMaxLen = s.TextMaxLen
			sensor.TextPattern = s.TextPattern
			sensor.TextOptions = s.TextOptions
		}
	case "number":
		sensor, err = terminalmgr.NewNumberSensor(s.Name, s.Key)
		if err == nil {
			sensor.Float = s.Float
			sensor.NumberMin = s.NumberMin
			sensor.NumberMax = s.NumberMax
		}
	case "binary":
		sensor, err = terminalmgr.NewBinarySensor(s.Name, s.Key)
		if err == nil {
			sensor.CommandOn = s.CommandOn
			sensor.CommandOff = s.CommandOff
			if s.PayloadOn != "" {
				sensor.PayloadOn = s.PayloadOn
			}
			if s.PayloadOff != "" {
				sensor.PayloadOff = s.PayloadOff
			}
		}
	case "version":
		sensor, err = terminalmgr.NewVersionSensor(s.Name, s.Key)
		if err == nil {
			sensor.Latest = s.Latest
		}
	default:
		return nil, fmt.Errorf("unknown sensor kind %q", s.Kind)
	}
	if err != nil {
		return nil, err
	}

	sensor.Dynamic = s.Dynamic
	sensor.Unit = s.Unit
	sensor.LinkedSensors = s.LinkedSensors
	if len(s.Attrs) > 0 {
		sensor.Attributes = s.Attrs
	}
	return sensor, nil
}
