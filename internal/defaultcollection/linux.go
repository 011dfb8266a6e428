// Package defaultcollection provides a small, illustrative Linux catalog
// that exercises every core terminalmgr feature: static sensors, one
// dynamic sensor, one controllable binary sensor, and turn-off/restart
// actions. It is sample wiring for the CLI and tests, not a complete
// hardware catalog.
package defaultcollection

import (
	"time"

	"github.com/relayhost/terminalmgr/pkg/terminalmgr"
)

const (
	ActionTurnOff = "turn_off"
	ActionRestart = "restart"

	SensorHostname   = "hostname"
	SensorOSName     = "os_name"
	SensorOSVersion  = "os_version"
	SensorUptime     = "uptime"
	SensorFreeMemory = "free_memory"
	SensorFreeDisk   = "free_disk_space"
	SensorCPULoad    = "cpu_load"
	SensorPower      = "power"
	SensorWOLSupport = "wol_support"
)

// Linux returns a freshly built collection; callers may register further
// sensors/actions before handing it to terminalmgr.New.
func Linux() (*terminalmgr.Collection, error) {
	col := terminalmgr.NewCollection()

	turnOff, err := terminalmgr.NewActionCommand("Turn off", ActionTurnOff, "shutdown -h now")
	if err != nil {
		return nil, err
	}
	col.AddActionCommand(turnOff)

	restart, err := terminalmgr.NewActionCommand("Restart", ActionRestart, "shutdown -r now")
	if err != nil {
		return nil, err
	}
	col.AddActionCommand(restart)

	hostname, err := terminalmgr.NewTextSensor("Hostname", SensorHostname)
	if err != nil {
		return nil, err
	}
	osName, err := terminalmgr.NewTextSensor("OS name", SensorOSName)
	if err != nil {
		return nil, err
	}
	osVersion, err := terminalmgr.NewTextSensor("OS version", SensorOSVersion)
	if err != nil {
		return nil, err
	}
	unameCmd := terminalmgr.NewSensorCommand(
		`uname -a | awk '{print $2; print $1; print $3}'`,
		0, "",
		[]*terminalmgr.Sensor{hostname, osName, osVersion},
	)
	if err := col.AddSensorCommand(unameCmd); err != nil {
		return nil, err
	}

	uptime, err := terminalmgr.NewTextSensor("Uptime", SensorUptime)
	if err != nil {
		return nil, err
	}
	uptimeCmd := terminalmgr.NewSensorCommand(
		"uptime -p",
		time.Minute, "\t",
		[]*terminalmgr.Sensor{uptime},
	)
	if err := col.AddSensorCommand(uptimeCmd); err != nil {
		return nil, err
	}

	freeMemory, err := terminalmgr.NewNumberSensor("Free memory", SensorFreeMemory)
	if err != nil {
		return nil, err
	}
	freeMemory.Unit = "KiB"
	freeMemoryCmd := terminalmgr.NewSensorCommand(
		"free -k | awk '/^Mem:/ {print $4}'",
		30*time.Second, "\t",
		[]*terminalmgr.Sensor{freeMemory},
	)
	if err := col.AddSensorCommand(freeMemoryCmd); err != nil {
		return nil, err
	}

	cpuLoad, err := terminalmgr.NewNumberSensor("CPU load", SensorCPULoad)
	if err != nil {
		return nil, err
	}
	cpuLoad.Unit = "%"
	cpuLoadCmd := terminalmgr.NewSensorCommand(
		"top -bn1 | awk 'NR<4 && tolower($0)~/cpu/ {print 100-$8}'",
		30*time.Second, "\t",
		[]*terminalmgr.Sensor{cpuLoad},
	)
	if err := col.AddSensorCommand(cpuLoadCmd); err != nil {
		return nil, err
	}

	freeDisk, err := terminalmgr.NewNumberSensor("Free disk space", SensorFreeDisk)
	if err != nil {
		return nil, err
	}
	freeDisk.Dynamic = true
	freeDisk.Unit = "KiB"
	diskCmd := terminalmgr.NewSensorCommand(
		`df -k | awk '/^\/dev\// {print $6 "|" $4}'`,
		5*time.Minute, "|",
		[]*terminalmgr.Sensor{freeDisk},
	)
	if err := col.AddSensorCommand(diskCmd); err != nil {
		return nil, err
	}

	power, err := terminalmgr.NewBinarySensor("Power LED", SensorPower)
	if err != nil {
		return nil, err
	}
	power.CommandOn = "power_on"
	power.CommandOff = "power_off"
	power.PayloadOn = "1"
	power.PayloadOff = "0"
	powerCmd := terminalmgr.NewSensorCommand(
		"cat /sys/class/leds/power/brightness",
		time.Minute, "\t",
		[]*terminalmgr.Sensor{power},
	)
	if err := col.AddSensorCommand(powerCmd); err != nil {
		return nil, err
	}

	powerOn, err := terminalmgr.NewActionCommand("Power on", "power_on", "echo 1 > /sys/class/leds/power/brightness")
	if err != nil {
		return nil, err
	}
	col.AddActionCommand(powerOn)
	powerOff, err := terminalmgr.NewActionCommand("Power off", "power_off", "echo 0 > /sys/class/leds/power/brightness")
	if err != nil {
		return nil, err
	}
	col.AddActionCommand(powerOff)

	wolSupport, err := terminalmgr.NewBinarySensor("Wake-on-LAN support", SensorWOLSupport)
	if err != nil {
		return nil, err
	}
	wolSupport.PayloadOn = "enabled"
	wolCmd := terminalmgr.NewSensorCommand(
		"file=/sys/class/net/eth0/device/power/wakeup; [[ ! -f $file ]] || cat $file",
		0, "",
		[]*terminalmgr.Sensor{wolSupport},
	)
	if err := col.AddSensorCommand(wolCmd); err != nil {
		return nil, err
	}

	return col, nil
}
