package terminalmgr

import "testing"

func TestCollectionAddActionCommandDeepCopies(t *testing.T) {
	col := NewCollection()
	cmd, err := NewActionCommand("Restart", "restart", "systemctl restart @{svc}")
	if err != nil {
		t.Fatal(err)
	}
	col.AddActionCommand(cmd)

	cmd.Template = "mutated"
	stored, ok := col.ActionCommand("restart")
	if !ok {
		t.Fatal("expected action command to be stored")
	}
	if stored.Template == "mutated" {
		t.Fatal("collection must not alias the caller's command")
	}
}

func TestCollectionAddSensorCommandRejectsDuplicateKeys(t *testing.T) {
	col := NewCollection()
	cpu, _ := NewNumberSensor("CPU", "cpu")
	mem, _ := NewNumberSensor("Mem", "cpu") // duplicate key on purpose

	if err := col.AddSensorCommand(NewSensorCommand("uptime", 0, "\t", []*Sensor{cpu})); err != nil {
		t.Fatal(err)
	}
	err := col.AddSensorCommand(NewSensorCommand("free", 0, "\t", []*Sensor{mem}))
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestRemoveSensorClearsPlaceholderAndDropsEmptyCommand(t *testing.T) {
	col := NewCollection()
	cpu, _ := NewNumberSensor("CPU", "cpu")
	mem, _ := NewNumberSensor("Mem", "mem")
	if err := col.AddSensorCommand(NewSensorCommand("stats", 0, "\t", []*Sensor{cpu, mem})); err != nil {
		t.Fatal(err)
	}

	col.RemoveSensor("cpu")
	if _, ok := col.Sensor("cpu"); ok {
		t.Fatal("expected cpu sensor removed")
	}
	if _, ok := col.Sensor("mem"); !ok {
		t.Fatal("expected mem sensor to remain")
	}
	cmds := col.SensorCommands()
	if len(cmds) != 1 || cmds[0].Sensors[0].Key != PlaceholderSensorKey {
		t.Fatalf("expected placeholder in first column, got %#v", cmds)
	}

	col.RemoveSensor("mem")
	if len(col.SensorCommands()) != 0 {
		t.Fatal("expected sensor command dropped once all sensors removed")
	}
}

func TestCheckLoopDetectsCycle(t *testing.T) {
	col := NewCollection()
	a, _ := NewTextSensor("A", "a")
	b, _ := NewTextSensor("B", "b")

	scA := NewSensorCommand("echo &{b}", 0, "\t", []*Sensor{a})
	scB := NewSensorCommand("echo &{a}", 0, "\t", []*Sensor{b})

	if err := col.AddSensorCommand(scA); err != nil {
		t.Fatal(err)
	}
	if err := col.AddSensorCommand(scB); err != nil {
		t.Fatal(err)
	}

	if err := col.Check(); err == nil {
		t.Fatal("expected a dependency loop to be detected")
	}
}

func TestCheckVersionSensorMustReferenceVersionSensor(t *testing.T) {
	col := NewCollection()
	cur, _ := NewVersionSensor("Current", "current")
	cur.Latest = "latest"
	notVersion, _ := NewTextSensor("Latest", "latest")

	if err := col.AddSensorCommand(NewSensorCommand("echo v1", 0, "\t", []*Sensor{cur})); err != nil {
		t.Fatal(err)
	}
	if err := col.AddSensorCommand(NewSensorCommand("echo v2", 0, "\t", []*Sensor{notVersion})); err != nil {
		t.Fatal(err)
	}

	if err := col.Check(); err == nil {
		t.Fatal("expected error: latest sensor is not a version sensor")
	}
}

func TestCheckRejectsVersionSensorChainedThroughLatest(t *testing.T) {
	col := NewCollection()
	a, _ := NewVersionSensor("A", "a")
	a.Latest = "b"
	b, _ := NewVersionSensor("B", "b")
	b.Latest = "c" // b is itself referenced as a's latest but carries its own latest
	c, _ := NewVersionSensor("C", "c")

	if err := col.AddSensorCommand(NewSensorCommand("echo a", 0, "\t", []*Sensor{a})); err != nil {
		t.Fatal(err)
	}
	if err := col.AddSensorCommand(NewSensorCommand("echo b", 0, "\t", []*Sensor{b})); err != nil {
		t.Fatal(err)
	}
	if err := col.AddSensorCommand(NewSensorCommand("echo c", 0, "\t", []*Sensor{c})); err != nil {
		t.Fatal(err)
	}

	if err := col.Check(); err == nil {
		t.Fatal("expected error: a sensor referenced as latest must not itself carry latest")
	}
}

func TestCheckRejectsStaticSensorAfterDynamic(t *testing.T) {
	col := NewCollection()
	disk, _ := NewNumberSensor("Disk", "disk")
	disk.Dynamic = true
	label, _ := NewTextSensor("Label", "label")

	sc := NewSensorCommand("df -k", 0, "|", []*Sensor{disk, label})
	if err := col.AddSensorCommand(sc); err != nil {
		t.Fatal(err)
	}

	if err := col.Check(); err == nil {
		t.Fatal("expected error: static sensor follows a dynamic sensor")
	}
}

func TestParseAndUpdateSupportsMultipleDynamicSensors(t *testing.T) {
	used, _ := NewNumberSensor("Used", "used")
	used.Dynamic = true
	free, _ := NewNumberSensor("Free", "free")
	free.Dynamic = true

	sc := NewSensorCommand("df -k", 0, "|", []*Sensor{used, free})
	sc.parseAndUpdate(CommandOutput{Stdout: []string{"/|100|900", "/home|200|800"}})

	if len(used.ChildSensors) != 2 || len(free.ChildSensors) != 2 {
		t.Fatalf("expected 2 children per dynamic sensor, got used=%d free=%d", len(used.ChildSensors), len(free.ChildSensors))
	}
	rootUsed := used.ChildSensors[childKey("used", "/")]
	if rootUsed == nil || rootUsed.Value != int64(100) {
		t.Fatalf("expected root used=100, got %#v", rootUsed)
	}
	rootFree := free.ChildSensors[childKey("free", "/")]
	if rootFree == nil || rootFree.Value != int64(900) {
		t.Fatalf("expected root free=900, got %#v", rootFree)
	}
}
