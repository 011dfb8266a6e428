package terminalmgr

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayhost/terminalmgr/internal/metrics"
)

// Reserved action command keys a Manager looks for to implement TurnOff and
// Restart; a catalog that doesn't define them simply can't offer that
// operation (see Manager.CanTurnOff/CanRestart).
const (
	ActionKeyTurnOff = "turn_off"
	ActionKeyRestart = "restart"
)

// Options configures a Manager. Zero value Options is usable; DefaultOptions
// fills in the same values a freshly built Manager would pick on its own.
type Options struct {
	Name    string
	MACAddress string

	CommandTimeout time.Duration
	AllowTurnOff   bool

	DisconnectMode      bool
	DisconnectModeDelay time.Duration

	RequestTimeouts RequestTimeouts

	Collection *Collection
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// DefaultOptions returns the defaults every field falls back to when unset.
func DefaultOptions() Options {
	return Options{
		CommandTimeout:      30 * time.Second,
		DisconnectModeDelay: 5 * time.Second,
		RequestTimeouts:     DefaultRequestTimeouts(),
	}
}

type mailboxRequest struct {
	fn    func() (any, error)
	reply chan mailboxReply
}

type mailboxReply struct {
	val any
	err error
}

// Manager owns one remote host's command catalog, connection lifecycle, and
// state machine. Every mutating operation is serialized through a single
// goroutine (the mailbox), which replaces the re-entrant lock the original
// implementation used: a public method enqueues a closure and blocks for
// its reply, while nested calls made from inside that closure (e.g.
// RunAction polling a sensor command which in turn polls another) run
// in-line on the same goroutine without re-acquiring anything.
type Manager struct {
	name       string
	macAddress string

	commandTimeout time.Duration
	allowTurnOff   bool

	disconnectMode      bool
	disconnectModeDelay time.Duration

	collection *Collection
	state      *State
	terminal   Terminal
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	mailbox chan mailboxRequest
	done    chan struct{}
	closeOnce sync.Once

	disconnectMu    sync.Mutex
	disconnectTimer *time.Timer
}

// New builds a Manager bound to terminal and starts its mailbox goroutine.
func New(terminal Terminal, opts Options) *Manager {
	defaults := DefaultOptions()
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaults.CommandTimeout
	}
	if opts.DisconnectModeDelay <= 0 {
		opts.DisconnectModeDelay = defaults.DisconnectModeDelay
	}
	if opts.RequestTimeouts == (RequestTimeouts{}) {
		opts.RequestTimeouts = defaults.RequestTimeouts
	}
	if opts.Collection == nil {
		opts.Collection = NewCollection()
	}

	logger := opts.Logger
	if reflect.DeepEqual(logger, zerolog.Logger{}) {
		// zero-value zerolog.Logger has a nil writer; fall back to a
		// disabled logger rather than panicking on first use.
		logger = zerolog.Nop()
	}

	m := &Manager{
		name:                opts.Name,
		macAddress:          opts.MACAddress,
		commandTimeout:      opts.CommandTimeout,
		allowTurnOff:        opts.AllowTurnOff,
		disconnectMode:      opts.DisconnectMode,
		disconnectModeDelay: opts.DisconnectModeDelay,
		collection:          opts.Collection,
		state:               NewState(opts.RequestTimeouts),
		terminal:            terminal,
		logger:              logger,
		metrics:             opts.Metrics,
		mailbox:             make(chan mailboxRequest),
		done:                make(chan struct{}),
	}

	go m.run()
	return m
}

func (m *Manager) run() {
	for {
		select {
		case req := <-m.mailbox:
			v, err := req.fn()
			req.reply <- mailboxReply{val: v, err: err}
		case <-m.done:
			return
		}
	}
}

// Close stops the mailbox goroutine. Calls already in flight complete;
// calls submitted afterward return a "manager closed" error at once (the
// mailbox channel itself is never closed).
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Manager) submit(ctx context.Context, fn func() (any, error)) (any, error) {
	reply := make(chan mailboxReply, 1)
	select {
	case m.mailbox <- mailboxRequest{fn: fn, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, fmt.Errorf("manager closed")
	}
	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State exposes the manager's state machine for read-only inspection
// (status endpoints, tests). Mutating it directly bypasses the mailbox and
// must not be done outside this package.
func (m *Manager) State() *State { return m.state }

// Collection exposes the manager's catalog for read-only inspection.
func (m *Manager) Collection() *Collection { return m.collection }

func (m *Manager) Name() string { return m.name }

// CanTurnOff reports whether the catalog defines a turn_off action and the
// manager is configured to allow using it.
func (m *Manager) CanTurnOff() bool {
	_, ok := m.collection.ActionCommand(ActionKeyTurnOff)
	return ok && m.allowTurnOff
}

// CanRestart reports whether the catalog defines a restart action.
func (m *Manager) CanRestart() bool {
	_, ok := m.collection.ActionCommand(ActionKeyRestart)
	return ok
}

// --- public API: every method submits a closure to the mailbox goroutine ---

func (m *Manager) Update(ctx context.Context, force, once, test bool) error {
	_, err := m.submit(ctx, func() (any, error) { return nil, m.updateInternal(ctx, force, once, test) })
	return err
}

func (m *Manager) Ping(ctx context.Context) error {
	_, err := m.submit(ctx, func() (any, error) { return nil, m.pingInternal(ctx) })
	return err
}

func (m *Manager) Connect(ctx context.Context) error {
	_, err := m.submit(ctx, func() (any, error) { return nil, m.connectInternal(ctx) })
	return err
}

func (m *Manager) Disconnect(ctx context.Context) error {
	_, err := m.submit(ctx, func() (any, error) { return nil, m.disconnectInternal(ctx) })
	return err
}

func (m *Manager) Execute(ctx context.Context, command string, timeout time.Duration) (CommandOutput, error) {
	v, err := m.submit(ctx, func() (any, error) { return m.executeInternal(ctx, command, timeout) })
	if err != nil {
		return CommandOutput{}, err
	}
	return v.(CommandOutput), nil
}

func (m *Manager) RunAction(ctx context.Context, key string, variables map[string]string) (CommandOutput, error) {
	v, err := m.submit(ctx, func() (any, error) { return m.runActionInternal(ctx, key, variables) })
	if err != nil {
		return CommandOutput{}, err
	}
	return v.(CommandOutput), nil
}

type pollResult struct {
	sensors []*Sensor
	errs    []error
}

func (m *Manager) PollSensor(ctx context.Context, key string) (*Sensor, error) {
	sensors, _, err := m.PollSensors(ctx, []string{key}, true)
	if len(sensors) > 0 {
		return sensors[0], err
	}
	return nil, err
}

func (m *Manager) PollSensors(ctx context.Context, keys []string, raiseErrors bool) ([]*Sensor, []error, error) {
	v, err := m.submit(ctx, func() (any, error) {
		sensors, errs, ierr := m.pollSensorsInternal(ctx, keys, raiseErrors)
		return pollResult{sensors: sensors, errs: errs}, ierr
	})
	res, _ := v.(pollResult)
	return res.sensors, res.errs, err
}

func (m *Manager) SetSensorValue(ctx context.Context, key string, value any) (*Sensor, error) {
	sensors, _, err := m.SetSensorValues(ctx, []string{key}, []any{value}, true)
	if len(sensors) > 0 {
		return sensors[0], err
	}
	return nil, err
}

func (m *Manager) SetSensorValues(ctx context.Context, keys []string, values []any, raiseErrors bool) ([]*Sensor, []error, error) {
	v, err := m.submit(ctx, func() (any, error) {
		sensors, errs, ierr := m.setSensorValuesInternal(ctx, keys, values, raiseErrors)
		return pollResult{sensors: sensors, errs: errs}, ierr
	})
	res, _ := v.(pollResult)
	return res.sensors, res.errs, err
}

func (m *Manager) TurnOff(ctx context.Context) error {
	_, err := m.submit(ctx, func() (any, error) { return nil, m.turnOffInternal(ctx) })
	return err
}

func (m *Manager) Restart(ctx context.Context) error {
	_, err := m.submit(ctx, func() (any, error) { return nil, m.restartInternal(ctx) })
	return err
}

func (m *Manager) Reset(ctx context.Context) error {
	_, err := m.submit(ctx, func() (any, error) { m.resetInternal(ctx); return nil, nil })
	return err
}

// --- internal: only ever called from the mailbox goroutine ---

func (m *Manager) pingInternal(ctx context.Context) error {
	err := m.terminal.Ping(ctx)
	if err != nil {
		m.resetInternal(ctx)
		m.state.PingError()
		m.metrics.RecordConnectAttempt(m.name, "offline")
		var offline *OfflineError
		if errors.As(err, &offline) {
			return err
		}
		return &OfflineError{Cause: err}
	}
	m.state.PingSuccess()
	return nil
}

func (m *Manager) connectInternal(ctx context.Context) error {
	if m.state.Connected() {
		return nil
	}
	if !m.state.Online() {
		return &ConnectError{Msg: "host is offline"}
	}
	if m.state.ShuttingDown() {
		return &ConnectError{Msg: "shutting down"}
	}
	if m.state.ErrorFlag() {
		return &ConnectError{Msg: "manager is in an error state"}
	}

	err := m.terminal.Connect(ctx)
	if err != nil {
		m.resetInternal(ctx)
		m.state.ConnectError()
		m.metrics.RecordConnectAttempt(m.name, "error")
		return err
	}
	m.state.ConnectSuccess()
	m.metrics.RecordConnectAttempt(m.name, "success")
	return nil
}

func (m *Manager) disconnectInternal(ctx context.Context) error {
	if m.state.Connected() {
		if err := m.terminal.Disconnect(ctx); err != nil {
			m.logger.Warn().Err(err).Str("manager", m.name).Msg("disconnect reported an error")
		}
	}
	m.state.Disconnect()
	return nil
}

func (m *Manager) executeInternal(ctx context.Context, command string, timeout time.Duration) (CommandOutput, error) {
	if m.disconnectMode {
		if err := m.connectInternal(ctx); err != nil {
			return CommandOutput{}, err
		}
	}
	if !m.state.Connected() {
		return CommandOutput{}, &ExecutionError{Msg: "not connected"}
	}

	if timeout <= 0 {
		timeout = m.commandTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := m.terminal.Execute(execCtx, command, timeout)
	m.metrics.RecordCommand(m.name, resultLabel(err), time.Since(start))

	if err != nil {
		m.resetInternal(ctx)
		m.state.ExecuteError()
		if errors.Is(err, context.DeadlineExceeded) {
			return CommandOutput{}, &ExecutionError{Msg: "timed out", Cause: err}
		}
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			return CommandOutput{}, err
		}
		return CommandOutput{}, &ExecutionError{Msg: "command failed", Cause: err}
	}

	if m.disconnectMode {
		m.scheduleDisconnect()
	}
	return out, nil
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Manager) scheduleDisconnect() {
	m.disconnectMu.Lock()
	defer m.disconnectMu.Unlock()
	if m.disconnectTimer != nil {
		m.disconnectTimer.Stop()
	}
	m.disconnectTimer = time.AfterFunc(m.disconnectModeDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.commandTimeout)
		defer cancel()
		_ = m.Disconnect(ctx)
	})
}

func (m *Manager) executeActionCommand(ctx context.Context, ac *ActionCommand, variables map[string]string) (CommandOutput, error) {
	rendered, err := ac.renderString(ctx, m, variables)
	if err != nil {
		ac.LastError = err
		ac.LastOutput = nil
		return CommandOutput{}, err
	}

	var timeout time.Duration
	if ac.Timeout != nil {
		timeout = *ac.Timeout
	}
	out, err := m.executeInternal(ctx, rendered, timeout)
	if err != nil {
		ac.LastError = err
		ac.LastOutput = nil
		return CommandOutput{}, err
	}
	ac.LastOutput = &out
	ac.LastError = nil
	return out, nil
}

func (m *Manager) executeSensorCommand(ctx context.Context, sc *SensorCommand, variables map[string]string) (CommandOutput, error) {
	rendered, err := sc.renderString(ctx, m, variables)
	if err != nil {
		sc.LastError = err
		sc.LastOutput = nil
		sc.clearSensorValues()
		m.recordSensorPollResult(sc, err)
		return CommandOutput{}, err
	}

	var timeout time.Duration
	if sc.Timeout != nil {
		timeout = *sc.Timeout
	}
	out, err := m.executeInternal(ctx, rendered, timeout)
	if err != nil {
		sc.LastError = err
		sc.LastOutput = nil
		sc.clearSensorValues()
		m.recordSensorPollResult(sc, err)
		return CommandOutput{}, err
	}

	sc.LastOutput = &out
	sc.LastError = nil
	sc.parseAndUpdate(out)
	m.recordSensorPollResult(sc, nil)

	for _, key := range sc.linkedSensorsAll() {
		_ = m.pollSensorInternal(ctx, key)
	}
	return out, nil
}

func (m *Manager) recordSensorPollResult(sc *SensorCommand, err error) {
	if m.metrics == nil {
		return
	}
	for _, sensor := range sc.Sensors {
		if sensor == nil || sensor.Key == PlaceholderSensorKey {
			continue
		}
		m.metrics.RecordSensorPoll(m.name, resultLabel(err))
	}
}

func (m *Manager) pollSensorInternal(ctx context.Context, key string) error {
	sc, ok := m.collection.SensorCommandForSensorKey(key)
	if !ok {
		return &UnknownKeyError{Kind: "sensor", Key: key}
	}
	if sc.ShouldUpdate(time.Now()) {
		sc.lastRun = time.Now()
		_, err := m.executeSensorCommand(ctx, sc, nil)
		return err
	}
	return nil
}

func (m *Manager) pollSensorsInternal(ctx context.Context, keys []string, raiseErrors bool) ([]*Sensor, []error, error) {
	sensors := make([]*Sensor, len(keys))
	owners := make([]*SensorCommand, len(keys))
	for i, key := range keys {
		sensor, ok := m.collection.Sensor(key)
		if !ok {
			return nil, nil, &UnknownKeyError{Kind: "sensor", Key: key}
		}
		sensors[i] = sensor
		owner, _ := m.collection.SensorCommandForSensorKey(key)
		owners[i] = owner
	}

	seen := make(map[*SensorCommand]bool)
	var ordered []*SensorCommand
	for _, owner := range owners {
		if owner == nil || seen[owner] {
			continue
		}
		seen[owner] = true
		ordered = append(ordered, owner)
	}

	errByOwner := make(map[*SensorCommand]error)
	for _, owner := range ordered {
		if owner.ShouldUpdate(time.Now()) {
			owner.lastRun = time.Now()
			if _, err := m.executeSensorCommand(ctx, owner, nil); err != nil {
				errByOwner[owner] = err
			}
		}
	}

	errs := make([]error, len(keys))
	var firstErr error
	for i, owner := range owners {
		if owner == nil {
			continue
		}
		if err, ok := errByOwner[owner]; ok {
			errs[i] = err
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if raiseErrors && firstErr != nil {
		return sensors, errs, firstErr
	}
	return sensors, errs, nil
}

func (m *Manager) setSensorValuesInternal(ctx context.Context, keys []string, values []any, raiseErrors bool) ([]*Sensor, []error, error) {
	if len(keys) != len(values) {
		return nil, nil, fmt.Errorf("keys and values must be the same length")
	}

	sensors, errs, _ := m.pollSensorsInternal(ctx, keys, false)

	for i, sensor := range sensors {
		if errs[i] != nil {
			continue
		}
		if err := m.setSensorInternal(ctx, sensor, values[i]); err != nil {
			errs[i] = err
		}
	}

	// Make each owning command due again so the second poll re-reads the
	// values the control commands just wrote, whatever its interval.
	for _, key := range keys {
		if owner, ok := m.collection.SensorCommandForSensorKey(key); ok {
			owner.lastRun = time.Time{}
			owner.LastOutput = nil
		}
	}

	sensors2, errs2, _ := m.pollSensorsInternal(ctx, keys, false)
	for i := range keys {
		if errs[i] != nil {
			continue
		}
		if errs2[i] != nil {
			errs[i] = errs2[i]
			continue
		}
		sensors[i] = sensors2[i]
		if !valuesEqual(sensors2[i].Value, values[i]) {
			errs[i] = &SensorError{Key: keys[i], Msg: "value was not applied"}
		}
	}

	var firstErr error
	for _, err := range errs {
		if err != nil {
			firstErr = err
			break
		}
	}
	if raiseErrors && firstErr != nil {
		return sensors, errs, firstErr
	}
	return sensors, errs, nil
}

func (m *Manager) setSensorInternal(ctx context.Context, sensor *Sensor, value any) error {
	if err := sensor.ValidateValue(value); err != nil {
		return err
	}
	if !sensor.Controllable() {
		return &SensorError{Key: sensor.Key, Msg: "sensor is not controllable"}
	}
	if valuesEqual(sensor.Value, value) {
		return nil
	}
	cmdKey, ok := sensor.ControlCommandKey(value)
	if !ok {
		return &SensorError{Key: sensor.Key, Msg: "no command configured for this value"}
	}
	id := sensor.ID
	if id == "" {
		id = sensor.Key
	}
	_, err := m.runActionInternal(ctx, cmdKey, map[string]string{"id": id, "value": fmt.Sprint(value)})
	return err
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func (m *Manager) runActionInternal(ctx context.Context, key string, variables map[string]string) (CommandOutput, error) {
	cmd, ok := m.collection.ActionCommand(key)
	if !ok {
		return CommandOutput{}, &UnknownKeyError{Kind: "action", Key: key}
	}
	return m.executeActionCommand(ctx, cmd, variables)
}

func (m *Manager) turnOffInternal(ctx context.Context) error {
	if !m.CanTurnOff() {
		return &ExecutionError{Msg: "turn off is not available"}
	}
	out, err := m.runActionInternal(ctx, ActionKeyTurnOff, nil)
	if err != nil {
		return err
	}
	if out.Code != 0 {
		return &ExecutionError{Msg: fmt.Sprintf("turn off command exited with code %d", out.Code)}
	}
	if err := m.disconnectInternal(ctx); err != nil {
		return err
	}
	m.state.TurnOff()
	return nil
}

func (m *Manager) restartInternal(ctx context.Context) error {
	if !m.CanRestart() {
		return &ExecutionError{Msg: "restart is not available"}
	}
	out, err := m.runActionInternal(ctx, ActionKeyRestart, nil)
	if err != nil {
		return err
	}
	if out.Code != 0 {
		return &ExecutionError{Msg: fmt.Sprintf("restart command exited with code %d", out.Code)}
	}
	m.state.Restart()
	return nil
}

func (m *Manager) resetInternal(ctx context.Context) {
	_ = m.disconnectInternal(ctx)
	for _, ac := range m.collection.ActionCommands() {
		ac.LastOutput = nil
		ac.LastError = nil
	}
	for _, sc := range m.collection.SensorCommands() {
		sc.LastOutput = nil
		sc.LastError = nil
		sc.clearSensorValues()
	}
}

// updateInternal is the periodic poll loop body. force ignores each sensor
// command's Interval; once skips any sensor command that already produced
// output this manager's lifetime; test issues a no-op probe command when
// there is nothing due, to detect a dead connection even on an idle
// catalog.
func (m *Manager) updateInternal(ctx context.Context, force, once, test bool) error {
	m.state.Update()

	now := time.Now()
	var due []*SensorCommand
	for _, sc := range m.collection.SensorCommands() {
		if once && sc.LastOutput != nil {
			continue
		}
		if force || sc.ShouldUpdate(now) {
			due = append(due, sc)
		}
	}

	if test && len(due) == 0 {
		if _, err := m.executeInternal(ctx, "echo terminalmgr-probe", m.commandTimeout); err != nil {
			return err
		}
		return nil
	}

	runBatch := func() error {
		var firstErr error
		for _, sc := range due {
			sc.lastRun = now
			if _, err := m.executeSensorCommand(ctx, sc, nil); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	if m.state.Connected() && !m.disconnectMode {
		wasInError := m.state.ErrorFlag()
		err := runBatch()
		var execErr *ExecutionError
		if err != nil && errors.As(err, &execErr) && !wasInError {
			return err
		}
		return nil
	}

	if err := m.pingInternal(ctx); err != nil {
		return err
	}
	if !m.disconnectMode {
		if err := m.connectInternal(ctx); err != nil {
			return err
		}
	}
	return runBatch()
}
