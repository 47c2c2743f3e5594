package engine

import (
	"log"
	"time"

	"missiond/config"
	"missiond/dispatch"
	"missiond/flowcore"
	"missiond/messaging"
	"missiond/mission"
	"missiond/robotstate"
	"missiond/store"
)

type LogFunc func(format string, args ...any)

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	Flowcore   *flowcore.Client
	Tracker    *flowcore.Tracker
	RobotState *robotstate.Manager
	MsgClient  *messaging.Client
	LogFunc    LogFunc
}

// Engine owns the mission pipeline: the worker pool, the vendor
// client and tracker, the event bus, and the adapters that fan
// lifecycle events out to the outbox and the robot state cache.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	fc         *flowcore.Client
	tracker    *flowcore.Tracker
	robotState *robotstate.Manager
	msgClient  *messaging.Client
	pool       *dispatch.Pool
	executor   *dispatch.Executor
	Events     *EventBus
	logFn      LogFunc
	stopChan   chan struct{}

	fleetConnected bool
	msgConnected   bool
}

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		fc:         c.Flowcore,
		tracker:    c.Tracker,
		robotState: c.RobotState,
		msgClient:  c.MsgClient,
		Events:     NewEventBus(),
		logFn:      logFn,
		stopChan:   make(chan struct{}),
	}
}

func (e *Engine) Start() error {
	translator := flowcore.NewTranslator(e.cfg.Missions.DefaultPriority)
	builder := flowcore.NewTreeBuilder(e.fc, e.tracker, e.cfg.Missions.Namekey, e.cfg.Flowcore.PollInterval)

	e.pool = dispatch.NewPool(dispatch.Config{
		DB:         e.db,
		Translator: translator,
		Builder:    builder,
		Emitter:    &treeEmitter{bus: e.Events},
	})
	e.executor = dispatch.NewExecutor(e.pool)

	e.wireEventHandlers()

	if err := e.pool.Start(); err != nil {
		return err
	}

	e.checkConnectionStatus()
	go e.connectionHealthLoop()

	e.logFn("engine: started (%d live missions)", e.pool.ActiveCount())
	return nil
}

func (e *Engine) Stop() {
	select {
	case e.stopChan <- struct{}{}:
	default:
	}
	e.pool.Stop()
	e.logFn("engine: stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                   { return e.db }
func (e *Engine) AppConfig() *config.Config       { return e.cfg }
func (e *Engine) ConfigPath() string              { return e.configPath }
func (e *Engine) Executor() *dispatch.Executor    { return e.executor }
func (e *Engine) Pool() *dispatch.Pool            { return e.pool }
func (e *Engine) Flowcore() *flowcore.Client      { return e.fc }
func (e *Engine) Tracker() *flowcore.Tracker      { return e.tracker }
func (e *Engine) RobotState() *robotstate.Manager { return e.robotState }
func (e *Engine) MsgClient() *messaging.Client    { return e.msgClient }

// SubmitMission runs a mission through the executor and announces it.
func (e *Engine) SubmitMission(req *dispatch.ExecuteRequest) (string, error) {
	id, err := e.executor.ExecuteMission(req)
	if err != nil {
		return "", err
	}
	e.Events.Emit(EventMissionSubmitted, MissionEvent{
		MissionID: id,
		RobotID:   req.RobotID,
		Status:    mission.StatusCreated,
	})
	return id, nil
}

// CancelMission aborts a mission through the executor.
func (e *Engine) CancelMission(missionID string) error {
	return e.executor.CancelMission(missionID)
}

// UpdateMission pauses or resumes a mission through the executor.
func (e *Engine) UpdateMission(missionID, update string) error {
	if err := e.executor.UpdateMission(missionID, update); err != nil {
		return err
	}
	if update == dispatch.UpdateResume {
		robotID := ""
		if state, err := e.executor.GetMission(missionID); err == nil {
			robotID = state.RobotID
		}
		e.Events.Emit(EventMissionResumed, MissionEvent{
			MissionID: missionID,
			RobotID:   robotID,
			Status:    mission.StatusExecuting,
		})
	}
	return nil
}

func (e *Engine) checkConnectionStatus() {
	// Fleet manager
	if err := e.fc.Ping(); err == nil {
		if !e.fleetConnected {
			e.fleetConnected = true
			e.Events.Emit(EventFleetConnected, ConnectionEvent{Detail: "flowcore connected"})
		}
	} else {
		if e.fleetConnected {
			e.fleetConnected = false
			e.Events.Emit(EventFleetDisconnected, ConnectionEvent{Detail: err.Error()})
		}
	}

	// Messaging
	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(EventMessagingConnected, ConnectionEvent{Detail: "messaging connected"})
		}
	} else {
		if e.msgConnected {
			e.msgConnected = false
			e.Events.Emit(EventMessagingDisconnected, ConnectionEvent{Detail: "messaging disconnected"})
		}
	}
}

func (e *Engine) connectionHealthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}

// ReconfigureFlowcore applies fleet manager config changes live.
func (e *Engine) ReconfigureFlowcore() {
	e.fc.Reconfigure(e.cfg.Flowcore.BaseURL, e.cfg.Flowcore.APIKey, e.cfg.Flowcore.Timeout)
	e.logFn("engine: flowcore reconfigured (%s)", e.cfg.Flowcore.BaseURL)
	e.checkConnectionStatus()
}
