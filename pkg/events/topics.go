package events

import "time"

const (
	TopicRunEvents = "otelrun.events"
	TopicUI        = "otelrun.ui.msgs"
)

const (
	TypeStateChanged   = "orchestrator.state.changed"
	TypeProbeAttempt   = "probe.attempt"
	TypeProbeReady     = "probe.ready"
	TypeStackEnsure    = "stack.ensure"
	TypeServiceLaunch  = "service.launched"
	TypeServiceExited  = "service.exited"
	TypeShutdownResult = "shutdown.result"
	TypeRunSnapshot    = "run.snapshot"
)

type StateChanged struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

type ProbeAttempt struct {
	Target    string `json:"target"`
	Attempt   int    `json:"attempt"`
	Max       int    `json:"max"`
	Reachable bool   `json:"reachable"`
}

type ProbeReady struct {
	Target string `json:"target"`
}

type StackEnsure struct {
	AlreadyRunning bool `json:"already_running"`
	Started        bool `json:"started"`
}

type ServiceLaunched struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
}

type ServiceExited struct {
	Name   string `json:"name"`
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

type ShutdownResult struct {
	StackStopped     bool `json:"stack_stopped"`
	TerminateTimeout bool `json:"terminate_timeout"`
}
