package ecs

// System is a behavior executed by a Schedule. User systems implement this
// interface as a struct; exported Query, Res and ResMut fields are
// initialized at registration and define the system's declared data access.
// State fields persist between frames.
//
// A system must only touch data it declares. The scheduler's concurrency
// safety rests entirely on declared access sets being honest; undeclared
// access from a parallel stage is a data race the scheduler cannot see.
type System interface {
	Execute(frame *UpdateFrame)
}

// UpdateFrame is the per-run context handed to a system.
type UpdateFrame struct {
	DeltaTime float64
	Commands  *Commands
	Storage   *Storage

	// LastRun and ThisRun bound this system's change-detection window.
	LastRun Tick
	ThisRun Tick
}

// systemParam is implemented by field types the Schedule initializes at
// registration (Query, Res, ResMut).
type systemParam interface {
	initParam(*Storage)
}

// accessContributor folds a param's declared access into the system's set.
type accessContributor interface {
	addAccess(*systemAccess)
}

// tickedParam receives the system's change-detection window before each run.
type tickedParam interface {
	setTicks(lastRun, thisRun Tick)
}
