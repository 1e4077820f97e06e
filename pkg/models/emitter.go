package models

// Role tags an Emitter with the identity it publishes events under. The
// orchestration core never infers this from ambient context — it is a
// constructor-time property of the emitter value, carried explicitly
// through every tool-call site.
type Role string

const (
	RoleWorker     Role = "worker"
	RoleSupervisor Role = "supervisor"
)

// EventPrefix returns the role's event-type prefix ("worker_" / "supervisor_").
func (r Role) EventPrefix() string {
	return string(r) + "_"
}
