// Package sim provides the discrete-time simulation kernel.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - object.go: Base, the lifecycle every simulated object shares (start, pause,
//     destroy, tick cadence)
//   - independent.go / dependent.go: ownership. Agents and environments own states,
//     actions and effects, which pause and die with them
//   - orchestrator.go: the clock and the tick loop
//
// # Roles
//
// Every object has exactly one Role. The orchestrator ticks roles in TickOrder:
// environments, events, effects, agents, actions, states, metrics. Within a role,
// objects are visited in round-robin order so no object is always first.
//
// Concrete types embed one role base (AgentBase, EnvironmentBase, StateBase,
// ActionBase, EffectBase, EventBase, MetricBase) and call its Init method from
// their constructor. Behaviour is supplied by implementing optional hook interfaces:
// Updater, Actor, Applier, StartGate, Calculator, Requirer, BeforeStarter and
// friends.
//
// # Persistence
//
// EncodeRegistry and RestoreRegistry convert a registry to and from a
// RegistryImage. Concrete types register a factory per subtype in a Catalog so the
// loader can rebuild them. The snapshot sub-package writes images to disk.
package sim
