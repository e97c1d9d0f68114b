package domain

// PlanKeyTraces is an optional orchestrator key merged into the metric instruction.
const PlanKeyTraces = "traces"

// WorkPlan maps each specialist to its instruction. An empty instruction
// means the specialist is not invoked.
type WorkPlan map[SpecialistKey]string

// Active returns the specialists with a non-empty instruction, in priority order.
func (p WorkPlan) Active() []SpecialistKey {
	var keys []SpecialistKey
	for _, k := range Specialists {
		if p[k] != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Empty reports whether no specialist has an instruction.
func (p WorkPlan) Empty() bool {
	return len(p.Active()) == 0
}

// WorkerReport is the immutable outcome of one specialist run.
type WorkerReport struct {
	Specialist SpecialistKey `json:"specialist"`
	Status     ReportStatus  `json:"status"`
	Body       string        `json:"body"`
}
