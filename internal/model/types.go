package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// NetworkSnapshot is the persisted form of a live pruning graph.
type NetworkSnapshot struct {
	VersionedRecord
	ID                   string    `json:"id"`
	HiddenActivation     string    `json:"hidden_activation"`
	OutputActivation     string    `json:"output_activation"`
	LayerSizes           []int     `json:"layer_sizes"`
	Neurons              []Neuron  `json:"neurons"`
	Synapses             []Synapse `json:"synapses"`
	TotalInitialSynapses int       `json:"total_initial_synapses"`
	MinSynapsesToKeep    int       `json:"min_synapses_to_keep"`
}

type Neuron struct {
	ID              int     `json:"id"`
	Layer           int     `json:"layer"`
	Bias            float64 `json:"bias"`
	Alive           bool    `json:"alive"`
	ActivationTrace float64 `json:"activation_trace"`
	Utility         float64 `json:"utility"`
}

type Synapse struct {
	ID              int     `json:"id"`
	From            int     `json:"from"`
	To              int     `json:"to"`
	Weight          float64 `json:"weight"`
	Enabled         bool    `json:"enabled"`
	ActivationTrace float64 `json:"activation_trace"`
	GradientTrace   float64 `json:"gradient_trace"`
	UtilityScore    float64 `json:"utility_score"`
	DropoutUtility  float64 `json:"dropout_utility"`
}

// PruneEvent records one pruning pass that changed the graph.
type PruneEvent struct {
	Step             int    `json:"step"`
	Strategy         string `json:"strategy"`
	Target           int    `json:"target"`
	Before           int    `json:"before"`
	After            int    `json:"after"`
	Ranked           int    `json:"ranked"`
	Cascaded         int    `json:"cascaded"`
	DeadNeurons      int    `json:"dead_neurons"`
	RemovedSynapseID []int  `json:"removed_synapse_ids"`
}

type StepMetrics struct {
	Step         int     `json:"step"`
	Loss         float64 `json:"loss"`
	RunningError float64 `json:"running_error"`
	// RunningAccuracy is zero for tasks without 0/1 targets.
	RunningAccuracy float64 `json:"running_accuracy,omitempty"`
	ActiveSynapses  int     `json:"active_synapses"`
	LiveNeurons     int     `json:"live_neurons"`
}

type RunSummary struct {
	VersionedRecord
	RunID                string  `json:"run_id"`
	Task                 string  `json:"task"`
	Strategy             string  `json:"strategy"`
	Seed                 int64   `json:"seed"`
	Steps                int     `json:"steps"`
	TotalInitialSynapses int     `json:"total_initial_synapses"`
	FinalActiveSynapses  int     `json:"final_active_synapses"`
	FinalRunningError    float64 `json:"final_running_error"`
	FinalRunningAccuracy float64 `json:"final_running_accuracy,omitempty"`
	PruneEvents          int     `json:"prune_events"`
}
