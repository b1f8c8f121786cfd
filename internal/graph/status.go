package graph

import (
	"fmt"
	"io"
)

// WriteSynapseStatus writes one line per active synapse in handle order.
func (g *Graph) WriteSynapseStatus(w io.Writer) error {
	for _, id := range g.ActiveSynapses() {
		s := &g.synapses[id]
		if _, err := fmt.Fprintf(w,
			"synapse=%d from=%d to=%d weight=%.6f activation_trace=%.6f gradient_trace=%.6f utility=%.6f dropout_utility=%.6f\n",
			s.ID, s.Source, s.Target, s.Weight, s.ActivationTrace, s.GradientTrace, s.UtilityScore, s.DropoutUtility,
		); err != nil {
			return err
		}
	}
	return nil
}
