package orchestrator

import (
	"context"

	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/metrics"
)

// ReconcileReport summarizes one reconcile pass.
type ReconcileReport struct {
	Instances int
	Running   int
	Healthy   int
}

// Reconcile refreshes process state for every instance, which drops stale
// PID files, and updates the running/healthy gauges.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileReport, error) {
	list, err := o.ListInstances(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	running := map[string]float64{}
	healthy := map[string]float64{}
	rep := ReconcileReport{Instances: len(list)}
	for _, st := range list {
		svc := string(st.Instance.ServiceType)
		running[svc] += 0
		healthy[svc] += 0
		if st.Status.Running() {
			rep.Running++
			running[svc]++
		}
		if st.Healthy {
			rep.Healthy++
			healthy[svc]++
		} else if st.Status.Running() {
			o.log.Debug("instance running but unhealthy",
				logger.String("id", st.Instance.ID),
				logger.String("name", st.Instance.Name))
		}
	}

	metrics.InstancesRunning.Reset()
	metrics.InstancesHealthy.Reset()
	for svc, n := range running {
		metrics.InstancesRunning.WithLabelValues(svc).Set(n)
		metrics.InstancesHealthy.WithLabelValues(svc).Set(healthy[svc])
	}
	return rep, nil
}
