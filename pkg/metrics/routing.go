package metrics

// Standard label keys shared across routing-plane instruments. Components
// are free to add their own keys but should reuse these where the concept
// applies so dashboards and alerts built against one component's metrics
// stay meaningful for another's.
const (
	LabelTenant    = "tenant_id"
	LabelModel     = "model"
	LabelProvider  = "provider"
	LabelComponent = "component"
)

// RoutingMetrics bundles the instruments the admission/dispatch pipeline
// records against on every request, mirroring the Rate/Errors/Duration
// pattern the rest of this codebase's tracing layer follows.
type RoutingMetrics struct {
	RequestsTotal   *Counter
	RejectionsTotal *Counter
	RouteDuration   *Histogram
	ActiveRequests  *Gauge
}

// NewRoutingMetrics creates the standard routing-plane instrument set on
// the given registry. Safe to call more than once against the same
// registry; instrument creation is idempotent by name.
func NewRoutingMetrics(r *Registry) (*RoutingMetrics, error) {
	requests, err := r.Counter("atprouter.requests.total", "Total number of inference requests admitted")
	if err != nil {
		return nil, err
	}
	rejections, err := r.Counter("atprouter.rejections.total", "Total number of requests rejected by admission control")
	if err != nil {
		return nil, err
	}
	duration, err := r.Histogram(
		"atprouter.route.duration",
		"End-to-end routing decision duration",
		"s",
		[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	)
	if err != nil {
		return nil, err
	}
	active, err := r.Gauge("atprouter.requests.active", "Number of requests currently in the dispatch pipeline")
	if err != nil {
		return nil, err
	}
	return &RoutingMetrics{
		RequestsTotal:   requests,
		RejectionsTotal: rejections,
		RouteDuration:   duration,
		ActiveRequests:  active,
	}, nil
}
