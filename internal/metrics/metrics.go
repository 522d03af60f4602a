// Package metrics holds Prometheus collectors for the net-flow services.
package metrics

const namespace = "netflow"

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
