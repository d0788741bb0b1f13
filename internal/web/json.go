package web

// HealthJSON is the liveness response.
type HealthJSON struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
