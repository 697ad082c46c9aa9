package db

import "time"

// Detection is one audit-trail entry: a subject scored and judged.
type Detection struct {
	ID           int64     `json:"id"`
	Domain       string    `json:"domain"`
	URL          string    `json:"url,omitempty"`
	Score        float64   `json:"score"`
	Threshold    float64   `json:"threshold"`
	Verdict      string    `json:"verdict"`
	Reason       string    `json:"reason"`
	ModelVersion int64     `json:"model_version"`
	TopTerms     string    `json:"top_terms,omitempty"`
	DetectedAt   time.Time `json:"detected_at"`
}

// DetectionFilter narrows ListDetections. Zero values mean "no filter".
type DetectionFilter struct {
	From    time.Time
	To      time.Time
	Domain  string
	Verdict string
	Limit   int
	Offset  int
}

// BlockedSite is one row of the enforcement list. Only active rows are
// written to the hosts file; inactive rows are history.
type BlockedSite struct {
	ID        int64      `json:"id"`
	Domain    string     `json:"domain"`
	Source    string     `json:"source"`
	Score     *float64   `json:"score,omitempty"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

// AllowedSite is a manual allow pin. Allows always beat the classifier.
type AllowedSite struct {
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// TrafficEntry is one captured proxy exchange, persisted for review.
type TrafficEntry struct {
	ID          int64     `json:"id"`
	Domain      string    `json:"domain"`
	Method      string    `json:"method"`
	Path        string    `json:"path,omitempty"`
	Status      int       `json:"status"`
	RequestSize int64     `json:"request_size"`
	ReplySize   int64     `json:"reply_size"`
	TLS         bool      `json:"tls"`
	CapturedAt  time.Time `json:"captured_at"`
}

// ConnectionEntry is one sampler lifecycle event.
type ConnectionEntry struct {
	ID         int64     `json:"id"`
	Proto      string    `json:"proto"`
	LocalAddr  string    `json:"local_addr"`
	LocalPort  int       `json:"local_port"`
	RemoteAddr string    `json:"remote_addr"`
	RemotePort int       `json:"remote_port"`
	PID        int       `json:"pid,omitempty"`
	Domain     string    `json:"domain,omitempty"`
	Event      string    `json:"event"`
	SeenAt     time.Time `json:"seen_at"`
}

// BandwidthSample is one point of the interface counter history.
type BandwidthSample struct {
	ID        int64     `json:"id"`
	BytesRecv uint64    `json:"bytes_recv"`
	BytesSent uint64    `json:"bytes_sent"`
	SampledAt time.Time `json:"sampled_at"`
}

// Stats is the aggregate view for the dashboard.
type Stats struct {
	TotalDetections int64 `json:"total_detections"`
	BlockVerdicts   int64 `json:"block_verdicts"`
	ObserveVerdicts int64 `json:"observe_verdicts"`
	ActiveBlocked   int64 `json:"active_blocked"`
	AllowedPins     int64 `json:"allowed_pins"`
	TrafficEntries  int64 `json:"traffic_entries"`
}

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	Detections  int64 `json:"detections"`
	Traffic     int64 `json:"traffic"`
	Connections int64 `json:"connections"`
	Bandwidth   int64 `json:"bandwidth"`
}
