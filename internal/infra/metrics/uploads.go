package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(uploadsTotal, uploadDuplicatesTotal) }

var uploadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "media_uploads_total",
		Help: "Total number of media upload attempts, labeled by outcome.",
	},
	[]string{"outcome"}, // 'success', 'failed'
)

var uploadDuplicatesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "media_upload_duplicates_total",
		Help: "Total number of upload calls that joined an in-flight upload for the same scene instead of starting a new one.",
	},
)

func IncUpload(outcome string) {
	uploadsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncUploadDuplicate() {
	uploadDuplicatesTotal.Inc()
}
