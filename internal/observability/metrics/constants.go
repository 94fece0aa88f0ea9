package metrics

// Operation names shared by the Recorder implementations
const (
	OpPredict   = "predict"
	OpDetect    = "detect"
	OpExport    = "export"
	OpEmbed     = "embed"
	OpClassify  = "classify"
	OpModelLoad = "model_load"

	OpRetrainJob = "retrain_job"
	OpSpeciesFit = "species_fit"
	OpPromote    = "promote"
)

// Status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket layouts
var (
	// fast operations, 1ms to ~1s
	fastBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	// slow operations, 100ms to ~30min
	slowBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800}
)
