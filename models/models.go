package models

// FeatureBundle holds the acoustic descriptors extracted once per request.
type FeatureBundle struct {
	BPM         float64   `json:"bpm"`
	Key         string    `json:"key"`
	Scale       string    `json:"scale"`
	KeyStrength float64   `json:"key_strength"`
	HPCP        []float64 `json:"hpcp"`
}

// ClassificationResult is the outcome of ethnic/cultural style scoring.
// AllScores is keyed by raw label (underscores kept); Primary is display-formatted.
type ClassificationResult struct {
	Primary    string             `json:"primary"`
	Confidence float64            `json:"confidence"`
	AllScores  map[string]float64 `json:"all_scores"`
}

type Tempo struct {
	BPM float64 `json:"bpm"`
}

type Tonal struct {
	Key          string    `json:"key"`
	Scale        string    `json:"scale"`
	KeyStrength  float64   `json:"key_strength"`
	HPCPFeatures []float64 `json:"hpcp_features"`
}

// AnalysisResponse is the success envelope returned by /analyze.
type AnalysisResponse struct {
	Success     bool                 `json:"success"`
	Tempo       Tempo                `json:"tempo"`
	Tonal       Tonal                `json:"tonal"`
	Instruments []string             `json:"instruments"`
	EthnicGroup ClassificationResult `json:"ethnic_group"`
	Filename    string               `json:"filename"`
}

// ErrorResponse is the failure envelope shared by every transport.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// SocketAnalyzeRequest is the payload of the socket "analyze" event.
type SocketAnalyzeRequest struct {
	Filename string `json:"filename"`
	Audio    string `json:"audio"`
}

// NewAnalysisResponse assembles the success envelope. Nil slices and maps are
// replaced with empty ones so they encode as [] and {}.
func NewAnalysisResponse(filename string, features FeatureBundle, instruments []string, ethnic ClassificationResult) *AnalysisResponse {
	hpcp := features.HPCP
	if hpcp == nil {
		hpcp = []float64{}
	}
	if instruments == nil {
		instruments = []string{}
	}
	if ethnic.AllScores == nil {
		ethnic.AllScores = map[string]float64{}
	}

	return &AnalysisResponse{
		Success: true,
		Tempo:   Tempo{BPM: features.BPM},
		Tonal: Tonal{
			Key:          features.Key,
			Scale:        features.Scale,
			KeyStrength:  features.KeyStrength,
			HPCPFeatures: hpcp,
		},
		Instruments: instruments,
		EthnicGroup: ethnic,
		Filename:    filename,
	}
}
