package domain

// AnalysisRequest is sent to the log-monitoring service for an affected entity.
type AnalysisRequest struct {
	TicketID         string
	TicketNumber     string
	Title            string
	TicketText       string
	Entity           string
	InitialDiagnosis string
}

// AnalysisFinding is one error the log monitor matched to the entity.
type AnalysisFinding struct {
	Message        string
	ErrorType      string
	Severity       string
	Summary        string
	Recommendation string
}

// AnalysisReport is the log monitor's answer.
type AnalysisReport struct {
	LogsFound int
	Findings  []AnalysisFinding
	Summary   string
}
