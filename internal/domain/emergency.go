package domain

import "time"

type IncidentType string

const (
	IncidentTypeMassAlertStorm  IncidentType = "mass_alert_storm"
	IncidentTypeDegradedService IncidentType = "degraded_service"
	IncidentTypeDataExposure    IncidentType = "data_exposure"
)

type ProcedureSeverity string

const (
	ProcedureSeverityMajor    ProcedureSeverity = "major"
	ProcedureSeverityCritical ProcedureSeverity = "critical"
)

// EmergencyProcedure is a static catalog entry describing an ordered runbook
// for one incident type.
type EmergencyProcedure struct {
	ID                string            `json:"id"`
	IncidentType      IncidentType      `json:"incident_type"`
	Severity          ProcedureSeverity `json:"severity"`
	Steps             []string          `json:"steps"`
	RequiresApproval  bool              `json:"requires_approval"`
	EstimatedDuration time.Duration     `json:"estimated_duration"`
}

type ResponseStatus string

const (
	ResponseStatusInitiated  ResponseStatus = "initiated"
	ResponseStatusInProgress ResponseStatus = "in_progress"
	ResponseStatusCompleted  ResponseStatus = "completed"
	ResponseStatusFailed     ResponseStatus = "failed"
)

// ResponseLogEntry is one audit line appended during procedure execution.
type ResponseLogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// EmergencyResponse tracks one triggered incident through its procedure.
// Terminal once completed or failed.
type EmergencyResponse struct {
	ID             string             `json:"id"`
	ProcedureID    string             `json:"procedure_id"`
	StartTime      time.Time          `json:"start_time"`
	Status         ResponseStatus     `json:"status"`
	CompletedSteps int                `json:"completed_steps"`
	Notifications  []string           `json:"notifications"`
	Logs           []ResponseLogEntry `json:"logs"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
}
