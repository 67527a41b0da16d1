// Package emergency implements the step-sequenced runbook executor for
// system-level incidents. Procedures come from a static catalog; steps run
// strictly in order and drive the delivery queue and the alert channels.
package emergency

import (
	"time"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
)

// Catalog is the static procedure lookup.
type Catalog map[string]domain.EmergencyProcedure

// DefaultCatalog returns the built-in procedures, one per incident type.
func DefaultCatalog() Catalog {
	procedures := []domain.EmergencyProcedure{
		{
			ID:           "mass-alert-storm",
			IncidentType: domain.IncidentTypeMassAlertStorm,
			Severity:     domain.ProcedureSeverityMajor,
			Steps: []string{
				"notify on-call operators",
				"broadcast system advisory to active sessions",
				"throttle non-critical alert fan-out",
				"confirm alert volume back to baseline",
			},
			RequiresApproval:  false,
			EstimatedDuration: 10 * time.Minute,
		},
		{
			ID:           "degraded-service",
			IncidentType: domain.IncidentTypeDegradedService,
			Severity:     domain.ProcedureSeverityMajor,
			Steps: []string{
				"notify on-call operators",
				"switch sessions to polling fallback",
				"broadcast system advisory to active sessions",
				"monitor recovery",
			},
			RequiresApproval:  false,
			EstimatedDuration: 30 * time.Minute,
		},
		{
			ID:           "data-exposure",
			IncidentType: domain.IncidentTypeDataExposure,
			Severity:     domain.ProcedureSeverityCritical,
			Steps: []string{
				"notify on-call operators",
				"page privacy officer",
				"broadcast system advisory to active sessions",
				"compile exposure audit trail",
			},
			RequiresApproval:  true,
			EstimatedDuration: 2 * time.Hour,
		},
	}

	catalog := make(Catalog, len(procedures))
	for _, p := range procedures {
		catalog[p.ID] = p
	}
	return catalog
}

// Procedures returns every catalog entry.
func (c Catalog) Procedures() []domain.EmergencyProcedure {
	out := make([]domain.EmergencyProcedure, 0, len(c))
	for _, p := range c {
		out = append(out, p)
	}
	return out
}
