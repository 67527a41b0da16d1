package emergency

import (
	"context"
	"fmt"

	"github.com/ccbuildalot23/serenity-sober-pathways-guide-sub000/internal/domain"
)

// Messenger is the outbound text-delivery collaborator.
type Messenger interface {
	Send(ctx context.Context, msg domain.OutboundMessage) (string, error)
}

// Notifier is the realtime alert collaborator.
type Notifier interface {
	SendAlert(ctx context.Context, recipientIDs []string, draft domain.AlertDraft) (domain.Alert, error)
}

// StepResult reports what one step produced. Notifications are identifiers
// of messages or alerts the step sent, appended to the response audit.
type StepResult struct {
	Notifications []string
}

// StepHandler executes one runbook step. Step text without a handler is a
// logged no-op: the catalog is descriptive text paired with best-effort
// handlers.
type StepHandler func(ctx context.Context, resp domain.EmergencyResponse) (StepResult, error)

// StepTable resolves step text to handlers per incident type.
type StepTable map[domain.IncidentType]map[string]StepHandler

// StepsConfig names who operational steps notify.
type StepsConfig struct {
	OperatorAddresses []string
	OperatorUserIDs   []string
	PrivacyAddress    string
}

// NewStepTable builds the handler table bound to its collaborators.
func NewStepTable(config StepsConfig, messenger Messenger, notifier Notifier) StepTable {
	notifyOperators := func(ctx context.Context, resp domain.EmergencyResponse) (StepResult, error) {
		var result StepResult
		for _, addr := range config.OperatorAddresses {
			id, err := messenger.Send(ctx, domain.OutboundMessage{
				To:       addr,
				Body:     fmt.Sprintf("Incident response %s started for procedure %s. Reason: %s", resp.ID, resp.ProcedureID, resp.Metadata["reason"]),
				Category: domain.MessageCategoryCrisis,
				Priority: domain.MessagePriorityCritical,
				OwnerID:  "system",
			})
			if err != nil {
				return result, fmt.Errorf("notify operator: %w", err)
			}
			result.Notifications = append(result.Notifications, "message:"+id)
		}
		return result, nil
	}

	broadcastAdvisory := func(ctx context.Context, resp domain.EmergencyResponse) (StepResult, error) {
		var result StepResult
		if len(config.OperatorUserIDs) == 0 {
			return result, nil
		}
		alert, err := notifier.SendAlert(ctx, config.OperatorUserIDs, domain.AlertDraft{
			Type:       domain.AlertTypeSystem,
			SenderID:   "system",
			SenderName: "Serenity Operations",
			Message:    fmt.Sprintf("Emergency procedure %s is in progress", resp.ProcedureID),
			Urgency:    domain.AlertUrgencyHigh,
		})
		if err != nil {
			return result, fmt.Errorf("broadcast advisory: %w", err)
		}
		result.Notifications = append(result.Notifications, "alert:"+alert.ID)
		return result, nil
	}

	pagePrivacyOfficer := func(ctx context.Context, resp domain.EmergencyResponse) (StepResult, error) {
		var result StepResult
		if config.PrivacyAddress == "" {
			return result, nil
		}
		id, err := messenger.Send(ctx, domain.OutboundMessage{
			To:       config.PrivacyAddress,
			Body:     fmt.Sprintf("Data exposure response %s requires privacy review", resp.ID),
			Category: domain.MessageCategoryCrisis,
			Priority: domain.MessagePriorityCritical,
			OwnerID:  "system",
		})
		if err != nil {
			return result, fmt.Errorf("page privacy officer: %w", err)
		}
		result.Notifications = append(result.Notifications, "message:"+id)
		return result, nil
	}

	return StepTable{
		domain.IncidentTypeMassAlertStorm: {
			"notify on-call operators":                     notifyOperators,
			"broadcast system advisory to active sessions": broadcastAdvisory,
		},
		domain.IncidentTypeDegradedService: {
			"notify on-call operators":                     notifyOperators,
			"broadcast system advisory to active sessions": broadcastAdvisory,
		},
		domain.IncidentTypeDataExposure: {
			"notify on-call operators":                     notifyOperators,
			"page privacy officer":                         pagePrivacyOfficer,
			"broadcast system advisory to active sessions": broadcastAdvisory,
		},
	}
}

// Resolve returns the handler for step text under incidentType, or nil when
// the step is descriptive only.
func (t StepTable) Resolve(incidentType domain.IncidentType, step string) StepHandler {
	handlers, ok := t[incidentType]
	if !ok {
		return nil
	}
	return handlers[step]
}
