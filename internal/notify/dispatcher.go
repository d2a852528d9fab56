// Package notify delivers the reservation-created hand-off over email and
// Slack, selected per tenant via NotificationSettings.
package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lexiqai/callbridge/internal/observability"
	"github.com/lexiqai/callbridge/internal/tenantconfig"
)

// Dispatcher implements reservation.Notifier. Either transport may be nil,
// in which case that channel is skipped.
type Dispatcher struct {
	email *EmailSender
	slack *SlackSender
}

// NewDispatcher builds a Dispatcher. Pass nil for a transport that has no
// credentials configured.
func NewDispatcher(email *EmailSender, slack *SlackSender) *Dispatcher {
	return &Dispatcher{email: email, slack: slack}
}

// NotifyReservationCreated fans out to whichever transports the tenant has
// configured. Called from a goroutine by the Finalizer; errors are logged,
// never returned, since the reservation itself is already persisted.
func (d *Dispatcher) NotifyReservationCreated(tenantID, reservationID string, answers map[string]interface{}, fields []tenantconfig.Field, settings tenantconfig.NotificationSettings) {
	summary := summarize(reservationID, answers, fields)
	log := observability.GetLogger()

	if d.email != nil && settings.Email != "" {
		subject := fmt.Sprintf("New reservation - %s", reservationID)
		if err := d.email.Send(settings.Email, subject, summary); err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Str("reservation_id", reservationID).Msg("email notification failed")
		}
	}

	if d.slack != nil {
		if err := d.slack.Send(settings.Slack, summary); err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Str("reservation_id", reservationID).Msg("slack notification failed")
		}
	}
}

// summarize renders one line per answer, keyed by the tenant's field label
// rather than the raw answer key, in the tenant's configured display order.
// Answer keys with no matching field (e.g. customer_phone, which is derived
// rather than tenant-configured) fall back to the raw key, appended after
// the labeled fields in sorted order.
func summarize(reservationID string, answers map[string]interface{}, fields []tenantconfig.Field) string {
	sortedFields := make([]tenantconfig.Field, len(fields))
	copy(sortedFields, fields)
	sort.Slice(sortedFields, func(i, j int) bool {
		return sortedFields[i].DisplayOrder < sortedFields[j].DisplayOrder
	})

	labeled := make(map[string]bool, len(sortedFields))

	var b strings.Builder
	fmt.Fprintf(&b, "Reservation %s\n", reservationID)
	for _, field := range sortedFields {
		value, present := answers[field.Key]
		if !present {
			continue
		}
		labeled[field.Key] = true
		fmt.Fprintf(&b, "%s: %v\n", field.Label, value)
	}

	var unlabeled []string
	for k := range answers {
		if !labeled[k] {
			unlabeled = append(unlabeled, k)
		}
	}
	sort.Strings(unlabeled)
	for _, k := range unlabeled {
		fmt.Fprintf(&b, "%s: %v\n", k, answers[k])
	}

	return b.String()
}
