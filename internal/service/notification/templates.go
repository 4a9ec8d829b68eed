package notification

import (
	"fmt"

	"github.com/jwalitptl/clinic-requests/internal/model"
)

var actionTemplates = map[model.Action]string{
	model.ActionCreate:    "A new imaging request #%s has been submitted to your organization.",
	model.ActionUpdate:    "Imaging request #%s has been updated.",
	model.ActionAccession: "An accession number has been added to request #%s.",
	model.ActionPayment:   "A payment has been processed for request #%s.",
	model.ActionDelete:    "Imaging request #%s has been deleted.",
}

var statusTemplates = map[model.RequestStatus]string{
	model.StatusWaitingForPayment:   "Your request #%s has been approved and is waiting for payment.",
	model.StatusRejected:            "Your request #%s has been declined.",
	model.StatusReadyForExamination: "Request #%s is ready for examination.",
	model.StatusWaitingForResult:    "The report for request #%s has been uploaded.",
	model.StatusFinished:            "Request #%s is finished and its report is available.",
}

// Render builds the human readable message for an event. Status transitions
// take precedence over the generic action text.
func Render(ev model.LifecycleEvent) string {
	tmpl, ok := statusTemplates[ev.NewStatus]
	if !ok {
		tmpl, ok = actionTemplates[ev.Action]
	}
	if !ok {
		tmpl = "Imaging request #%s has changed."
	}
	msg := fmt.Sprintf(tmpl, ev.RequestID)
	if ev.Action == model.ActionPayment && ev.PaymentType != "" {
		msg = fmt.Sprintf("%s Payment type: %s.", msg, ev.PaymentType)
	}
	return msg
}

// Build turns an event into the push payload addressed to the counterpart.
func Build(ev model.LifecycleEvent) model.PushNotification {
	return model.PushNotification{
		OrganizationID: ev.CounterpartOrganizationID,
		Message:        Render(ev),
		UserType:       ev.ActorType,
		UserName:       ev.ActorName,
		RequestID:      ev.RequestID,
	}
}
