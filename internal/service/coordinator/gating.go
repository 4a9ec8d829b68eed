package coordinator

import (
	"fmt"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

// AllowedActions lists what the UI may offer the viewer for a request.
// It mirrors the clinic API rules for display only; the API still decides.
func AllowedActions(req *model.ClinicRequest, org model.ID) []model.Action {
	actions := []model.Action{}
	switch req.RoleOf(org) {
	case model.RoleReceiver:
		switch req.Status {
		case model.StatusPending:
			actions = append(actions, model.ActionApprove, model.ActionDecline)
		case model.StatusReadyForExamination:
			actions = append(actions, model.ActionAccession, model.ActionReport)
		case model.StatusWaitingForResult:
			actions = append(actions, model.ActionAccession)
		}
	case model.RoleProvider:
		switch req.Status {
		case model.StatusPending:
			actions = append(actions, model.ActionUpdate)
		case model.StatusWaitingForPayment:
			actions = append(actions, model.ActionPayment)
		}
		// delete is offered in every status
		actions = append(actions, model.ActionDelete)
	}
	return actions
}

// requirePending guards approve and decline: only the receiver may act and
// only while the request is exactly pending.
func requirePending(req *model.ClinicRequest, org model.ID, action model.Action) error {
	if req.RoleOf(org) != model.RoleReceiver {
		return errors.Precondition(fmt.Sprintf("only the receiver organization can %s request %s", action, req.ID))
	}
	if req.Status != model.StatusPending {
		return errors.Precondition(fmt.Sprintf("request %s is %s; only pending requests can be %s",
			req.ID, req.Status, pastTense(action)))
	}
	return nil
}

func pastTense(a model.Action) string {
	switch a {
	case model.ActionApprove:
		return "approved"
	case model.ActionDecline:
		return "declined"
	}
	return string(a) + "d"
}
