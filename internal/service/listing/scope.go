package listing

import (
	"fmt"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

// ScopeFilter constrains a filter to the caller's organization on at least
// one side. The clinic API remains the authority; this keeps the browser
// from asking for other tenants' rows in the first place.
func ScopeFilter(f model.RequestFilter, ownOrg model.ID) (model.RequestFilter, error) {
	if ownOrg.IsZero() {
		return f, errors.Unauthorized(fmt.Errorf("organization not resolved"))
	}
	if !f.OrganizationID.IsZero() && f.OrganizationID != ownOrg {
		return f, errors.Validation("organization_id must be the session organization")
	}

	if f.ClinicReceiverID == ownOrg || f.ClinicProviderID == ownOrg || f.OrganizationID == ownOrg {
		return f, nil
	}

	switch {
	case f.ClinicReceiverID.IsZero() && f.ClinicProviderID.IsZero():
		f.OrganizationID = ownOrg
	case f.ClinicReceiverID.IsZero():
		f.ClinicReceiverID = ownOrg
	case f.ClinicProviderID.IsZero():
		f.ClinicProviderID = ownOrg
	default:
		return f, errors.Validation("filter must include the session organization as receiver or provider")
	}
	return f, nil
}

// Sanitize drops rows the scoped query should never have returned: rows
// not involving ownOrg and rows whose status differs from a requested one.
func Sanitize(rows []model.ClinicRequest, f model.RequestFilter, ownOrg model.ID) ([]model.ClinicRequest, int) {
	kept := rows[:0:0]
	dropped := 0
	for _, r := range rows {
		if !r.Involves(ownOrg) {
			dropped++
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			dropped++
			continue
		}
		if !f.ClinicReceiverID.IsZero() && r.ReceiverID() != f.ClinicReceiverID {
			dropped++
			continue
		}
		if !f.ClinicProviderID.IsZero() && r.ProviderID() != f.ClinicProviderID {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}
