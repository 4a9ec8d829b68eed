package model

import (
	"net/url"
	"strconv"
)

// RequestFilter holds the list query fields. Empty fields are not sent.
type RequestFilter struct {
	DateFrom         string        `form:"date_from" json:"date_from,omitempty"`
	DateTo           string        `form:"date_to" json:"date_to,omitempty"`
	NationalityID    string        `form:"nationality_id" json:"nationality_id,omitempty"`
	PatientName      string        `form:"patient_name" json:"patient_name,omitempty"`
	ClinicReceiverID ID            `form:"clinic_receiver_id" json:"clinic_receiver_id,omitempty"`
	ClinicProviderID ID            `form:"clinic_provider_id" json:"clinic_provider_id,omitempty"`
	ReceiverName     string        `form:"receiver_name" json:"receiver_name,omitempty"`
	ProviderName     string        `form:"provider_name" json:"provider_name,omitempty"`
	OrganizationID   ID            `form:"organization_id" json:"organization_id,omitempty"`
	Status           RequestStatus `form:"status" json:"status,omitempty" binding:"omitempty,request_status"`
}

// ListQuery is a filter plus paging.
type ListQuery struct {
	Filter   RequestFilter `json:"filter"`
	Page     int           `json:"page"`
	PageSize int           `json:"limit"`
}

func (q ListQuery) Values() url.Values {
	v := url.Values{}
	f := q.Filter
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("date_from", f.DateFrom)
	set("date_to", f.DateTo)
	set("nationality_id", f.NationalityID)
	set("patient_name", f.PatientName)
	set("clinic_receiver_id", string(f.ClinicReceiverID))
	set("clinic_provider_id", string(f.ClinicProviderID))
	set("receiver_name", f.ReceiverName)
	set("provider_name", f.ProviderName)
	set("organization_id", string(f.OrganizationID))
	set("status", string(f.Status))
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("limit", strconv.Itoa(q.PageSize))
	}
	return v
}

type RequestList struct {
	Data       []ClinicRequest `json:"data"`
	Pagination Pagination      `json:"pagination"`
}
