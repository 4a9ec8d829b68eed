package model

type Patient struct {
	ID                        ID     `json:"id,omitempty"`
	FullName                  string `json:"full_name"`
	NationalityID             string `json:"nationality_id"`
	Phone                     string `json:"phone,omitempty"`
	WithIVContrast            *bool  `json:"with_iv_contrast,omitempty"`
	HasPreviousOperations     *bool  `json:"has_previous_operations,omitempty"`
	PreviousOperationsDetails string `json:"previous_operations_details,omitempty"`
	ReceivedMedications       *bool  `json:"received_medications,omitempty"`
	MedicationsDetails        string `json:"medications_details,omitempty"`
	ReferralDoctor            string `json:"referral_doctor,omitempty"`
	HasOldStudy               *bool  `json:"has_old_study,omitempty"`
	ComplaintHistory          string `json:"complaint_history,omitempty"`
}
