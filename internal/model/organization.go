package model

type Organization struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// UserDetails is the federation user profile returned by /aws/user-details.
// Only the attribution fields are typed.
type UserDetails struct {
	Status  string `json:"status,omitempty"`
	Message struct {
		User struct {
			ID       ID     `json:"id,omitempty"`
			Name     string `json:"name,omitempty"`
			FullName string `json:"fullName,omitempty"`
			Type     string `json:"type,omitempty"`
			UserType string `json:"userType,omitempty"`
		} `json:"user"`
	} `json:"message"`
}

// Name returns the display name used to attribute notifications.
func (u *UserDetails) Name() string {
	if u == nil {
		return ""
	}
	if u.Message.User.Name != "" {
		return u.Message.User.Name
	}
	return u.Message.User.FullName
}

func (u *UserDetails) Type() string {
	if u == nil {
		return ""
	}
	if u.Message.User.Type != "" {
		return u.Message.User.Type
	}
	return u.Message.User.UserType
}

type OrganizationDetails struct {
	Status  string                 `json:"status,omitempty"`
	Message map[string]interface{} `json:"message"`
}

type ModalityRequestType struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Profile bundles the acting user's and organization's federation details.
type Profile struct {
	User         *UserDetails         `json:"user"`
	Organization *OrganizationDetails `json:"organization"`
}
