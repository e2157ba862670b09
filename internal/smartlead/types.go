package smartlead

// Campaign is one entry of GET /campaigns.
type Campaign struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Enrollment adds one lead to a campaign.
type Enrollment struct {
	CampaignID   string            `validate:"required,numeric"`
	Email        string            `validate:"required,email"`
	FirstName    string            `validate:"omitempty,max=200"`
	LastName     string            `validate:"omitempty,max=200"`
	Company      string            `validate:"omitempty,max=200"`
	CustomFields map[string]string `validate:"omitempty,max=20"`
}

type leadEntry struct {
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name,omitempty"`
	LastName     string            `json:"last_name,omitempty"`
	CompanyName  string            `json:"company_name,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

type uploadSettings struct {
	IgnoreGlobalBlockList               bool `json:"ignore_global_block_list"`
	IgnoreUnsubscribeList               bool `json:"ignore_unsubscribe_list"`
	IgnoreDuplicateLeadsInOtherCampaign bool `json:"ignore_duplicate_leads_in_other_campaign"`
}

type uploadRequest struct {
	LeadList []leadEntry    `json:"lead_list"`
	Settings uploadSettings `json:"settings"`
}

// Result is the provider's answer to an upload.
type Result struct {
	OK                     bool   `json:"ok"`
	UploadCount            int    `json:"upload_count"`
	TotalLeads             int    `json:"total_leads"`
	AlreadyAddedToCampaign int    `json:"already_added_to_campaign"`
	DuplicateCount         int    `json:"duplicate_count"`
	InvalidEmailCount      int    `json:"invalid_email_count"`
	UnsubscribedLeads      any    `json:"unsubscribed_leads,omitempty"`
	Error                  string `json:"error,omitempty"`
}

// Accepted reports whether the lead is now in the campaign, either by this
// upload or an earlier one.
func (r Result) Accepted() bool {
	return r.OK && r.InvalidEmailCount == 0 && (r.UploadCount > 0 || r.AlreadyAddedToCampaign > 0)
}
