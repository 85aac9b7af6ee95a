package api

// GatewayResponse from GET /gateway/index
type GatewayResponse struct {
	URL string `json:"url"`
}

// User from GET /user/me
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	IdentifyNum string `json:"identify_num"`
	Online      bool   `json:"online"`
	Bot         bool   `json:"bot"`
	Status      int    `json:"status"`
}
