package session

// ListResponse is the payload served for stream session listings.
type ListResponse struct {
	Active   int        `json:"active"`
	Sessions []*Session `json:"sessions"`
}
