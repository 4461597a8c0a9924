package registrar

// FeedResponse models the registrar's confirmed hand-off feed.
type FeedResponse struct {
	Code int `json:"code"`
	Data struct {
		Page     int        `json:"page"`
		PageSize int        `json:"pageSize"`
		Total    int        `json:"total"`
		Items    []FeedItem `json:"items"`
	} `json:"data"`
}

// FeedItem is one hand-off the registrar has seen go through: the offerer
// dropped and the requester registered.
type FeedItem struct {
	MatchID     string `json:"matchId"`
	CRN         string `json:"crn"`
	ConfirmedAt string `json:"confirmedAt"` // RFC 3339
}
