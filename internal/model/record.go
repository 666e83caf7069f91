package model

// ProductReview is one customer review served by the reviews dashboard.
type ProductReview struct {
	ID          string  `json:"id"`
	ProductName string  `json:"product_name"`
	Category    string  `json:"category"`
	ReviewText  string  `json:"review_text"`
	Rating      float64 `json:"rating"`
	Date        string  `json:"date"`
}

// MarketNews is one news item served by the news dashboard.
type MarketNews struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Source         string `json:"source"`
	Category       string `json:"category"`
	ContentSummary string `json:"content_summary"`
	Date           string `json:"date"`
}
