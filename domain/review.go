package domain

// ShopReview is a customer review. Its store identity is (ReviewID, ReviewTitle).
type ShopReview struct {
	ReviewID      string   `json:"reviewId" dynamodbav:"reviewId"`
	ReviewTitle   string   `json:"reviewTitle" dynamodbav:"reviewTitle"`
	ShopID        string   `json:"shopId" dynamodbav:"shopId"`
	ShopName      string   `json:"shopName" dynamodbav:"shopName"`
	Content       string   `json:"content" dynamodbav:"content"`
	Score         float64  `json:"score" dynamodbav:"score"`
	PhotoURLs     []string `json:"photoUrls,omitempty" dynamodbav:"photoUrls,omitempty"`
	IsReplyExists bool     `json:"isReplyExists" dynamodbav:"isReplyExists"`
	Version       int64    `json:"version" dynamodbav:"version"`
	Timestamps
}

func (r *ShopReview) AggregateType() string { return TypeShopReview }
func (r *ShopReview) AggregateID() string   { return r.ReviewID }
func (r *ShopReview) SecondaryKey() string  { return r.ReviewTitle }

// ShopRef returns the composite reference of the reviewed shop.
func (r *ShopReview) ShopRef() Ref {
	return Ref{ID: r.ShopID, Secondary: r.ShopName}
}

// Reply is the shop owner's answer to a review.
type Reply struct {
	ReplyID     string `json:"replyId" dynamodbav:"replyId"`
	ReviewID    string `json:"reviewId" dynamodbav:"reviewId"`
	ReviewTitle string `json:"reviewTitle" dynamodbav:"reviewTitle"`
	ShopID      string `json:"shopId" dynamodbav:"shopId"`
	Content     string `json:"content" dynamodbav:"content"`
	Version     int64  `json:"version" dynamodbav:"version"`
	Timestamps
}

func (r *Reply) AggregateType() string { return TypeReply }
func (r *Reply) AggregateID() string   { return r.ReplyID }
func (r *Reply) SecondaryKey() string  { return "" }

// ReviewRef returns the composite reference of the answered review.
func (r *Reply) ReviewRef() Ref {
	return Ref{ID: r.ReviewID, Secondary: r.ReviewTitle}
}

func (r *ShopReview) CurrentVersion() int64 { return r.Version }
func (r *ShopReview) SetVersion(v int64)    { r.Version = v }

func (r *Reply) CurrentVersion() int64 { return r.Version }
func (r *Reply) SetVersion(v int64)    { r.Version = v }
