package domain

import (
	"sort"
)

// SalesStatus describes whether a shop currently takes orders.
type SalesStatus string

const (
	SalesOpen      SalesStatus = "OPEN"
	SalesClosed    SalesStatus = "CLOSED"
	SalesPreparing SalesStatus = "PREPARING"
)

// Category is the top level shop classification used by search.
type Category string

const (
	CategoryKorean   Category = "KOREAN"
	CategoryChinese  Category = "CHINESE"
	CategoryJapanese Category = "JAPANESE"
	CategoryWestern  Category = "WESTERN"
	CategoryChicken  Category = "CHICKEN"
	CategoryPizza    Category = "PIZZA"
	CategoryCafe     Category = "CAFE"
	CategoryEtc      Category = "ETC"
)

// SalesInfo groups opening information.
type SalesInfo struct {
	Status    SalesStatus `json:"status" dynamodbav:"status" validate:"omitempty,oneof=OPEN CLOSED PREPARING"`
	OpenHour  string      `json:"openHour" dynamodbav:"openHour"`
	CloseHour string      `json:"closeHour" dynamodbav:"closeHour"`
	RestDays  []string    `json:"restDays,omitempty" dynamodbav:"restDays,omitempty"`
}

// Address carries both address notations plus coordinates.
type Address struct {
	LotNumber string  `json:"lotNumberAddress" dynamodbav:"lotNumberAddress"`
	RoadName  string  `json:"roadNameAddress" dynamodbav:"roadNameAddress"`
	Latitude  float64 `json:"latitude" dynamodbav:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" dynamodbav:"longitude" validate:"gte=-180,lte=180"`
}

// DeliveryTip is a single (distance, price) tier. Distance is in meters.
type DeliveryTip struct {
	Distance int `json:"distance" dynamodbav:"distance" validate:"gte=0"`
	Price    int `json:"price" dynamodbav:"price" validate:"gte=0"`
}

// Shop is the aggregate root of the directory.
type Shop struct {
	ShopID         string        `json:"shopId" dynamodbav:"shopId"`
	ShopName       string        `json:"shopName" dynamodbav:"shopName"`
	Sales          SalesInfo     `json:"sales" dynamodbav:"sales"`
	Address        Address       `json:"address" dynamodbav:"address"`
	ImageURLs      []string      `json:"imageUrls,omitempty" dynamodbav:"imageUrls,omitempty"`
	IsBranch       bool          `json:"isBranch" dynamodbav:"isBranch"`
	BranchName     string        `json:"branchName,omitempty" dynamodbav:"branchName,omitempty"`
	Category       Category      `json:"category" dynamodbav:"category"`
	DetailCategory string        `json:"detailCategory,omitempty" dynamodbav:"detailCategory,omitempty"`
	DeliveryTips   []DeliveryTip `json:"deliveryTips,omitempty" dynamodbav:"deliveryTips,omitempty"`
	TotalScore     float64       `json:"totalScore" dynamodbav:"totalScore"`
	ReviewNumber   int64         `json:"reviewNumber" dynamodbav:"reviewNumber"`
	AverageScore   float64       `json:"averageScore" dynamodbav:"averageScore"`
	BusinessNumber string        `json:"businessNumber" dynamodbav:"businessNumber"`
	Description    string        `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Version        int64         `json:"version" dynamodbav:"version"`
	Timestamps
}

func (s *Shop) AggregateType() string { return TypeShop }
func (s *Shop) AggregateID() string   { return s.ShopID }
func (s *Shop) SecondaryKey() string  { return s.ShopName }

// SortDeliveryTips orders the tiers by ascending distance.
func (s *Shop) SortDeliveryTips() {
	sort.SliceStable(s.DeliveryTips, func(i, j int) bool {
		return s.DeliveryTips[i].Distance < s.DeliveryTips[j].Distance
	})
}

// DeliveryTipFor returns the price of the first tier covering distance.
// The second return value is false when the shop does not deliver that far.
func (s *Shop) DeliveryTipFor(distance int) (int, bool) {
	tips := append([]DeliveryTip(nil), s.DeliveryTips...)
	sort.SliceStable(tips, func(i, j int) bool { return tips[i].Distance < tips[j].Distance })
	for _, tip := range tips {
		if distance <= tip.Distance {
			return tip.Price, true
		}
	}
	return 0, false
}

func (s *Shop) CurrentVersion() int64 { return s.Version }
func (s *Shop) SetVersion(v int64)    { s.Version = v }
