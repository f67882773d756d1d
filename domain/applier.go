package domain

import "time"

// The Apply* functions transform an already loaded aggregate in memory. They
// never persist anything and never suspend; callers persist the result only
// after the whole transformation succeeded.

// ApplyReviewCreated counts a new review with the given score.
func ApplyReviewCreated(shop *Shop, score float64, now time.Time) *Shop {
	shop.ReviewNumber++
	shop.TotalScore += score
	RecomputeAverage(shop)
	shop.touch(now)
	return shop
}

// ApplyReviewDeleted removes a review's contribution. A count that would go
// negative means a duplicate delete or a lost create; the shop is left
// untouched and a ConsistencyFault is returned.
func ApplyReviewDeleted(shop *Shop, score float64, now time.Time) (*Shop, error) {
	if shop.ReviewNumber-1 < 0 {
		return shop, ConsistencyFault("ApplyReviewDeleted", TypeShop, shop.ShopID, ErrNegativeReviewCount)
	}
	shop.ReviewNumber--
	shop.TotalScore -= score
	RecomputeAverage(shop)
	shop.touch(now)
	return shop, nil
}

// ApplyReplyCreated flags the review as answered.
func ApplyReplyCreated(review *ShopReview, now time.Time) (*ShopReview, error) {
	if review.IsDeleted() {
		return review, ConsistencyFault("ApplyReplyCreated", TypeShopReview, review.ReviewID, ErrReviewDeleted)
	}
	review.IsReplyExists = true
	review.touch(now)
	return review, nil
}

// ApplyReplyDeleted clears the answered flag. At most one live reply exists
// per review, so clearing is unconditional.
func ApplyReplyDeleted(review *ShopReview, now time.Time) *ShopReview {
	review.IsReplyExists = false
	review.touch(now)
	return review
}

// ApplySoftDelete stamps DeletedAt. Re-applying it is a no-op and keeps the
// original timestamp. It reports whether the aggregate changed.
func ApplySoftDelete(a SoftDeleter, now time.Time) bool {
	return a.softDelete(now)
}

// RecomputeAverage derives AverageScore from TotalScore and ReviewNumber.
func RecomputeAverage(shop *Shop) *Shop {
	if shop.ReviewNumber == 0 {
		shop.AverageScore = 0
		return shop
	}
	shop.AverageScore = shop.TotalScore / float64(shop.ReviewNumber)
	return shop
}
