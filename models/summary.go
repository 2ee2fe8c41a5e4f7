package models

// Summary holds aggregate figures over a set of stored listings.
type Summary struct {
	TotalListings  int
	PricedListings int
	Verified       int // at least one verification flag set
	LowConfidence  int

	AveragePrice   float64
	MinPrice       float64
	MaxPrice       float64
	MedianMultiple float64 // profit multiple, over listings that have one
	AverageQuality float64

	MostExpensive      *Listing
	TopQuality         []*Listing
	ListingsByCategory map[string]int
	ListingsBySize     map[string]int
}
