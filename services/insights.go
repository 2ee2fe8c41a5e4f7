package services

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"listing-harvester/models"
	"listing-harvester/utils"
)

const topQualityCount = 5

type InsightService struct {
	logger *utils.Logger
	out    io.Writer
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger, out: os.Stdout}
}

// WithOutput redirects printing, mostly for tests.
func (s *InsightService) WithOutput(w io.Writer) *InsightService {
	s.out = w
	return s
}

func (s *InsightService) Generate(listings []*models.Listing) *models.Summary {
	report := &models.Summary{
		ListingsByCategory: make(map[string]int),
		ListingsBySize:     make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var priced []*models.Listing
	var multiples []float64
	var qualityTotal int

	for _, l := range listings {
		if l.AskingPrice != nil && *l.AskingPrice > 0 {
			priced = append(priced, l)
		}
		if l.ProfitMultiple != nil {
			multiples = append(multiples, *l.ProfitMultiple)
		}
		if l.Verification.TrafficVerified || l.Verification.RevenueVerified || l.Verification.ManuallyVetted {
			report.Verified++
		}
		if l.LowConfidence {
			report.LowConfidence++
		}
		category := l.Category
		if category == "" {
			category = "Uncategorized"
		}
		report.ListingsByCategory[category]++
		if l.SizeCategory != "" {
			report.ListingsBySize[l.SizeCategory]++
		}
		qualityTotal += l.QualityScore
	}
	report.PricedListings = len(priced)
	report.AverageQuality = roundTo(float64(qualityTotal)/float64(len(listings)), 2)

	// Price stats (only listings with a price)
	if len(priced) > 0 {
		report.MinPrice = *priced[0].AskingPrice
		report.MaxPrice = *priced[0].AskingPrice
		report.MostExpensive = priced[0]
		var total float64
		for _, l := range priced {
			p := *l.AskingPrice
			total += p
			if p < report.MinPrice {
				report.MinPrice = p
			}
			if p > report.MaxPrice {
				report.MaxPrice = p
				report.MostExpensive = l
			}
		}
		report.AveragePrice = roundTo(total/float64(len(priced)), 2)
	}

	if len(multiples) > 0 {
		sort.Float64s(multiples)
		mid := len(multiples) / 2
		if len(multiples)%2 == 1 {
			report.MedianMultiple = multiples[mid]
		} else {
			report.MedianMultiple = roundTo((multiples[mid-1]+multiples[mid])/2, 2)
		}
	}

	// Top by quality score, ties broken by id for stable output
	ranked := append([]*models.Listing(nil), listings...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].QualityScore != ranked[j].QualityScore {
			return ranked[i].QualityScore > ranked[j].QualityScore
		}
		return ranked[i].ExternalID < ranked[j].ExternalID
	})
	if len(ranked) > topQualityCount {
		ranked = ranked[:topQualityCount]
	}
	report.TopQuality = ranked

	return report
}

func (s *InsightService) Print(r *models.Summary) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	w := s.out

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 LISTING SUMMARY\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total listings         : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  With asking price      : \033[1m%d\033[0m\n", r.PricedListings)
	fmt.Fprintf(w, "  Verified               : \033[1m%d\033[0m\n", r.Verified)
	fmt.Fprintf(w, "  Low confidence         : \033[1m%d\033[0m\n", r.LowConfidence)
	fmt.Fprintf(w, "  Average quality        : \033[1m%.2f\033[0m\n", r.AverageQuality)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Asking Price\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.PricedListings > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m$%.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price : \033[1;32m$%.2f\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price : \033[1;32m$%.2f\033[0m\n", r.MaxPrice)
		if r.MedianMultiple > 0 {
			fmt.Fprintf(w, "  Median profit multiple : \033[1;32m%.2fx\033[0m\n", r.MedianMultiple)
		}
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", utils.Truncate(r.MostExpensive.Title, 50))
		fmt.Fprintf(w, "  Category : %s\n", r.MostExpensive.Category)
		fmt.Fprintf(w, "  Price    : \033[1;31m$%.2f\033[0m\n", *r.MostExpensive.AskingPrice)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Top %d by Quality Score\033[0m\n", topQualityCount)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopQuality) == 0 {
		fmt.Fprintf(w, "  No listings found\n")
	} else {
		for i, l := range r.TopQuality {
			title := l.Title
			if title == "" {
				title = l.ExternalID
			}
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m%3d\033[0m\n", i+1, utils.Truncate(title, 38), l.QualityScore)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Listings by Category\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ListingsByCategory) == 0 {
		fmt.Fprintf(w, "  No category data\n")
	} else {
		type catCount struct {
			cat   string
			count int
		}
		var cats []catCount
		for c, n := range r.ListingsByCategory {
			cats = append(cats, catCount{c, n})
		}
		sort.Slice(cats, func(i, j int) bool {
			if cats[i].count != cats[j].count {
				return cats[i].count > cats[j].count
			}
			return cats[i].cat < cats[j].cat
		})
		for _, cc := range cats {
			bar := strings.Repeat("█", min(cc.count, 40))
			fmt.Fprintf(w, "  %-30s %s (%d)\n", utils.Truncate(cc.cat, 28), bar, cc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

// PrintRun prints the counters of a finished pass and its failures.
func (s *InsightService) PrintRun(r *models.RunReport) {
	thin := strings.Repeat("─", 54)
	w := s.out

	fmt.Fprintf(w, "\n\033[1;36m  Run %s\033[0m\n", r.RunID)
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Elapsed              : %v\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  Seen / extracted     : %d / %d\n", r.Seen, r.Extracted)
	fmt.Fprintf(w, "  Deduplicated         : %d\n", r.Deduplicated)
	fmt.Fprintf(w, "  Persisted            : %d\n", r.Persisted)
	fmt.Fprintf(w, "  Failed               : %d\n", r.Failed)
	fmt.Fprintf(w, "  Consistency warnings : %d\n", r.ConsistencyWarnings)
	fmt.Fprintf(w, "  Structural alerts    : %d\n", r.StructuralAlerts)
	if r.Canceled {
		fmt.Fprintf(w, "  \033[1;33mCanceled — partial report\033[0m\n")
	}
	if r.Aborted {
		fmt.Fprintf(w, "  \033[1;31mAborted — store unavailable\033[0m\n")
	}

	if len(r.FieldRates) > 0 {
		fields := make([]string, 0, len(r.FieldRates))
		for f := range r.FieldRates {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		fmt.Fprintf(w, "\n  Field hit rates\n  %s\n", thin)
		for _, f := range fields {
			fmt.Fprintf(w, "  %-22s %5.1f%%\n", f, r.FieldRates[f]*100)
		}
	}

	if len(r.Failures) > 0 {
		fmt.Fprintf(w, "\n  Failures\n  %s\n", thin)
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  [%s] %s (%d attempt(s)): %s\n", f.Class, utils.Truncate(f.Unit, 40), f.Attempts, utils.Truncate(f.Reason, 80))
		}
	}
	fmt.Fprintln(w)
}
