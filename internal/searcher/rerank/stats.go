package rerank

import "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/internal/searcher"

// ComputeStats aggregates the cross-encoder scores of candidates that have
// one.
func ComputeStats(candidates []searcher.Candidate) searcher.RerankStats {
	var (
		n      int
		sum    float64
		hi, lo float64
	)
	for _, c := range candidates {
		if c.CrossEncoderScore == nil {
			continue
		}
		s := *c.CrossEncoderScore
		if n == 0 || s > hi {
			hi = s
		}
		if n == 0 || s < lo {
			lo = s
		}
		sum += s
		n++
	}
	if n == 0 {
		return searcher.RerankStats{}
	}
	avg := sum / float64(n)
	scoreRange := hi - lo
	return searcher.RerankStats{
		Total:      n,
		MaxScore:   &hi,
		MinScore:   &lo,
		AvgScore:   &avg,
		ScoreRange: &scoreRange,
	}
}

// CompareRankings summarises OriginalRank to FinalRank movement.
// Candidates missing either rank are left out.
func CompareRankings(candidates []searcher.Candidate) searcher.RankingComparison {
	var cmp searcher.RankingComparison
	sum := 0
	for _, c := range candidates {
		if c.OriginalRank <= 0 || c.FinalRank <= 0 {
			continue
		}
		delta := c.OriginalRank - c.FinalRank
		if len(cmp.Changes) == 0 || delta > cmp.MaxRankImprovement {
			cmp.MaxRankImprovement = delta
		}
		if len(cmp.Changes) == 0 || delta < cmp.MaxRankDecline {
			cmp.MaxRankDecline = delta
		}
		switch {
		case delta > 0:
			cmp.DocsImproved++
		case delta < 0:
			cmp.DocsDeclined++
		default:
			cmp.DocsUnchanged++
		}
		sum += delta
		cmp.Changes = append(cmp.Changes, searcher.RankChange{
			DocID:        c.DocID,
			OriginalRank: c.OriginalRank,
			FinalRank:    c.FinalRank,
			Delta:        delta,
		})
	}
	if len(cmp.Changes) == 0 {
		return searcher.RankingComparison{NoRankingData: true}
	}
	cmp.TotalDocs = len(cmp.Changes)
	cmp.AvgRankChange = float64(sum) / float64(cmp.TotalDocs)
	return cmp
}
