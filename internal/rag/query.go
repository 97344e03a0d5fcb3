package rag

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"report-rag/internal/models"
)

const (
	yearMatchBoost    = 10
	cumulativePenalty = 5
	amountTermWeight  = 3
)

var (
	fileYearRe   = regexp.MustCompile(models.FiscalYearRegex)
	queryYearRe  = regexp.MustCompile(models.QueryFiscalYearRegex)
	rangeWordRe  = regexp.MustCompile(`(?i)\b(between|from|to|and)\b`)
	amountWordRe = regexp.MustCompile(`(?i)\b(sanctioned|disbursed|funds|allocated)\b`)

	amountTerms = []string{"sanctioned", "disbursed", "allocated"}
)

type acronym struct {
	re        *regexp.Regexp
	expansion string
}

// queryProcessor rewrites questions before embedding and reorders hits
// afterwards. It holds only compiled patterns.
type queryProcessor struct {
	acronyms []acronym
}

func newQueryProcessor(acronyms map[string]string) *queryProcessor {
	keys := make([]string, 0, len(acronyms))
	for k := range acronyms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := &queryProcessor{}
	for _, k := range keys {
		p.acronyms = append(p.acronyms, acronym{
			re:        regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(k) + `\b`),
			expansion: acronyms[k],
		})
	}
	return p
}

// expand appends acronym expansions and fiscal-year labels to the question.
// The expanded text is only used for retrieval.
func (p *queryProcessor) expand(question string) string {
	var b strings.Builder
	b.WriteString(question)
	for _, a := range p.acronyms {
		if a.re.MatchString(question) {
			b.WriteString(" " + a.expansion)
		}
	}
	for _, year := range queryYearRe.FindAllString(question, -1) {
		fmt.Fprintf(&b, " FY%s %s", year, year)
	}
	if amountWordRe.MatchString(question) {
		b.WriteString(" sanctioned disbursed allocated amount")
	}
	return b.String()
}

// requestedYears lists the fiscal years a question asks about. Two years
// joined by a range word ("between 2020-21 and 2022-23") cover every year in
// between.
func requestedYears(question string) []string {
	var years []string
	for _, m := range queryYearRe.FindAllStringSubmatch(question, -1) {
		years = append(years, "20"+m[1]+"-"+m[2])
	}
	if len(years) != 2 || !rangeWordRe.MatchString(question) {
		return years
	}

	start, _ := strconv.Atoi(years[0][:4])
	end, _ := strconv.Atoi(years[1][:4])
	if start > end {
		start, end = end, start
	}
	years = years[:0]
	for y := start; y <= end; y++ {
		years = append(years, fmt.Sprintf("%d-%02d", y, (y+1)%100))
	}
	return years
}

// fiscalYear derives the "yyyy-yy" label from a report file name
func fiscalYear(source string) string {
	m := fileYearRe.FindStringSubmatch(source)
	if m == nil {
		return ""
	}
	return "20" + m[1] + "-" + m[2]
}

// rerank scores hits by term overlap with the question and by fiscal year.
// Ties keep retrieval order. When years are requested the best hit of every
// requested year is moved to the front.
func (p *queryProcessor) rerank(question string, hits []models.Citation) []models.Citation {
	lower := strings.ToLower(question)
	terms := uniqueFields(lower)
	years := requestedYears(question)

	boosted := map[string]bool{}
	if strings.Contains(lower, "sanctioned") || strings.Contains(lower, "disbursed") {
		for _, t := range amountTerms {
			boosted[t] = true
		}
	}

	scores := make(map[string]int, len(hits))
	for _, h := range hits {
		content := strings.ToLower(h.Content)
		score := 0
		for _, term := range terms {
			if !strings.Contains(content, term) {
				continue
			}
			if boosted[term] {
				score += amountTermWeight
			} else {
				score++
			}
		}
		if h.FiscalYear != "" && slices.Contains(years, h.FiscalYear) {
			score += yearMatchBoost
		}
		if len(years) > 0 && strings.Contains(content, "cumulative") {
			score -= cumulativePenalty
		}
		scores[h.ID] = score
	}

	ranked := slices.Clone(hits)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].ID] > scores[ranked[j].ID]
	})
	if len(years) == 0 {
		return ranked
	}

	out := make([]models.Citation, 0, len(ranked))
	picked := map[string]bool{}
	covered := map[string]bool{}
	for _, h := range ranked {
		if slices.Contains(years, h.FiscalYear) && !covered[h.FiscalYear] {
			out = append(out, h)
			picked[h.ID] = true
			covered[h.FiscalYear] = true
		}
	}
	for _, h := range ranked {
		if !picked[h.ID] {
			out = append(out, h)
		}
	}
	return out
}

func uniqueFields(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, f := range strings.Fields(s) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
