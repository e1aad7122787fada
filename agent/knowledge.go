package agent

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"goa.design/clue/log"

	"github.com/clearline-ai/clearline/legislation"
	"github.com/clearline-ai/clearline/retrieval"
)

// historicalYearCutoff flags legislation enacted before it as historical.
const historicalYearCutoff = 1963

// enrichTopActs is how many of the most-represented acts get fuller section
// coverage during legislation enrichment.
const enrichTopActs = 3

type (
	// LegalItem is one retrieved legislation source.
	LegalItem struct {
		ID         string
		Act        string
		Section    string
		URI        string
		Year       int
		Historical bool
		Excerpt    string
	}

	// CaseLawItem is one retrieved case-law source.
	CaseLawItem struct {
		Case     string
		Citation string
		URI      string
		Excerpt  string
	}

	// Knowledge aggregates the outputs of the retrieval workers.
	Knowledge struct {
		Policies []retrieval.Result
		Legal    []LegalItem
		CaseLaw  []CaseLawItem
	}

	// LegislationAPI is the slice of the legislation gateway the knowledge
	// worker uses. Production binds fresh clients to the active endpoint.
	LegislationAPI interface {
		SearchLegislation(ctx context.Context, f legislation.SearchFilters) (*legislation.SearchResult, error)
		SearchSections(ctx context.Context, query string) (*legislation.SearchResult, error)
		GetSections(ctx context.Context, legislationID string) ([]legislation.Section, error)
	}

	// Searcher is the retrieval-core surface the policies worker uses.
	Searcher interface {
		Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error)
	}
)

// Empty reports whether no worker produced anything.
func (k *Knowledge) Empty() bool {
	return len(k.Policies) == 0 && len(k.Legal) == 0 && len(k.CaseLaw) == 0
}

// gatherKnowledge fans out over the router's source set. A failing worker is
// logged and contributes empty results; it never fails the pipeline.
func (p *Pipeline) gatherKnowledge(ctx context.Context, run *run, decision RouterDecision) *Knowledge {
	k := &Knowledge{}
	var wg sync.WaitGroup

	if decision.wantsSource(SourceInternalPolicies) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := p.search.Search(ctx, retrieval.Query{Tenant: run.tenant, Text: run.query})
			if err != nil {
				log.Errorf(ctx, err, "agent: policies worker degraded to empty results")
				return
			}
			k.Policies = results
		}()
	}

	if decision.wantsSource(SourceUKLegislation) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := p.legislationWorker(ctx, run.query)
			if err != nil {
				log.Errorf(ctx, err, "agent: legislation worker degraded to empty results")
				return
			}
			k.Legal = items
		}()
	}

	if decision.wantsSource(SourceCaseLaw) && p.verifier.SupportsCaseLaw() {
		// Gated by upstream capability; no-op while the gateway cannot
		// search case law.
		log.Debugf(ctx, "agent: case-law worker activated")
	}

	wg.Wait()
	return k
}

// legislationWorker issues act-level and section-level searches concurrently,
// then enriches coverage of the most-represented acts.
func (p *Pipeline) legislationWorker(ctx context.Context, query string) ([]LegalItem, error) {
	var (
		actRes, sectionRes *legislation.SearchResult
		actErr, sectionErr error
		wg                 sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		actRes, actErr = p.legislation.SearchLegislation(ctx, legislation.SearchFilters{Query: query})
	}()
	go func() {
		defer wg.Done()
		sectionRes, sectionErr = p.legislation.SearchSections(ctx, query)
	}()
	wg.Wait()
	if actErr != nil && sectionErr != nil {
		return nil, actErr
	}

	var items []LegalItem
	if actErr == nil {
		items = append(items, decodeLegalItems(actRes)...)
	} else {
		log.Debugf(ctx, "agent: act-level search failed, continuing with sections: %v", actErr)
	}
	if sectionErr == nil {
		items = append(items, decodeLegalItems(sectionRes)...)
	} else {
		log.Debugf(ctx, "agent: section-level search failed, continuing with acts: %v", sectionErr)
	}

	items = append(items, p.enrichTopActSections(ctx, items)...)
	for i := range items {
		items[i].Historical = items[i].Year > 0 && items[i].Year < historicalYearCutoff
	}
	return items, nil
}

// enrichTopActSections fetches further sections from the top three
// most-represented acts so the model sees fuller per-act coverage instead of
// scattered fragments.
func (p *Pipeline) enrichTopActSections(ctx context.Context, items []LegalItem) []LegalItem {
	type actCount struct {
		id    string
		act   string
		year  int
		count int
	}
	counts := make(map[string]*actCount)
	for _, item := range items {
		if item.Act == "" {
			continue
		}
		key := strings.ToLower(item.Act)
		c, ok := counts[key]
		if !ok {
			c = &actCount{id: item.ID, act: item.Act, year: item.Year}
			counts[key] = c
		}
		if c.id == "" {
			c.id = item.ID
		}
		c.count++
	}
	ranked := make([]*actCount, 0, len(counts))
	for _, c := range counts {
		if c.id != "" {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })
	if len(ranked) > enrichTopActs {
		ranked = ranked[:enrichTopActs]
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		seen[strings.ToLower(item.Act)+"|"+item.Section] = true
	}

	var enriched []LegalItem
	for _, c := range ranked {
		sections, err := p.legislation.GetSections(ctx, c.id)
		if err != nil {
			log.Debugf(ctx, "agent: section enrichment for %q skipped: %v", c.act, err)
			continue
		}
		for _, s := range sections {
			key := strings.ToLower(c.act) + "|" + s.Number
			if seen[key] {
				continue
			}
			seen[key] = true
			enriched = append(enriched, LegalItem{
				ID:      c.id,
				Act:     c.act,
				Section: s.Number,
				Year:    c.year,
				Excerpt: snippet(s.Content),
			})
		}
	}
	return enriched
}

// decodeLegalItems tolerantly maps search envelope entries to LegalItems.
func decodeLegalItems(res *legislation.SearchResult) []LegalItem {
	if res == nil {
		return nil
	}
	var items []LegalItem
	for _, raw := range res.Results {
		var entry struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Act     string `json:"act"`
			Section string `json:"section"`
			Number  string `json:"number"`
			Year    int    `json:"year"`
			URI     string `json:"uri"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		item := LegalItem{
			ID:      entry.ID,
			Act:     entry.Act,
			Section: entry.Section,
			Year:    entry.Year,
			URI:     entry.URI,
			Excerpt: snippet(entry.Content),
		}
		if item.Act == "" {
			item.Act = entry.Title
		}
		if item.Section == "" && entry.Number != "" && entry.Act != "" {
			item.Section = entry.Number
		}
		if item.Act == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

// snippet bounds an excerpt so prompts stay within budget. The cut backs up
// to a rune boundary so a multi-byte character is never split.
func snippet(s string) string {
	const max = 600
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
