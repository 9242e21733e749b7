// Package resolver implements the Station Resolver: given free text, it
// returns the canonical Station(s) that best match it, per the ranking
// contract in spec.md §4.C. It is grounded on the teacher's read-mostly,
// in-memory-corpus style (compute.VehicleHandler keeps a live in-memory
// view refreshed from the store rather than hitting the database on every
// query) and uses github.com/agext/levenshtein for the fuzzy tier (see
// DESIGN.md for where that dependency comes from).
package resolver

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/gbl08ma/sqalx"
	"github.com/thoas/go-funk"

	"github.com/gbl08ma/darwincancel/store"
)

// DefaultLimit is the result cap applied when the caller does not specify
// one.
const DefaultLimit = 5

// FuzzyThreshold is the minimum token-set similarity score (0-100) for a
// fuzzy match to be considered, per spec.md §4.C.
const FuzzyThreshold = 70

// Match pairs a Station with its resolution score in [0, 100].
type Match struct {
	Station store.Station
	Score   int
}

type aliasEntry struct {
	tiploc    string
	name      string
	isPrimary bool
}

// Resolver holds an in-memory snapshot of stations and aliases, refreshed
// with Reload. Reads never touch the database, matching the teacher's
// handler-holds-its-own-cache idiom (compute.VehicleHandler).
type Resolver struct {
	stations []store.Station
	byTiploc map[string]store.Station
	byCRS    map[string]store.Station
	byName   map[string]store.Station
	aliases  []aliasEntry
}

// New builds a Resolver from the current contents of the store.
func New(node sqalx.Node) (*Resolver, error) {
	r := &Resolver{}
	if err := r.Reload(node); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the in-memory corpus from the store. Callers re-run this
// after a schedule/station import completes.
func (r *Resolver) Reload(node sqalx.Node) error {
	stations, err := store.AllStations(node)
	if err != nil {
		return err
	}
	aliases, err := store.AllAliases(node)
	if err != nil {
		return err
	}

	byTiploc := make(map[string]store.Station, len(stations))
	byCRS := make(map[string]store.Station, len(stations))
	byName := make(map[string]store.Station, len(stations))
	for _, st := range stations {
		byTiploc[st.Tiploc] = st
		if st.CRSCode != "" {
			byCRS[strings.ToUpper(st.CRSCode)] = st
		}
		byName[strings.ToLower(st.StationName)] = st
	}

	entries := make([]aliasEntry, 0, len(aliases))
	for _, a := range aliases {
		entries = append(entries, aliasEntry{tiploc: a.StationTiploc, name: a.AliasName, isPrimary: a.IsPrimary})
	}

	r.stations, r.byTiploc, r.byCRS, r.byName, r.aliases = stations, byTiploc, byCRS, byName, entries
	return nil
}

// LookupStation returns the Station registered under the exact tiploc, or
// ok=false if none is loaded in the current corpus. Used by the Enrichment
// Engine for non-fatal station-name projection (spec.md §4.F).
func (r *Resolver) LookupStation(tiploc string) (store.Station, bool) {
	st, ok := r.byTiploc[strings.ToUpper(tiploc)]
	return st, ok
}

// Search resolves query to its best-matching stations, ranked and
// tie-broken per spec.md §4.C, capped at limit (DefaultLimit if limit <= 0).
func (r *Resolver) Search(query string, limit int) []Match {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	scores := map[string]int{} // tiploc -> best score

	record := func(tiploc string, score int) {
		if cur, ok := scores[tiploc]; !ok || score > cur {
			scores[tiploc] = score
		}
	}

	// Tier 1: exact tiploc.
	if st, ok := r.byTiploc[strings.ToUpper(query)]; ok {
		record(st.Tiploc, 100)
	}
	// Tier 2: exact crs, case-insensitive.
	if st, ok := r.byCRS[strings.ToUpper(query)]; ok {
		record(st.Tiploc, 100)
	}
	// Tier 3: exact station name, case-insensitive.
	if st, ok := r.byName[strings.ToLower(query)]; ok {
		record(st.Tiploc, 95)
	}
	// Tier 4: exact alias, primary preferred.
	for _, a := range r.aliases {
		if strings.EqualFold(a.name, query) {
			score := 90
			record(a.tiploc, score)
		}
	}

	lowerQuery := strings.ToLower(query)
	// Tier 5: prefix match on name or alias, scored 80..90 by prefix
	// length ratio.
	prefixScore := func(candidate string) (int, bool) {
		lc := strings.ToLower(candidate)
		if !strings.HasPrefix(lc, lowerQuery) || lc == lowerQuery {
			return 0, false
		}
		ratio := float64(len(lowerQuery)) / float64(len(lc))
		return 80 + int(ratio*10), true
	}
	for _, st := range r.stations {
		if score, ok := prefixScore(st.StationName); ok {
			record(st.Tiploc, score)
		}
	}
	for _, a := range r.aliases {
		if score, ok := prefixScore(a.name); ok {
			record(a.tiploc, score)
		}
	}

	// Tier 6: fuzzy token-set similarity on name+alias, threshold >= 70.
	for _, st := range r.stations {
		if score := tokenSetRatio(query, st.StationName); score >= FuzzyThreshold {
			record(st.Tiploc, score)
		}
	}
	for _, a := range r.aliases {
		if score := tokenSetRatio(query, a.name); score >= FuzzyThreshold {
			record(a.tiploc, score)
		}
	}

	// Tier 7: for identifier-shaped input only, the upper-cased query is
	// looked up again as a TIPLOC in the in-memory corpus (never lets fuzzy
	// matching hijack a real code). No TiplocMapping is consulted here.
	if store.LooksLikeTiploc(query) {
		if st, ok := r.byTiploc[strings.ToUpper(query)]; ok {
			record(st.Tiploc, 100)
		}
	}

	if len(scores) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(scores))
	for tiploc, score := range scores {
		matches = append(matches, Match{Station: r.byTiploc[tiploc], Score: score})
	}

	primaryAlias := r.primaryAliasSet()
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Station.IsActive != matches[j].Station.IsActive {
			return matches[i].Station.IsActive
		}
		pi, pj := primaryAlias[matches[i].Station.Tiploc], primaryAlias[matches[j].Station.Tiploc]
		if pi != pj {
			return pi
		}
		return matches[i].Station.StationName < matches[j].Station.StationName
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (r *Resolver) primaryAliasSet() map[string]bool {
	set := map[string]bool{}
	for _, a := range r.aliases {
		if a.isPrimary {
			set[a.tiploc] = true
		}
	}
	return set
}

// tokenSetRatio computes a case-folded, whitespace-collapsed token-set
// similarity ratio in [0, 100], per spec.md §9's ranking guidance: split
// both strings into token sets, compare the intersection-anchored strings
// with Levenshtein similarity, and take the best of the three classic
// fuzzywuzzy comparisons (sorted intersection, intersection+diff-a,
// intersection+diff-b).
func tokenSetRatio(a, b string) int {
	tokensA := normalizeTokens(a)
	tokensB := normalizeTokens(b)

	setA := funk.UniqString(tokensA)
	setB := funk.UniqString(tokensB)
	sort.Strings(setA)
	sort.Strings(setB)

	intersection := intersect(setA, setB)
	diffA := difference(setA, intersection)
	diffB := difference(setB, intersection)

	sortedInter := strings.Join(intersection, " ")
	interPlusA := strings.TrimSpace(sortedInter + " " + strings.Join(diffA, " "))
	interPlusB := strings.TrimSpace(sortedInter + " " + strings.Join(diffB, " "))

	scores := []int{
		similarity(sortedInter, interPlusA),
		similarity(sortedInter, interPlusB),
		similarity(interPlusA, interPlusB),
	}
	best := 0
	for _, s := range scores {
		if s > best {
			best = s
		}
	}
	return best
}

func normalizeTokens(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	return fields
}

func similarity(a, b string) int {
	if a == "" && b == "" {
		return 100
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100
	}
	dist := levenshtein.Distance(a, b, nil)
	return int((1.0 - float64(dist)/float64(maxLen)) * 100)
}

func intersect(a, b []string) []string {
	set := map[string]bool{}
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

func difference(a, remove []string) []string {
	set := map[string]bool{}
	for _, s := range remove {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if !set[s] {
			out = append(out, s)
		}
	}
	return out
}
