// Package contextstore keeps a tiered, token-budgeted cache of text the
// agent has seen this session.
//
// Information Hiding:
// - Tier assignment from focus paths hidden
// - Eviction order and truncation hidden
// - Relevance scoring hidden behind Retrieve
package contextstore

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/richinex/loom/internal/dsa"
	"github.com/richinex/loom/internal/logging"
)

// DefaultBudget is the token budget a new or cleared store starts with.
const DefaultBudget = 8000

// Tier orders items by how much they matter to the current task.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "HIGH"
	case TierMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Item is one cached snippet.
type Item struct {
	Source    string
	Content   string
	Tier      Tier
	Tokens    int
	Truncated bool

	// lastAccess is a logical clock value; larger is more recent.
	lastAccess uint64
}

// FocusEntry is one path declared by SetFocus.
type FocusEntry struct {
	Path string
	Tier Tier
}

// Usage reports what the current turn consumed.
type Usage struct {
	FilesUsed   []string
	TokensUsed  int
	Items       int
	TotalTokens int
	Budget      int
}

// Store is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	budget    int
	tokenizer Tokenizer
	logger    *slog.Logger

	items map[string]*Item
	total int
	clock uint64

	focus *dsa.Trie[Tier]

	used       map[string]bool
	tokensUsed int
}

// New creates a store with the given budget; non-positive means
// DefaultBudget.
func New(budget int) *Store {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Store{
		budget:    budget,
		tokenizer: Estimate{},
		logger:    logging.OrDefault(nil, "contextstore"),
		items:     make(map[string]*Item),
		focus:     dsa.NewTrie[Tier](),
		used:      make(map[string]bool),
	}
}

// WithTokenizer sets the tokenizer used for new items.
func (s *Store) WithTokenizer(t Tokenizer) *Store {
	s.tokenizer = t
	return s
}

// WithLogger sets the logger.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logging.OrDefault(logger, "contextstore")
	return s
}

// SetFocus declares the file being worked on and the files or directories
// related to it. A related entry ending in "/" covers everything below it.
func (s *Store) SetFocus(current string, related ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.focus.Clear()
	for _, r := range related {
		if r != "" {
			s.focus.Insert(r, TierMedium)
		}
	}
	if current != "" {
		s.focus.Insert(current, TierHigh)
	}
}

// Focus returns the focus entries in lexical order.
func (s *Store) Focus() []FocusEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FocusEntry, 0, s.focus.Len())
	for _, path := range s.focus.StartsWith("") {
		tier, _ := s.focus.Search(path)
		out = append(out, FocusEntry{Path: path, Tier: tier})
	}
	return out
}

// tierFor picks the tier of source: the current file is HIGH, a related file
// or anything under a related directory is MEDIUM, the rest LOW.
func (s *Store) tierFor(source string) Tier {
	tier := TierLow
	s.focus.PrefixesOf(source, func(key string, t Tier) {
		if (key == source || strings.HasSuffix(key, "/")) && t > tier {
			tier = t
		}
	})
	return tier
}

// Add caches content under source, replacing any previous item with the
// same source, then evicts until the budget holds. It returns the item as
// retained and false if the item itself was evicted.
func (s *Store) Add(source, content string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(source, content, s.tierFor(source))
}

func (s *Store) insert(source, content string, tier Tier) (Item, bool) {
	s.drop(source)

	s.clock++
	item := &Item{
		Source:     source,
		Content:    content,
		Tier:       tier,
		Tokens:     s.tokenizer.Count(content),
		lastAccess: s.clock,
	}
	s.items[source] = item
	s.total += item.Tokens

	s.enforceBudget()

	kept, ok := s.items[source]
	if !ok {
		return *item, false
	}
	return *kept, true
}

// enforceBudget evicts lowest tier first and, within a tier, least recently
// accessed first. A lone item over budget is truncated instead.
func (s *Store) enforceBudget() {
	for s.total > s.budget && len(s.items) > 1 {
		victim := s.evictionCandidate()
		s.logger.Debug("context evicted", "source", victim.Source, "tier", victim.Tier, "tokens", victim.Tokens)
		s.drop(victim.Source)
	}
	if s.total > s.budget {
		for _, item := range s.items {
			s.truncate(item)
		}
	}
}

func (s *Store) evictionCandidate() *Item {
	var victim *Item
	for _, item := range s.items {
		if victim == nil ||
			item.Tier < victim.Tier ||
			(item.Tier == victim.Tier && item.lastAccess < victim.lastAccess) {
			victim = item
		}
	}
	return victim
}

// truncate keeps the longest rune-aligned prefix that fits the budget.
func (s *Store) truncate(item *Item) {
	runes := []rune(item.Content)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if s.tokenizer.Count(string(runes[:mid])) <= s.budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	s.total -= item.Tokens
	item.Content = string(runes[:lo])
	item.Tokens = s.tokenizer.Count(item.Content)
	item.Truncated = true
	s.total += item.Tokens
	s.logger.Debug("context truncated", "source", item.Source, "tokens", item.Tokens)
}

func (s *Store) drop(source string) {
	if old, ok := s.items[source]; ok {
		s.total -= old.Tokens
		delete(s.items, source)
	}
}

// Get returns the item for source and marks it accessed.
func (s *Store) Get(source string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[source]
	if !ok {
		return Item{}, false
	}
	s.clock++
	item.lastAccess = s.clock
	return *item, true
}

// Retrieve returns up to limit items ranked for query. Tier always wins;
// within a tier, keyword overlap with query ranks first, then recency.
// Returned items are marked accessed. limit <= 0 returns all.
func (s *Store) Retrieve(query string, limit int) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	terms := keywords(query)
	type ranked struct {
		item  *Item
		score int
	}
	candidates := make([]ranked, 0, len(s.items))
	for _, item := range s.items {
		candidates = append(candidates, ranked{item: item, score: overlap(terms, item)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.item.Tier != b.item.Tier {
			return a.item.Tier > b.item.Tier
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.item.lastAccess > b.item.lastAccess
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Item, len(candidates))
	for i, c := range candidates {
		s.clock++
		c.item.lastAccess = s.clock
		out[i] = *c.item
	}
	return out
}

func keywords(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}) {
		if len(f) > 1 {
			terms[f] = true
		}
	}
	return terms
}

func overlap(terms map[string]bool, item *Item) int {
	if len(terms) == 0 {
		return 0
	}
	have := keywords(item.Source + " " + item.Content)
	n := 0
	for t := range terms {
		if have[t] {
			n++
		}
	}
	return n
}

// MarkUsed records that source fed the current turn.
func (s *Store) MarkUsed(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.used[source] {
		return
	}
	s.used[source] = true
	if item, ok := s.items[source]; ok {
		s.tokensUsed += item.Tokens
	}
}

// UsageStats returns per-turn consumption and current occupancy.
func (s *Store) UsageStats() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := make([]string, 0, len(s.used))
	for f := range s.used {
		files = append(files, f)
	}
	sort.Strings(files)
	return Usage{
		FilesUsed:   files,
		TokensUsed:  s.tokensUsed,
		Items:       len(s.items),
		TotalTokens: s.total,
		Budget:      s.budget,
	}
}

// ResetUsage starts a new turn's accounting without dropping items.
func (s *Store) ResetUsage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = make(map[string]bool)
	s.tokensUsed = 0
}

// SetBudget changes the budget and evicts as needed.
func (s *Store) SetBudget(budget int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if budget <= 0 {
		budget = DefaultBudget
	}
	s.budget = budget
	s.enforceBudget()
}

// Clear drops every item, focus, and usage, and restores DefaultBudget.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*Item)
	s.total = 0
	s.budget = DefaultBudget
	s.focus.Clear()
	s.used = make(map[string]bool)
	s.tokensUsed = 0
}

// TotalTokens returns the cost of everything retained.
func (s *Store) TotalTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Budget returns the current budget.
func (s *Store) Budget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// Len returns the number of retained items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
