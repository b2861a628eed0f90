// Package store holds the most recent InstrumentSignal per symbol: the
// only cross-worker mutable state the engine carries (spec.md §4.H).
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/smc-engine/smcengine/internal/models"
)

type entry struct {
	mu     sync.RWMutex
	signal models.InstrumentSignal
}

// Store maps symbol to its latest InstrumentSignal. Reads return
// point-in-time copies; writes are whole-record replaces guarded per
// key, mirroring internal/scanner/state.go's StateManager/Snapshot
// split between a map-level lock and a per-symbol lock.
type Store struct {
	mu            sync.RWMutex
	entries       map[string]*entry
	scanInterval  time.Duration
}

// New creates an empty Store. scanInterval is used to derive the
// staleness horizon (3*scanInterval, spec.md §4.H).
func New(scanInterval time.Duration) *Store {
	return &Store{
		entries:      make(map[string]*entry),
		scanInterval: scanInterval,
	}
}

// Put replaces the stored signal for signal.Symbol in full.
func (s *Store) Put(signal models.InstrumentSignal) {
	e := s.getOrCreate(signal.Symbol)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.signal = signal
}

func (s *Store) getOrCreate(symbol string) *entry {
	s.mu.RLock()
	e, ok := s.entries[symbol]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[symbol]; ok {
		return e
	}
	e = &entry{}
	s.entries[symbol] = e
	return e
}

// Get returns a point-in-time copy of symbol's signal, with Stale
// derived against now, and whether it was found.
func (s *Store) Get(symbol string) (models.InstrumentSignal, bool) {
	s.mu.RLock()
	e, ok := s.entries[symbol]
	s.mu.RUnlock()
	if !ok {
		return models.InstrumentSignal{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.signal.Symbol == "" {
		return models.InstrumentSignal{}, false
	}
	return s.withStaleness(e.signal), true
}

func (s *Store) withStaleness(signal models.InstrumentSignal) models.InstrumentSignal {
	if s.scanInterval > 0 && time.Since(signal.UpdatedAt) > 3*s.scanInterval {
		signal.Stale = true
	}
	return signal
}

// Filter describes a query over the store's contents (spec.md §6).
type Filter struct {
	Search            string
	ProximityMaxPct   *float64
	Direction         *models.Direction
	Structure         *models.CurrentStructure
}

// indexAliases maps a lowercase, user-typed index alias to the symbol
// token it refers to, so a search for "bank nifty" matches BANKNIFTY
// (spec.md §4.H / §6: "tolerates a small alias table for indices").
var indexAliases = map[string]string{
	"bank nifty":   "BANKNIFTY",
	"banknifty":    "BANKNIFTY",
	"nifty":        "NIFTY",
	"nifty 50":     "NIFTY",
	"nifty50":      "NIFTY",
	"fin nifty":    "FINNIFTY",
	"finnifty":     "FINNIFTY",
	"sensex":       "SENSEX",
	"midcap":       "MIDCPNIFTY",
	"midcpnifty":   "MIDCPNIFTY",
	"midcap nifty": "MIDCPNIFTY",
}

// resolveSearch lowercases a search term and, if it names a known index
// alias, substitutes the canonical symbol token it resolves to. The
// search stays a substring match either way: "nifty" still matches
// NIFTYBANK, it just also matches NIFTY itself via the alias table.
func resolveSearch(search string) string {
	lower := strings.ToLower(strings.TrimSpace(search))
	if canonical, ok := indexAliases[lower]; ok {
		return strings.ToLower(canonical)
	}
	return lower
}

// List returns every stored signal matching filter, alias-tolerant on
// Search (case-insensitive substring over the symbol, resolved through
// indexAliases first, following internal/api/handlers.go's
// SymbolHandler.ListSymbols).
func (s *Store) List(filter Filter) []models.InstrumentSignal {
	s.mu.RLock()
	symbols := make([]string, 0, len(s.entries))
	for symbol := range s.entries {
		symbols = append(symbols, symbol)
	}
	s.mu.RUnlock()

	var results []models.InstrumentSignal
	searchLower := resolveSearch(filter.Search)

	for _, symbol := range symbols {
		signal, ok := s.Get(symbol)
		if !ok {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(symbol), searchLower) {
			continue
		}
		if filter.ProximityMaxPct != nil && signal.AvgProximityPct > *filter.ProximityMaxPct {
			continue
		}
		if filter.Structure != nil && signal.OverallStructure != *filter.Structure {
			continue
		}
		if filter.Direction != nil && !matchesDirection(signal.OverallStructure, *filter.Direction) {
			continue
		}
		results = append(results, signal)
	}

	return results
}

func matchesDirection(structure models.CurrentStructure, direction models.Direction) bool {
	switch direction {
	case models.Bullish:
		return structure == models.StructureBullish || structure == models.StructureBullishCHOCH
	case models.Bearish:
		return structure == models.StructureBearish || structure == models.StructureBearishCHOCH
	default:
		return false
	}
}

// Symbols returns every symbol currently tracked, unordered.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.entries))
	for symbol := range s.entries {
		symbols = append(symbols, symbol)
	}
	return symbols
}
