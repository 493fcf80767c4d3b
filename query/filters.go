package query

import (
	"fmt"

	"github.com/jonwraymond/querycache/querykey"
)

// QueryType selects queries by whether they have enabled observers.
type QueryType int

const (
	QueryTypeAll QueryType = iota
	QueryTypeActive
	QueryTypeInactive
)

// QueryFilters selects queries for batch operations. Zero fields match
// everything.
type QueryFilters struct {
	// QueryKey selects queries whose key starts with it, or equals it when
	// Exact is set.
	QueryKey querykey.Key
	Exact    bool

	Type        QueryType
	Stale       *bool
	FetchStatus FetchStatus
	Status      Status

	// Predicate is applied after every other field.
	Predicate func(*Query) bool
}

// compiledQueryFilters is a validated QueryFilters with the key hashed once.
type compiledQueryFilters struct {
	QueryFilters
	hash string
}

func (f QueryFilters) compile() (compiledQueryFilters, error) {
	cf := compiledQueryFilters{QueryFilters: f}
	if len(f.QueryKey) == 0 {
		return cf, nil
	}
	hash, err := querykey.Hash(f.QueryKey)
	if err != nil {
		return cf, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	cf.hash = hash
	return cf, nil
}

func (f compiledQueryFilters) matches(q *Query) bool {
	if f.hash != "" {
		if f.Exact {
			if q.hash != f.hash {
				return false
			}
		} else if !querykey.Matches(q.key, f.QueryKey, false) {
			return false
		}
	}

	switch f.Type {
	case QueryTypeActive:
		if !q.IsActive() {
			return false
		}
	case QueryTypeInactive:
		if q.IsActive() {
			return false
		}
	}

	if f.Stale != nil && q.IsStale() != *f.Stale {
		return false
	}

	if f.FetchStatus != "" || f.Status != "" {
		state := q.State()
		if f.FetchStatus != "" && state.FetchStatus != f.FetchStatus {
			return false
		}
		if f.Status != "" && state.Status != f.Status {
			return false
		}
	}

	if f.Predicate != nil && !f.Predicate(q) {
		return false
	}
	return true
}

// MutationFilters selects mutations. Zero fields match everything.
type MutationFilters struct {
	// MutationKey selects mutations whose key starts with it, or equals it
	// when Exact is set. Mutations without a key never match a key filter.
	MutationKey querykey.Key
	Exact       bool

	Status Status

	Predicate func(*Mutation) bool
}

func (f MutationFilters) validate() error {
	if len(f.MutationKey) == 0 {
		return nil
	}
	if err := querykey.Validate(f.MutationKey); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return nil
}

func (f MutationFilters) matches(m *Mutation) bool {
	if len(f.MutationKey) > 0 {
		key := m.Options().MutationKey
		if len(key) == 0 || !querykey.Matches(key, f.MutationKey, f.Exact) {
			return false
		}
	}
	if f.Status != "" && m.State().Status != f.Status {
		return false
	}
	if f.Predicate != nil && !f.Predicate(m) {
		return false
	}
	return true
}
