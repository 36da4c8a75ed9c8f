package strata

import "time"

// StructureOptions is the caller-facing specification used to finalize a
// Structure within a namespace.
type StructureOptions struct {
	// Name is the short structure name.
	Name string `json:"name" minLength:"1" maxLength:"128"`
	// Schema declares the structure's data shape.
	Schema Schema `json:"schema"`
	// Description optionally describes the structure.
	Description string `json:"description" maxLength:"500"`
	// ValueValidation contains an optional CEL expression evaluated against each value write.
	ValueValidation string `json:"value_validation,omitempty"`
	// CacheConfig overrides global cache settings per structure.
	CacheConfig *StructureCacheConfig `json:"cache_config,omitempty"`
}

// StructureCacheConfig declares cache durations and TTL flags for structure artifacts.
// Only backends with a shared cache (redis) honor it.
type StructureCacheConfig struct {
	// StructureInfoCacheDuration controls caching for StructureInfo records.
	StructureInfoCacheDuration time.Duration `json:"structure_info_cache_duration"`
	// IsStructureInfoCacheTTL enables sliding TTL for structure info cache.
	IsStructureInfoCacheTTL bool `json:"is_structure_info_cache_ttl"`
	// ValueCacheDuration controls caching for materialized values.
	ValueCacheDuration time.Duration `json:"value_cache_duration"`
	// IsValueCacheTTL enables sliding TTL for value cache.
	IsValueCacheTTL bool `json:"is_value_cache_ttl"`
}

const minCacheDuration = time.Duration(5 * time.Minute)

// NewStructureCacheConfig returns a StructureCacheConfig with uniform cache durations and TTL
// settings applied. If cacheDuration is between 1ns and 5 minutes, it will be clamped to
// 5 minutes. TTL is disabled when duration is zero.
func NewStructureCacheConfig(cacheDuration time.Duration, isCacheTTL bool) *StructureCacheConfig {
	if cacheDuration > 0 && cacheDuration < minCacheDuration {
		cacheDuration = minCacheDuration
	}
	if cacheDuration == 0 && isCacheTTL {
		isCacheTTL = false
	}
	return &StructureCacheConfig{
		StructureInfoCacheDuration: cacheDuration,
		IsStructureInfoCacheTTL:    isCacheTTL,
		ValueCacheDuration:         cacheDuration,
		IsValueCacheTTL:            isCacheTTL,
	}
}

// enforceMinimumRule applies the minimum caching policy so cache orchestration remains effective.
func (scc *StructureCacheConfig) enforceMinimumRule() {
	if scc.StructureInfoCacheDuration > 0 && scc.StructureInfoCacheDuration < minCacheDuration {
		scc.StructureInfoCacheDuration = minCacheDuration
	}
	if scc.StructureInfoCacheDuration == 0 && scc.IsStructureInfoCacheTTL {
		scc.IsStructureInfoCacheTTL = false
	}
	if scc.StructureInfoCacheDuration == 0 {
		// StructureInfo records are consulted on every commit for schema &
		// namespace checks, so they need a decent cache lifetime.
		scc.StructureInfoCacheDuration = minCacheDuration
	}

	if scc.ValueCacheDuration == 0 && scc.IsValueCacheTTL {
		scc.IsValueCacheTTL = false
	}
	if scc.ValueCacheDuration == 0 {
		// -1 means no caching; zero defaults to the minimum.
		scc.ValueCacheDuration = minCacheDuration
	}
}

// StructureInfo describes a structure's configuration persisted in the cluster
// backend; it is the descriptor Cluster.Structures returns.
type StructureInfo struct {
	// Name is the short structure name.
	Name string `json:"name" minLength:"1" maxLength:"128"`
	// NamespaceID identifies the owning namespace.
	NamespaceID UUID `json:"namespace_id"`
	// NamespaceName is the owning namespace's name.
	NamespaceName string `json:"namespace_name"`
	// Schema is the declared data shape.
	Schema Schema `json:"schema"`
	// Description optionally describes the structure.
	Description string `json:"description,omitempty" maxLength:"500"`
	// ValueValidation contains the CEL expression used to validate value writes.
	ValueValidation string `json:"value_validation,omitempty"`
	// Timestamp is the add/update time in milliseconds.
	Timestamp int64 `json:"timestamp"`
	// CacheConfig overrides global cache settings per structure.
	CacheConfig StructureCacheConfig `json:"cache_config"`
}

// NewStructureInfo creates and normalizes a StructureInfo from a finalized
// Structure, applying the default cache policy when none is set.
func NewStructureInfo(st *Structure, cacheConfig *StructureCacheConfig) StructureInfo {
	if cacheConfig == nil {
		cacheConfig = NewStructureCacheConfig(minCacheDuration, true)
	}
	cacheConfig.enforceMinimumRule()
	return StructureInfo{
		Name:            st.Name,
		NamespaceID:     st.NamespaceID,
		NamespaceName:   st.NamespaceName,
		Schema:          st.Schema,
		Description:     st.Description,
		ValueValidation: st.ValueValidation,
		Timestamp:       time.Now().UnixMilli(),
		CacheConfig:     *cacheConfig,
	}
}

// IsEmpty reports whether the StructureInfo has zero identity; an empty
// StructureInfo means the structure does not yet exist in the backend.
func (s StructureInfo) IsEmpty() bool {
	return s.Name == "" && s.NamespaceID.IsNil()
}

// IsCompatible reports whether two StructureInfo configurations describe the
// same structure shape, i.e. a commit built from one can run against the other.
func (s StructureInfo) IsCompatible(b StructureInfo) bool {
	return s.Name == b.Name &&
		s.NamespaceID == b.NamespaceID &&
		s.Schema.Equal(b.Schema) &&
		s.ValueValidation == b.ValueValidation
}
