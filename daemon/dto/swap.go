package dto

// SwapfileIntent is the declared desired state of the on-disk swapfile
// (spec.md 3/4.K): `{enabled, path, size, priority, config:{...}}`.
type SwapfileIntent struct {
	Enabled   bool        `json:"enabled"`
	Path      string      `json:"path"`
	SizeBytes uint64      `json:"size"`
	Priority  int         `json:"priority"`
	Config    ZswapIntent `json:"config"`
}

// ZswapIntent is the declared desired state of the kernel zswap module
// (spec.md 4.K): `{zswap, shrinker, max_pool_percent, compressor,
// accept_threshold_percent}`.
type ZswapIntent struct {
	Enabled                bool   `json:"zswap"`
	Shrinker               bool   `json:"shrinker"`
	MaxPoolPercent          int    `json:"max_pool_percent"`
	Compressor             string `json:"compressor"` // e.g. lz4, zstd
	AcceptThresholdPercent int    `json:"accept_threshold_percent"`
}

// SwapConfigFile is the on-disk, atomically-written swap/zswap intent
// (spec.md 6).
type SwapConfigFile struct {
	Version  int            `json:"version"`
	Swapfile SwapfileIntent `json:"swapfile"`
}
