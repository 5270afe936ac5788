package store

// Storage prefices
const (
	LatestSnapshotKey = "bl-latest"
	RootPrefix        = "rh-"
)
