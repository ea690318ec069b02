// Package cache implements the filesystem response cache shared by every worker on a host.
// Each key maps to a metadata file (<name>.meta.json) plus a payload file
// (<name>.cache.json or <name>.cache.bin) inside one directory; writers hold lockfile
// markers for both paths and place files with temp file + rename, readers treat any
// contention or inconsistency as a miss. View wraps producers with read-through semantics
// and Invalidate/Client.Flush evict keys after mutations.
package cache
