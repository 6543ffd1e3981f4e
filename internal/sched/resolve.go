package sched

// resolveUpsert decides whether an incoming write may apply over the stored
// row and returns the version the row takes if it does. The server is the
// only party that increments versions.
//
// A nil suppliedVersion on an existing row means unconditional overwrite
// with a bump; conflicts are reserved for explicit version mismatches. A
// supplied version must equal the stored version exactly, and supplying a
// version for a row that does not exist is itself a mismatch (the row the
// client believes it is updating is gone).
func resolveUpsert(currentVersion int64, exists bool, suppliedVersion *int64) (int64, bool) {
	if !exists {
		if suppliedVersion != nil {
			return 0, false
		}
		return 1, true
	}
	if suppliedVersion != nil && *suppliedVersion != currentVersion {
		return 0, false
	}
	next := currentVersion + 1
	if next <= 0 {
		next = 1
	}
	return next, true
}
