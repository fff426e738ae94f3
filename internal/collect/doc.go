// Package collect gathers key versions from every owner of a partition.
//
// A batch collection scans one page of keys on each owner and reduces the
// pages to a common key range, reporting keys whose owners disagree. A
// recheck collection reads the current versions of specific keys. Both fan
// out to all owners in parallel and fail as a whole if any owner fails.
package collect
