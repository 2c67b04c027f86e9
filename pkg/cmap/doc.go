// Package cmap provides a string-keyed map split into independently locked
// shards.
//
// It backs the volatile storage engine. Range walks shards one at a time,
// so it sees a consistent view of each shard but not of the whole map.
//
// @design DS-0106
package cmap
